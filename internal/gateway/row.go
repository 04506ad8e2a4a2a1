package gateway

import (
	"reflect"
	"strconv"
	"time"
)

// Row is one table row keyed by column name. Expanded relations are stored
// under their Expand.Name as Row or []Row.
type Row map[string]any

// Clone deep-copies r including expanded relations.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		switch t := v.(type) {
		case Row:
			out[k] = t.Clone()
		case []Row:
			rows := make([]Row, len(t))
			for i := range t {
				rows[i] = t[i].Clone()
			}
			out[k] = rows
		default:
			out[k] = v
		}
	}
	return out
}

// Int64 reads an integer column. Numeric strings are accepted.
func (r Row) Int64(col string) (int64, bool) {
	switch v := Normalize(r[col]).(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// String reads a text column; absent and NULL read as "".
func (r Row) String(col string) string {
	switch v := Normalize(r[col]).(type) {
	case string:
		return v
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// Bool reads a boolean column. Integer encodings (sqlite) are accepted.
func (r Row) Bool(col string) bool {
	switch v := Normalize(r[col]).(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02",
}

// Time reads a timestamp column stored as time.Time or as text.
func (r Row) Time(col string) (time.Time, bool) {
	switch v := r[col].(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	case []byte:
		return Row{col: string(v)}.Time(col)
	}
	return time.Time{}, false
}

// IsNull reports whether col is absent or NULL.
func (r Row) IsNull(col string) bool {
	return Normalize(r[col]) == nil
}

// One returns the single related row expanded under name.
func (r Row) One(name string) (Row, bool) {
	v, ok := r[name].(Row)
	return v, ok && v != nil
}

// Many returns the related rows expanded under name.
func (r Row) Many(name string) []Row {
	v, _ := r[name].([]Row)
	return v
}

// Normalize maps driver and caller values onto a small set of comparable types:
// int64, float64, string, bool, time.Time and nil. Named types (typed ids) are
// reduced to their underlying kind; pointers are dereferenced.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int64, float64, string, bool, time.Time:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case []byte:
		return string(t)
	case Row, []Row:
		return t
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return v
}
