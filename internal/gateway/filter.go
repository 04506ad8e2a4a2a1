package gateway

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Op is a filter predicate.
type Op string

const (
	OpEq     Op = "eq"
	OpILike  Op = "ilike"
	OpGte    Op = "gte"
	OpLte    Op = "lte"
	OpIn     Op = "in"
	OpIsNull Op = "is_null"
)

// Filter restricts rows by one column.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq matches rows whose column equals v. A nil v matches NULL.
func Eq(column string, v any) Filter { return Filter{Column: column, Op: OpEq, Value: v} }

// ILike matches a case-insensitive pattern where % is any run and _ any single character.
func ILike(column, pattern string) Filter { return Filter{Column: column, Op: OpILike, Value: pattern} }

func Gte(column string, v any) Filter { return Filter{Column: column, Op: OpGte, Value: v} }
func Lte(column string, v any) Filter { return Filter{Column: column, Op: OpLte, Value: v} }

// In matches rows whose column is one of values. An empty set matches nothing.
func In(column string, values ...any) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

func IsNull(column string) Filter { return Filter{Column: column, Op: OpIsNull} }

// Contains builds an ILike filter matching s anywhere in the column.
func Contains(column, s string) Filter {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return ILike(column, "%"+r.Replace(s)+"%")
}

// Matches reports whether r satisfies f.
func (f Filter) Matches(r Row) bool {
	v := Normalize(r[f.Column])
	switch f.Op {
	case OpEq:
		want := Normalize(f.Value)
		if want == nil {
			return v == nil
		}
		c, ok := Compare(v, want)
		return ok && c == 0
	case OpIsNull:
		return v == nil
	case OpGte, OpLte:
		c, ok := Compare(v, Normalize(f.Value))
		if !ok {
			return false
		}
		if f.Op == OpGte {
			return c >= 0
		}
		return c <= 0
	case OpIn:
		values, _ := f.Value.([]any)
		for _, want := range values {
			if c, ok := Compare(v, Normalize(want)); ok && c == 0 {
				return true
			}
		}
		return false
	case OpILike:
		s, ok := v.(string)
		if !ok {
			return false
		}
		pattern, _ := f.Value.(string)
		return likeRegexp(pattern).MatchString(s)
	}
	return false
}

// MatchAll reports whether r satisfies every filter.
func MatchAll(filters []Filter, r Row) bool {
	for _, f := range filters {
		if !f.Matches(r) {
			return false
		}
	}
	return true
}

func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?is)^`)
	escaped := false
	for _, ch := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(ch)))
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '%':
			b.WriteString(`.*`)
		case ch == '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString(`$`)
	return regexp.MustCompile(b.String())
}

// Compare orders two normalized values. ok is false when the values are not
// comparable (different kinds, or either is nil).
func Compare(a, b any) (c int, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y), true
		case int64:
			return cmpOrdered(x, float64(y)), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
		if y, ok := b.(time.Time); ok {
			if t, parsed := (Row{"v": x}).Time("v"); parsed {
				return t.Compare(y), true
			}
		}
	case time.Time:
		switch y := b.(type) {
		case time.Time:
			return x.Compare(y), true
		case string:
			if t, parsed := (Row{"v": y}).Time("v"); parsed {
				return x.Compare(t), true
			}
		}
	case bool:
		if y, ok := b.(bool); ok {
			if x == y {
				return 0, true
			}
			if !x {
				return -1, true
			}
			return 1, true
		}
		if y, ok := b.(int64); ok {
			return Compare(boolInt(x), y)
		}
	}
	if y, ok := b.(bool); ok {
		if x, isInt := a.(int64); isInt {
			return Compare(x, boolInt(y))
		}
	}
	return 0, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortRows orders rows in place. NULLs sort last ascending and first descending.
func SortRows(rows []Row, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, b := Normalize(rows[i][o.Column]), Normalize(rows[j][o.Column])
			var c int
			switch {
			case a == nil && b == nil:
				c = 0
			case a == nil:
				c = 1
			case b == nil:
				c = -1
			default:
				c, _ = Compare(a, b)
			}
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}
