package sqlgw

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"civreg/internal/gateway"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// builder accumulates SQL text and positional arguments.
type builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

func newBuilder(d Dialect) *builder {
	return &builder{dialect: d}
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, bindValue(v))
	return b.dialect.Placeholder(len(b.args))
}

func (b *builder) String() string { return b.sb.String() }

func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

func (b *builder) where(filters []gateway.Filter) error {
	if len(filters) == 0 {
		return nil
	}
	b.write(" WHERE ")
	for i, f := range filters {
		if i > 0 {
			b.write(" AND ")
		}
		col, err := quoteIdent(f.Column)
		if err != nil {
			return err
		}
		switch f.Op {
		case gateway.OpEq:
			if gateway.Normalize(f.Value) == nil {
				b.write(col, " IS NULL")
				continue
			}
			b.write(col, " = ", b.arg(f.Value))
		case gateway.OpIsNull:
			b.write(col, " IS NULL")
		case gateway.OpGte:
			b.write(col, " >= ", b.arg(f.Value))
		case gateway.OpLte:
			b.write(col, " <= ", b.arg(f.Value))
		case gateway.OpILike:
			b.write(col, " ", b.dialect.ILike(), " ", b.arg(f.Value), ` ESCAPE '\'`)
		case gateway.OpIn:
			values, _ := f.Value.([]any)
			if len(values) == 0 {
				b.write("1 = 0")
				continue
			}
			b.write(col, " IN (")
			for j, v := range values {
				if j > 0 {
					b.write(", ")
				}
				b.write(b.arg(v))
			}
			b.write(")")
		default:
			return fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return nil
}

func (b *builder) orderBy(order []gateway.Order) error {
	if len(order) == 0 {
		return nil
	}
	b.write(" ORDER BY ")
	for i, o := range order {
		if i > 0 {
			b.write(", ")
		}
		col, err := quoteIdent(o.Column)
		if err != nil {
			return err
		}
		b.write(col)
		if o.Desc {
			b.write(" DESC")
		}
	}
	return nil
}

func buildSelect(d Dialect, table gateway.Table, q gateway.Query) (*builder, error) {
	t, err := quoteIdent(string(table))
	if err != nil {
		return nil, err
	}
	b := newBuilder(d)
	b.write("SELECT * FROM ", t)
	if err := b.where(q.Filters); err != nil {
		return nil, err
	}
	if err := b.orderBy(q.Order); err != nil {
		return nil, err
	}
	if q.Limit > 0 {
		b.write(" LIMIT ", strconv.Itoa(q.Limit))
	}
	return b, nil
}

func sortedColumns(r gateway.Row) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(d Dialect, table gateway.Table, row gateway.Row) (*builder, error) {
	t, err := quoteIdent(string(table))
	if err != nil {
		return nil, err
	}
	pk := gateway.PrimaryKey(table)
	b := newBuilder(d)
	b.write("INSERT INTO ", t)

	var cols []string
	for _, c := range sortedColumns(row) {
		if c == pk && gateway.Normalize(row[c]) == nil {
			continue
		}
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		b.write(" DEFAULT VALUES RETURNING *")
		return b, nil
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if quoted[i], err = quoteIdent(c); err != nil {
			return nil, err
		}
	}
	b.write(" (", strings.Join(quoted, ", "), ") VALUES (")
	for i, c := range cols {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.arg(row[c]))
	}
	b.write(") RETURNING *")
	return b, nil
}

func buildUpdate(d Dialect, table gateway.Table, match []gateway.Filter, patch gateway.Row) (*builder, error) {
	t, err := quoteIdent(string(table))
	if err != nil {
		return nil, err
	}
	pk := gateway.PrimaryKey(table)
	b := newBuilder(d)
	b.write("UPDATE ", t, " SET ")
	n := 0
	for _, c := range sortedColumns(patch) {
		if c == pk {
			continue
		}
		col, err := quoteIdent(c)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			b.write(", ")
		}
		b.write(col, " = ", b.arg(patch[c]))
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("update %s: empty patch", table)
	}
	if err := b.where(match); err != nil {
		return nil, err
	}
	b.write(" RETURNING *")
	return b, nil
}

func buildDelete(d Dialect, table gateway.Table, match []gateway.Filter) (*builder, error) {
	t, err := quoteIdent(string(table))
	if err != nil {
		return nil, err
	}
	b := newBuilder(d)
	b.write("DELETE FROM ", t)
	if err := b.where(match); err != nil {
		return nil, err
	}
	b.write(" RETURNING *")
	return b, nil
}

// bindValue converts typed ids and pointers to driver values.
func bindValue(v any) any {
	return gateway.Normalize(v)
}
