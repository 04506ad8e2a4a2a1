// Package sqlgw implements gateway.Gateway over database/sql. Postgres (lib/pq)
// is the production backend; SQLite (modernc) backs local runs and tests.
package sqlgw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"civreg/internal/gateway"
	"civreg/pkg/platform/sentinel"
)

// Gateway runs gateway operations as SQL statements.
type Gateway struct {
	db      *sql.DB
	dialect Dialect
	feed    *gateway.Feed
	logger  *slog.Logger

	// localFeed publishes changes made through this gateway. It is off when a
	// NOTIFY listener feeds the same changes from the database.
	localFeed bool
	listener  *Listener
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Gateway {
	g := &Gateway{
		db:        db,
		dialect:   dialect,
		feed:      gateway.NewFeed(),
		logger:    slog.Default(),
		localFeed: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open connects with the dialect's driver and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Gateway, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}
	if dialect == SQLite {
		// One connection keeps in-memory databases and write ordering consistent.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}
	return New(db, dialect, opts...), nil
}

// ListenNotify switches the change feed to postgres NOTIFY on the channel
// written by the schema triggers, so changes made by other clients arrive too.
func (g *Gateway) ListenNotify(dsn string) error {
	if g.dialect != Postgres {
		return errors.New("listen/notify requires postgres")
	}
	l, err := NewListener(dsn, g.feed, g.logger)
	if err != nil {
		return err
	}
	g.listener = l
	g.localFeed = false
	return nil
}

// DB exposes the underlying handle.
func (g *Gateway) DB() *sql.DB {
	return g.db
}

// Close stops the listener, ends subscriptions and closes the database.
func (g *Gateway) Close() error {
	if g.listener != nil {
		_ = g.listener.Close()
	}
	g.feed.Close()
	return g.db.Close()
}

func (g *Gateway) Select(ctx context.Context, table gateway.Table, q gateway.Query) ([]gateway.Row, error) {
	b, err := buildSelect(g.dialect, table, q)
	if err != nil {
		return nil, err
	}
	rows, err := g.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	for _, e := range q.Expand {
		if err := g.expand(ctx, rows, e); err != nil {
			return nil, fmt.Errorf("expand %s.%s: %w", table, e.Name, err)
		}
	}
	return rows, nil
}

func (g *Gateway) SelectOne(ctx context.Context, table gateway.Table, q gateway.Query) (gateway.Row, error) {
	q.Limit = 1
	rows, err := g.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", table, sentinel.ErrNotFound)
	}
	return rows[0], nil
}

func (g *Gateway) Insert(ctx context.Context, table gateway.Table, row gateway.Row) (gateway.Row, error) {
	b, err := buildInsert(g.dialect, table, row)
	if err != nil {
		return nil, err
	}
	rows, err := g.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	g.publish(table, gateway.EventInsert, rows)
	return rows[0], nil
}

func (g *Gateway) Update(ctx context.Context, table gateway.Table, match []gateway.Filter, patch gateway.Row) (gateway.Row, error) {
	b, err := buildUpdate(g.dialect, table, match, patch)
	if err != nil {
		return nil, err
	}
	rows, err := g.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update %s: %w", table, sentinel.ErrNotFound)
	}
	g.publish(table, gateway.EventUpdate, rows)
	return rows[0], nil
}

func (g *Gateway) Delete(ctx context.Context, table gateway.Table, match []gateway.Filter) error {
	b, err := buildDelete(g.dialect, table, match)
	if err != nil {
		return err
	}
	rows, err := g.query(ctx, b)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	g.publish(table, gateway.EventDelete, rows)
	return nil
}

func (g *Gateway) Subscribe(ctx context.Context, table gateway.Table, match []gateway.Filter) (gateway.Subscription, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("subscribe: unknown table %q", table)
	}
	return g.feed.Subscribe(ctx, table, match)
}

func (g *Gateway) publish(table gateway.Table, typ gateway.EventType, rows []gateway.Row) {
	if !g.localFeed || len(rows) == 0 {
		return
	}
	changes := make([]gateway.Change, len(rows))
	for i, r := range rows {
		changes[i] = gateway.Change{Table: table, Type: typ, Row: r}
		if typ == gateway.EventDelete {
			changes[i].Old = r
		}
	}
	g.feed.Publish(changes...)
}

func (g *Gateway) query(ctx context.Context, b *builder) ([]gateway.Row, error) {
	rows, err := g.db.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}

func scanRows(rows *sql.Rows) ([]gateway.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []gateway.Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(gateway.Row, len(cols))
		for i, c := range cols {
			r[c] = gateway.Normalize(values[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// expand loads related rows for every parent in one IN query per relation.
func (g *Gateway) expand(ctx context.Context, parents []gateway.Row, e gateway.Expand) error {
	var keys []any
	seen := make(map[string]bool)
	for _, p := range parents {
		v := gateway.Normalize(p[e.LocalKey])
		if v == nil {
			continue
		}
		k := fmt.Sprint(v)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, v)
		}
	}

	var related []gateway.Row
	if len(keys) > 0 {
		var err error
		related, err = g.Select(ctx, e.Table, gateway.Query{
			Filters: []gateway.Filter{gateway.In(e.ForeignKey, keys...)},
			Order:   e.Order,
			Expand:  e.Expand,
		})
		if err != nil {
			return err
		}
	}

	byKey := make(map[string][]gateway.Row)
	for _, r := range related {
		k := fmt.Sprint(gateway.Normalize(r[e.ForeignKey]))
		byKey[k] = append(byKey[k], r)
	}
	for _, p := range parents {
		v := gateway.Normalize(p[e.LocalKey])
		var matches []gateway.Row
		if v != nil {
			matches = byKey[fmt.Sprint(v)]
		}
		if e.Many {
			if matches == nil {
				matches = []gateway.Row{}
			}
			p[e.Name] = cloneRows(matches)
			continue
		}
		if len(matches) > 0 {
			p[e.Name] = matches[0].Clone()
		} else {
			p[e.Name] = nil
		}
	}
	return nil
}

func cloneRows(rows []gateway.Row) []gateway.Row {
	out := make([]gateway.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
