// Package memory is an in-process Gateway. It keeps the relational shape of the
// hosted backend (auto-increment keys, storage defaults, referential delete
// actions, change feed) so services can be exercised without a database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"civreg/internal/gateway"
	"civreg/pkg/platform/sentinel"
)

type table struct {
	rows   []gateway.Row
	nextID int64
}

// Fault decides whether a call should fail. Returning nil lets the call proceed.
type Fault func(op string, table gateway.Table) error

// Gateway stores rows in memory, guarded by a RWMutex.
type Gateway struct {
	mu     sync.RWMutex
	tables map[gateway.Table]*table
	feed   *gateway.Feed
	now    func() time.Time

	faultMu sync.RWMutex
	fault   Fault
}

type Option func(*Gateway)

// WithClock overrides the clock used for storage defaults.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates an empty gateway with every known table.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		tables: make(map[gateway.Table]*table),
		feed:   gateway.NewFeed(),
		now:    time.Now,
	}
	for _, t := range gateway.Tables() {
		g.tables[t] = &table{nextID: 1}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetFault installs f for every subsequent call; nil clears it.
func (g *Gateway) SetFault(f Fault) {
	g.faultMu.Lock()
	defer g.faultMu.Unlock()
	g.fault = f
}

// FailOn returns a Fault failing op on t with err.
func FailOn(op string, t gateway.Table, err error) Fault {
	return func(o string, tt gateway.Table) error {
		if o == op && tt == t {
			return err
		}
		return nil
	}
}

// Close ends every subscription.
func (g *Gateway) Close() {
	g.feed.Close()
}

func (g *Gateway) check(ctx context.Context, op string, t gateway.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("%s: unknown table %q", op, t)
	}
	g.faultMu.RLock()
	f := g.fault
	g.faultMu.RUnlock()
	if f != nil {
		if err := f(op, t); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) Select(ctx context.Context, t gateway.Table, q gateway.Query) ([]gateway.Row, error) {
	if err := g.check(ctx, "select", t); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selectLocked(t, q), nil
}

func (g *Gateway) SelectOne(ctx context.Context, t gateway.Table, q gateway.Query) (gateway.Row, error) {
	if err := g.check(ctx, "select_one", t); err != nil {
		return nil, err
	}
	q.Limit = 1
	g.mu.RLock()
	defer g.mu.RUnlock()
	rows := g.selectLocked(t, q)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", t, sentinel.ErrNotFound)
	}
	return rows[0], nil
}

func (g *Gateway) selectLocked(t gateway.Table, q gateway.Query) []gateway.Row {
	var out []gateway.Row
	for _, r := range g.tables[t].rows {
		if gateway.MatchAll(q.Filters, r) {
			out = append(out, r.Clone())
		}
	}
	gateway.SortRows(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for _, e := range q.Expand {
		g.expandLocked(out, e)
	}
	if out == nil {
		out = []gateway.Row{}
	}
	return out
}

func (g *Gateway) expandLocked(rows []gateway.Row, e gateway.Expand) {
	for _, parent := range rows {
		local := gateway.Normalize(parent[e.LocalKey])
		var related []gateway.Row
		if local != nil {
			related = g.selectLocked(e.Table, gateway.Query{
				Filters: []gateway.Filter{gateway.Eq(e.ForeignKey, local)},
				Order:   e.Order,
				Expand:  e.Expand,
			})
		}
		if e.Many {
			if related == nil {
				related = []gateway.Row{}
			}
			parent[e.Name] = related
			continue
		}
		if len(related) > 0 {
			parent[e.Name] = related[0]
		} else {
			parent[e.Name] = nil
		}
	}
}

func (g *Gateway) Insert(ctx context.Context, t gateway.Table, row gateway.Row) (gateway.Row, error) {
	if err := g.check(ctx, "insert", t); err != nil {
		return nil, err
	}
	stored := normalizeRow(row)
	pk := gateway.PrimaryKey(t)

	g.mu.Lock()
	tbl := g.tables[t]
	if stored[pk] == nil {
		if t == gateway.TableUsers {
			g.mu.Unlock()
			return nil, fmt.Errorf("insert %s: %s is required", t, pk)
		}
		stored[pk] = tbl.nextID
		tbl.nextID++
	} else {
		for _, existing := range tbl.rows {
			if c, ok := gateway.Compare(existing[pk], stored[pk]); ok && c == 0 {
				g.mu.Unlock()
				return nil, fmt.Errorf("insert %s: duplicate %s: %w", t, pk, sentinel.ErrConflict)
			}
		}
		if id, ok := stored[pk].(int64); ok && id >= tbl.nextID {
			tbl.nextID = id + 1
		}
	}
	g.applyDefaults(t, stored)
	tbl.rows = append(tbl.rows, stored)
	out := stored.Clone()
	g.mu.Unlock()

	g.feed.Publish(gateway.Change{Table: t, Type: gateway.EventInsert, Row: out})
	return out.Clone(), nil
}

func (g *Gateway) applyDefaults(t gateway.Table, r gateway.Row) {
	setDefault := func(col string, v any) {
		if _, ok := r[col]; !ok {
			r[col] = v
		}
	}
	switch t {
	case gateway.TableRequester:
		setDefault("is_draft", true)
		setDefault("created_at", g.now())
		setDefault("owner_id", nil)
		setDefault("cert_number", nil)
	case gateway.TableStatus:
		setDefault("updated_at", g.now())
	case gateway.TableUsers:
		setDefault("role", "user")
		setDefault("created_at", g.now())
	case gateway.TableOwner:
		setDefault("parent_id", nil)
		setDefault("address_id", nil)
	}
}

func (g *Gateway) Update(ctx context.Context, t gateway.Table, match []gateway.Filter, patch gateway.Row) (gateway.Row, error) {
	if err := g.check(ctx, "update", t); err != nil {
		return nil, err
	}
	values := normalizeRow(patch)
	delete(values, gateway.PrimaryKey(t))

	g.mu.Lock()
	var changes []gateway.Change
	for _, r := range g.tables[t].rows {
		if !gateway.MatchAll(match, r) {
			continue
		}
		old := r.Clone()
		for k, v := range values {
			r[k] = v
		}
		changes = append(changes, gateway.Change{Table: t, Type: gateway.EventUpdate, Row: r.Clone(), Old: old})
	}
	g.mu.Unlock()

	if len(changes) == 0 {
		return nil, fmt.Errorf("update %s: %w", t, sentinel.ErrNotFound)
	}
	g.feed.Publish(changes...)
	return changes[0].Row.Clone(), nil
}

func (g *Gateway) Delete(ctx context.Context, t gateway.Table, match []gateway.Filter) error {
	if err := g.check(ctx, "delete", t); err != nil {
		return err
	}
	g.mu.Lock()
	changes := g.deleteLocked(t, match)
	g.mu.Unlock()

	g.feed.Publish(changes...)
	return nil
}

// deleteLocked removes matching rows and applies referential actions.
func (g *Gateway) deleteLocked(t gateway.Table, match []gateway.Filter) []gateway.Change {
	tbl := g.tables[t]
	pk := gateway.PrimaryKey(t)
	var (
		kept    []gateway.Row
		removed []any
		changes []gateway.Change
	)
	for _, r := range tbl.rows {
		if gateway.MatchAll(match, r) {
			removed = append(removed, r[pk])
			changes = append(changes, gateway.Change{Table: t, Type: gateway.EventDelete, Row: r.Clone(), Old: r.Clone()})
			continue
		}
		kept = append(kept, r)
	}
	tbl.rows = kept
	if len(removed) == 0 {
		return nil
	}

	for _, fk := range gateway.ForeignKeys {
		if fk.RefTable != t {
			continue
		}
		ref := gateway.In(fk.Column, removed...)
		switch fk.OnDelete {
		case gateway.Cascade:
			changes = append(changes, g.deleteLocked(fk.Table, []gateway.Filter{ref})...)
		case gateway.SetNull:
			for _, r := range g.tables[fk.Table].rows {
				if ref.Matches(r) {
					old := r.Clone()
					r[fk.Column] = nil
					changes = append(changes, gateway.Change{Table: fk.Table, Type: gateway.EventUpdate, Row: r.Clone(), Old: old})
				}
			}
		}
	}
	return changes
}

func (g *Gateway) Subscribe(ctx context.Context, t gateway.Table, match []gateway.Filter) (gateway.Subscription, error) {
	if err := g.check(ctx, "subscribe", t); err != nil {
		return nil, err
	}
	return g.feed.Subscribe(ctx, t, match)
}

// Count returns the number of rows in t. Test helper.
func (g *Gateway) Count(t gateway.Table) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tables[t].rows)
}

func normalizeRow(r gateway.Row) gateway.Row {
	out := make(gateway.Row, len(r))
	for k, v := range r {
		out[k] = gateway.Normalize(v)
	}
	return out
}
