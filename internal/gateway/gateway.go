// Package gateway defines the capability the portal consumes from the hosted
// relational backend: filtered queries with nested relationship expansion,
// single-row fetch, insert, update, delete and per-table change subscriptions.
//
// Implementations live in subpackages (memory, sqlgw). Instrument wraps any
// implementation with per-call timeouts, tracing and metrics.
package gateway

import (
	"context"
)

// Table names a backend table.
type Table string

const (
	TableRequester   Table = "requester"
	TableStatus      Table = "status"
	TableCertificate Table = "birthcertificate"
	TableOwner       Table = "owner"
	TableParent      Table = "parent"
	TableAddress     Table = "address"
	TableUsers       Table = "users"
)

var primaryKeys = map[Table]string{
	TableRequester:   "req_id",
	TableStatus:      "status_id",
	TableCertificate: "bc_id",
	TableOwner:       "owner_id",
	TableParent:      "parent_id",
	TableAddress:     "address_id",
	TableUsers:       "user_id",
}

// PrimaryKey returns the key column of t, or "" for unknown tables.
func PrimaryKey(t Table) string {
	return primaryKeys[t]
}

// Valid reports whether t is one of the known tables.
func (t Table) Valid() bool {
	_, ok := primaryKeys[t]
	return ok
}

// Tables lists every known table.
func Tables() []Table {
	return []Table{TableUsers, TableParent, TableAddress, TableOwner, TableRequester, TableStatus, TableCertificate}
}

// DeleteAction is the referential action applied when a referenced row is deleted.
type DeleteAction int

const (
	SetNull DeleteAction = iota
	Cascade
)

// ForeignKey describes a reference from Table.Column to RefTable's primary key.
type ForeignKey struct {
	Table    Table
	Column   string
	RefTable Table
	OnDelete DeleteAction
}

// ForeignKeys is the relational shape shared by every implementation.
// Owner/parent/address references are nulled so sub-deletes can run in any order.
var ForeignKeys = []ForeignKey{
	{Table: TableRequester, Column: "owner_id", RefTable: TableOwner, OnDelete: SetNull},
	{Table: TableOwner, Column: "parent_id", RefTable: TableParent, OnDelete: SetNull},
	{Table: TableOwner, Column: "address_id", RefTable: TableAddress, OnDelete: SetNull},
	{Table: TableStatus, Column: "req_id", RefTable: TableRequester, OnDelete: Cascade},
	{Table: TableCertificate, Column: "req_id", RefTable: TableRequester, OnDelete: Cascade},
}

// Order sorts results by Column.
type Order struct {
	Column string
	Desc   bool
}

func Asc(column string) Order  { return Order{Column: column} }
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Expand attaches related rows to each result row under Name.
// Related rows are those in Table whose ForeignKey equals the parent's LocalKey.
// Many attaches a []Row (possibly empty); otherwise a single Row or nil.
type Expand struct {
	Name       string
	Table      Table
	LocalKey   string
	ForeignKey string
	Many       bool
	Order      []Order
	Expand     []Expand
}

// Query selects rows from one table.
type Query struct {
	Filters []Filter
	Order   []Order
	// Limit caps the number of rows; zero means no limit.
	Limit  int
	Expand []Expand
}

// Where builds a Query from filters.
func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

// EventType tags a change notification.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Change is a row-level change pushed by the backend.
// For deletes Row holds the removed row; Old is set for updates and deletes when known.
type Change struct {
	Table Table
	Type  EventType
	Row   Row
	Old   Row
}

// Subscription is a live change stream for one table. Changes are delivered in
// the order the backend emitted them. The channel is closed after Close or when
// the context passed to Subscribe is done.
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

// Gateway is the remote data capability. Every call is a suspension point and
// honors ctx cancellation.
type Gateway interface {
	Select(ctx context.Context, table Table, q Query) ([]Row, error)
	// SelectOne returns the first row of q or sentinel.ErrNotFound.
	SelectOne(ctx context.Context, table Table, q Query) (Row, error)
	// Insert stores row and returns it with server-assigned columns filled in.
	Insert(ctx context.Context, table Table, row Row) (Row, error)
	// Update applies patch to every row matching match and returns the first
	// updated row, or sentinel.ErrNotFound when nothing matched.
	Update(ctx context.Context, table Table, match []Filter, patch Row) (Row, error)
	// Delete removes every row matching match. Removing nothing is not an error.
	Delete(ctx context.Context, table Table, match []Filter) error
	Subscribe(ctx context.Context, table Table, match []Filter) (Subscription, error)
}
