package sqlgw

import "strconv"

// Dialect captures the SQL differences between supported backends.
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver registered for the dialect.
	DriverName() string
	Placeholder(n int) string
	// ILike is the case-insensitive LIKE operator.
	ILike() string
	schemaFile() string
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) DriverName() string       { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) ILike() string            { return "ILIKE" }
func (postgresDialect) schemaFile() string       { return "schema/postgres.sql" }

// SQLite's LIKE is already case-insensitive for ASCII.
type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) DriverName() string     { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) ILike() string          { return "LIKE" }
func (sqliteDialect) schemaFile() string     { return "schema/sqlite.sql" }

var (
	Postgres Dialect = postgresDialect{}
	SQLite   Dialect = sqliteDialect{}
)

// DialectFor returns the dialect for a config driver name.
func DialectFor(driver string) (Dialect, bool) {
	switch driver {
	case "postgres":
		return Postgres, true
	case "sqlite":
		return SQLite, true
	}
	return nil, false
}
