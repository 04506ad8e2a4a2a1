package sqlgw

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// statementSeparator splits schema files; plain ";" would break function bodies.
const statementSeparator = "\n--;\n"

// Migrate applies the dialect's schema. Statements are idempotent.
func (g *Gateway) Migrate(ctx context.Context) error {
	data, err := schemaFS.ReadFile(g.dialect.schemaFile())
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	for _, stmt := range strings.Split(string(data), statementSeparator) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", g.dialect.Name(), err)
		}
	}
	return nil
}

// Truncate removes every row, children first. Test helper.
func (g *Gateway) Truncate(ctx context.Context) error {
	for _, t := range []string{"birthcertificate", "status", "requester", "owner", "parent", "address", "users", "audit_events"} {
		if _, err := g.db.ExecContext(ctx, `DELETE FROM "`+t+`"`); err != nil {
			return fmt.Errorf("truncate %s: %w", t, err)
		}
	}
	return nil
}
