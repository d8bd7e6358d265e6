package stores

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/oarkflow/rowguard"
	"github.com/oarkflow/squealx"
)

//go:embed sql_migrations.sql
var migrationsSQL string

// Migrate creates the audit tables.
func Migrate(db *squealx.DB) error {
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// CreateTableSQL renders a CREATE TABLE statement for a table schema,
// followed by one CREATE INDEX per indexed field. Logical field types map to
// portable SQL column types.
func CreateTableSQL(t *rowguard.TableSchema) []string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(t.Name))
	b.WriteString(" (")
	for i, f := range t.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(f.Name))
		b.WriteByte(' ')
		b.WriteString(columnType(f.Type))
		if f.Name == "id" {
			b.WriteString(" PRIMARY KEY")
		} else if f.Required {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")

	stmts := []string{b.String()}
	for _, f := range t.Fields {
		if !f.Indexed || f.Name == "id" {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent("idx_"+t.Name+"_"+f.Name), quoteIdent(t.Name), quoteIdent(f.Name)))
	}
	return stmts
}

// EnsureTables creates the storage tables for every schema in the set.
func EnsureTables(db *squealx.DB, tables ...*rowguard.TableSchema) error {
	ctx := context.Background()
	for _, t := range tables {
		for _, stmt := range CreateTableSQL(t) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

func columnType(logical string) string {
	switch logical {
	case "number":
		return "NUMERIC"
	case "bool":
		return "INTEGER"
	case "timestamp":
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
