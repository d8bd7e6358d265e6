package stores

import (
	"context"
	"sort"
	"strings"

	"github.com/oarkflow/rowguard"
	"github.com/oarkflow/squealx"
)

// SQLRowStore executes engine queries against a squealx database. The
// compiled filter's WHERE fragment is spliced into the statement verbatim
// and its session values are bound as named parameters, so row restriction
// happens inside the database.
type SQLRowStore struct {
	db *squealx.DB
}

func NewSQLRowStore(db *squealx.DB) (*SQLRowStore, error) {
	return &SQLRowStore{db: db}, nil
}

func (s *SQLRowStore) Select(ctx context.Context, table string, columns []string, filter *rowguard.RowFilter) ([]rowguard.Row, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(columns) == 0 {
		// nothing readable; still honor row count semantics
		b.WriteString("1")
	} else {
		for i, col := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(col))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(table))
	params := map[string]any{}
	if !filter.Unrestricted() {
		b.WriteString(" WHERE ")
		b.WriteString(filter.Where)
		for k, v := range filter.Args {
			params[k] = v
		}
	}

	r, err := s.db.NamedQueryContext(ctx, b.String(), params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]rowguard.Row, 0)
	for r.Next() {
		row := rowguard.Row{}
		if err := r.MapScan(row); err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			out = append(out, rowguard.Row{})
			continue
		}
		out = append(out, normalizeRow(row))
	}
	return out, nil
}

func (s *SQLRowStore) Insert(ctx context.Context, table string, row rowguard.Row) error {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(col))
	}
	b.WriteString(") VALUES (")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte(':')
		b.WriteString(col)
	}
	b.WriteString(")")

	_, err := s.db.NamedExecContext(ctx, b.String(), map[string]any(row))
	return err
}

func (s *SQLRowStore) Update(ctx context.Context, table string, changes rowguard.Row, filter *rowguard.RowFilter) (int64, error) {
	cols := make([]string, 0, len(changes))
	for col := range changes {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	// SET parameters get a prefix so they can never collide with the
	// filter's session bindings
	params := map[string]any{}
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" SET ")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(col))
		b.WriteString(" = :set_")
		b.WriteString(col)
		params["set_"+col] = changes[col]
	}
	if !filter.Unrestricted() {
		b.WriteString(" WHERE ")
		b.WriteString(filter.Where)
		for k, v := range filter.Args {
			params[k] = v
		}
	}

	res, err := s.db.NamedExecContext(ctx, b.String(), params)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLRowStore) Delete(ctx context.Context, table string, filter *rowguard.RowFilter) (int64, error) {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(quoteIdent(table))
	params := map[string]any{}
	if !filter.Unrestricted() {
		b.WriteString(" WHERE ")
		b.WriteString(filter.Where)
		for k, v := range filter.Args {
			params[k] = v
		}
	}

	res, err := s.db.NamedExecContext(ctx, b.String(), params)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// normalizeRow converts driver byte slices to strings so condition
// evaluation and JSON encoding see plain values.
func normalizeRow(row rowguard.Row) rowguard.Row {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}
