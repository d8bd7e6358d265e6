package rowguard

// ============================================================================
// ROW / FIELD FILTER
// ============================================================================

// RowFilter is the per-request storage restriction derived from a compiled
// policy and the caller's session: a WHERE fragment with its resolved named
// arguments for SQL stores, and the retained expression tree for in-memory
// stores. A nil or empty filter means the action is unrestricted.
type RowFilter struct {
	Where string
	Args  map[string]any
	expr  Expr
}

// Unrestricted reports whether the filter imposes no row restriction.
func (f *RowFilter) Unrestricted() bool {
	return f == nil || f.Where == ""
}

// Matches evaluates the filter against one row. Used by memory stores and by
// create-time row checks; SQL stores push Where/Args into the query instead.
// Comparisons are exact: a string never matches a non-string column.
func (f *RowFilter) Matches(row Row) (bool, error) {
	if f.Unrestricted() {
		return true, nil
	}
	return evalExpr(f.expr, row, f.Args)
}

// collectPlaceholders walks the tree and records every session binding.
func collectPlaceholders(e Expr, params map[string]string) {
	switch v := e.(type) {
	case *Comparison:
		if p, ok := v.Left.(Placeholder); ok {
			params[p.bindingName()] = p.Property
		}
		if p, ok := v.Right.(Placeholder); ok {
			params[p.bindingName()] = p.Property
		}
	case *BooleanCombination:
		collectPlaceholders(v.Left, params)
		collectPlaceholders(v.Right, params)
	}
}

// RowFilter resolves the compiled policy for one table/action against a
// session. Missing session properties resolve to nil, which can never
// compare equal, mirroring SQL NULL semantics.
func (s *PolicySet) RowFilter(table string, action Action, sess Session) *RowFilter {
	tp, ok := s.tables[table]
	if !ok {
		return nil
	}
	cp := tp.row[action]
	if cp == nil {
		return nil
	}
	args := make(map[string]any, len(cp.Bindings))
	for binding, prop := range cp.params {
		if prop == "" {
			if SessionAuthenticated(sess) {
				args[binding] = sess.UserID()
			} else {
				args[binding] = nil
			}
			continue
		}
		if sess != nil {
			if v, ok := sess.Property(prop); ok {
				args[binding] = v
				continue
			}
		}
		args[binding] = nil
	}
	return &RowFilter{Where: cp.WhereSQL, Args: args, expr: cp.expr}
}

// ReadableColumns returns the columns the session may read, in declaration
// order. Columns behind an unsatisfied field-level read rule are left out
// entirely: response rows simply lack the key, they are not null-masked.
func (s *PolicySet) ReadableColumns(table string, sess Session) []string {
	tp, ok := s.tables[table]
	if !ok {
		return nil
	}
	cols := make([]string, 0, len(tp.schema.Fields))
	for _, f := range tp.schema.Fields {
		if rule, restricted := tp.fieldRead[f.Name]; restricted && !ruleSatisfied(rule, sess) {
			continue
		}
		cols = append(cols, f.Name)
	}
	return cols
}

// CheckWrite rejects the whole payload when it sets any column the session
// cannot write. No partial writes: one forbidden column fails everything.
func (s *PolicySet) CheckWrite(table string, sess Session, row Row) error {
	tp, ok := s.tables[table]
	if !ok {
		return &DeniedError{Table: table, Reason: "unknown table"}
	}
	for _, f := range tp.schema.Fields {
		if _, present := row[f.Name]; !present {
			continue
		}
		if rule, restricted := tp.fieldWrite[f.Name]; restricted && !ruleSatisfied(rule, sess) {
			return &FieldWriteError{Table: table, Field: f.Name}
		}
	}
	return nil
}

// MaskRows rebuilds rows keeping only the allowed columns. The input rows
// are never mutated; stores may return shared maps.
func MaskRows(rows []Row, allowed []string) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		masked := make(Row, len(allowed))
		for _, col := range allowed {
			if v, ok := row[col]; ok {
				masked[col] = v
			}
		}
		out = append(out, masked)
	}
	return out
}
