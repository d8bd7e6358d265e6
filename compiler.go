package rowguard

import (
	"sort"
	"strconv"
	"strings"

	"github.com/oarkflow/rowguard/utils"
)

// ============================================================================
// POLICY COMPILER
// ============================================================================

// CompiledPolicy is the installed storage-layer artifact for one
// table/action: a parameterized WHERE fragment over row columns plus the
// named session bindings it references. Compiling the same schema twice
// yields byte-identical WhereSQL, so a reload never produces spurious diffs.
type CompiledPolicy struct {
	Table    string
	Action   Action
	WhereSQL string
	Bindings []string // binding names in first-use order
	expr     Expr     // retained for in-memory evaluation
	// params maps binding name to the session property it resolves from;
	// the empty property is the principal id
	params map[string]string
}

// PatternPermissions scopes a set of default permissions to tables whose
// name matches a wildcard pattern ("doc*", "*").
type PatternPermissions struct {
	Pattern     string           `json:"pattern" yaml:"pattern"`
	Permissions TablePermissions `json:"permissions" yaml:"permissions"`
}

// PolicySet is one immutable compiled snapshot of a whole workspace schema.
// The engine swaps whole snapshots atomically; nothing in a PolicySet is
// mutated after CompileSchema returns.
type PolicySet struct {
	generation uint64
	tables     map[string]*tablePolicy
}

type tablePolicy struct {
	schema     *TableSchema
	gate       map[Action]*PermissionRule // effective coarse rule, nil = unrestricted
	gateSource map[Action]string          // where the effective rule came from
	row        map[Action]*CompiledPolicy
	fieldRead  map[string]*PermissionRule
	fieldWrite map[string]*PermissionRule
}

// CompileSchema runs the full load pipeline over every table: parse,
// validate, lower. Workspace defaults fill in coarse rules a table omits,
// with pattern overrides taking precedence over the global default. Any
// failure aborts the whole compilation; there is no partial policy set.
func CompileSchema(tables []*TableSchema, defaults *TablePermissions, overrides []PatternPermissions) (*PolicySet, error) {
	set := &PolicySet{tables: make(map[string]*tablePolicy, len(tables))}
	for _, t := range tables {
		tp, err := compileTable(t, defaults, overrides)
		if err != nil {
			return nil, err
		}
		set.tables[t.Name] = tp
	}
	return set, nil
}

func compileTable(t *TableSchema, defaults *TablePermissions, overrides []PatternPermissions) (*tablePolicy, error) {
	records, err := parseAndValidate(t)
	if err != nil {
		return nil, err
	}

	tp := &tablePolicy{
		schema:     t,
		gate:       make(map[Action]*PermissionRule, len(Actions)),
		gateSource: make(map[Action]string, len(Actions)),
		row:        make(map[Action]*CompiledPolicy, len(Actions)),
		fieldRead:  make(map[string]*PermissionRule),
		fieldWrite: make(map[string]*PermissionRule),
	}

	for _, a := range Actions {
		rule, source := effectiveRule(t, a, defaults, overrides)
		tp.gate[a] = rule
		tp.gateSource[a] = source

		exprs := make([]Expr, 0, 2)
		// owner and custom coarse rules carry a row predicate in addition to
		// their gate-level authentication requirement
		if rule != nil {
			switch rule.Type {
			case RuleOwner:
				exprs = append(exprs, ownerExpr(rule.Field))
			case RuleCustom:
				parsed, err := ParseCondition(rule.Condition)
				if err != nil {
					return nil, err
				}
				exprs = append(exprs, parsed)
			}
		}
		// record entries for the same action compose with AND, in schema order
		for _, rec := range records {
			if rec.action == a {
				exprs = append(exprs, rec.expr)
			}
		}
		if len(exprs) == 0 {
			continue // unrestricted at the storage layer
		}
		combined := exprs[0]
		for _, e := range exprs[1:] {
			combined = &BooleanCombination{Op: OpAnd, Left: combined, Right: e}
		}
		sql, bindings := lowerExpr(combined)
		params := make(map[string]string)
		collectPlaceholders(combined, params)
		tp.row[a] = &CompiledPolicy{
			Table:    t.Name,
			Action:   a,
			WhereSQL: sql,
			Bindings: bindings,
			expr:     combined,
			params:   params,
		}
	}

	if t.Permissions != nil {
		for _, fp := range t.Permissions.Fields {
			if fp.Read != nil {
				tp.fieldRead[fp.Field] = fp.Read
			}
			if fp.Write != nil {
				tp.fieldWrite[fp.Field] = fp.Write
			}
		}
	}
	return tp, nil
}

// ownerExpr synthesizes the owner shorthand as "{userId} = <field>" so it
// flows through the same lowering as a hand-written condition.
func ownerExpr(field string) Expr {
	return &Comparison{Left: Placeholder{}, Right: FieldRef{Name: field}}
}

// effectiveRule resolves the coarse rule for one action: the table's own
// rule wins, then the first matching pattern override, then the workspace
// default. Nil means unrestricted.
func effectiveRule(t *TableSchema, a Action, defaults *TablePermissions, overrides []PatternPermissions) (*PermissionRule, string) {
	if r := t.Permissions.Rule(a); r != nil {
		return r, "table"
	}
	for _, ov := range overrides {
		if !utils.MatchName(t.Name, ov.Pattern) {
			continue
		}
		if r := ov.Permissions.Rule(a); r != nil {
			return r, "override:" + ov.Pattern
		}
	}
	if r := defaults.Rule(a); r != nil {
		return r, "default"
	}
	return nil, ""
}

// ============================================================================
// SQL LOWERING
// ============================================================================

// lowerExpr renders the tree as a WHERE fragment with named parameters for
// session bindings. Output is fully parenthesized around boolean nodes and
// deterministic for a given tree.
func lowerExpr(e Expr) (string, []string) {
	var b strings.Builder
	var bindings []string
	seen := make(map[string]struct{})
	writeExpr(&b, e, &bindings, seen)
	return b.String(), bindings
}

func writeExpr(b *strings.Builder, e Expr, bindings *[]string, seen map[string]struct{}) {
	switch v := e.(type) {
	case *Comparison:
		writeOperand(b, v.Left, bindings, seen)
		b.WriteString(" = ")
		writeOperand(b, v.Right, bindings, seen)
	case *BooleanCombination:
		b.WriteByte('(')
		writeExpr(b, v.Left, bindings, seen)
		b.WriteByte(' ')
		b.WriteString(string(v.Op))
		b.WriteByte(' ')
		writeExpr(b, v.Right, bindings, seen)
		b.WriteByte(')')
	}
}

func writeOperand(b *strings.Builder, op Operand, bindings *[]string, seen map[string]struct{}) {
	switch v := op.(type) {
	case FieldRef:
		b.WriteString(quoteIdent(v.Name))
	case Placeholder:
		name := v.bindingName()
		b.WriteByte(':')
		b.WriteString(name)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			*bindings = append(*bindings, name)
		}
	case param:
		b.WriteByte(':')
		b.WriteString(v.name)
		if _, ok := seen[v.name]; !ok {
			seen[v.name] = struct{}{}
			*bindings = append(*bindings, v.name)
		}
	case Literal:
		b.WriteString(sqlLiteral(v.Value))
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return "NULL"
}

// ============================================================================
// SNAPSHOT ACCESSORS
// ============================================================================

// Generation identifies the snapshot; it changes on every swap.
func (s *PolicySet) Generation() uint64 { return s.generation }

// Schema returns the compiled table definition, or nil if unknown.
func (s *PolicySet) Schema(table string) *TableSchema {
	if tp, ok := s.tables[table]; ok {
		return tp.schema
	}
	return nil
}

// Tables returns the compiled table names in sorted order.
func (s *PolicySet) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policy returns the installed row policy for one table/action, or nil when
// the action is unrestricted at the storage layer.
func (s *PolicySet) Policy(table string, a Action) *CompiledPolicy {
	if tp, ok := s.tables[table]; ok {
		return tp.row[a]
	}
	return nil
}

// Policies lists every installed row policy, ordered by table then action.
func (s *PolicySet) Policies() []*CompiledPolicy {
	var out []*CompiledPolicy
	for _, name := range s.Tables() {
		tp := s.tables[name]
		for _, a := range Actions {
			if cp := tp.row[a]; cp != nil {
				out = append(out, cp)
			}
		}
	}
	return out
}
