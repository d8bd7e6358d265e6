package rowguard

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ============================================================================
// CONDITION EXPRESSION TREE
// ============================================================================

// Expr is the parsed form of a condition string. It is produced by
// ParseCondition and consumed by the policy compiler; it never leaves the
// compilation pipeline.
type Expr interface {
	String() string
	// collectFields appends every referenced column name to set.
	collectFields(set map[string]struct{})
}

// BoolOp joins comparisons inside one condition.
type BoolOp string

const (
	OpAnd BoolOp = "AND"
	OpOr  BoolOp = "OR"
)

// Operand is one side of a comparison: a column reference, a session-context
// placeholder or a literal value.
type Operand interface {
	String() string
	isOperand()
}

// FieldRef references a column of the governed table by name.
type FieldRef struct {
	Name string
}

func (f FieldRef) String() string { return f.Name }
func (f FieldRef) isOperand()     {}

// Placeholder references the session context. An empty Property is the
// {userId} placeholder; otherwise it is {user.<Property>}.
type Placeholder struct {
	Property string
}

func (p Placeholder) String() string {
	if p.Property == "" {
		return "{userId}"
	}
	return "{user." + p.Property + "}"
}
func (p Placeholder) isOperand() {}

// bindingName returns the deterministic named-parameter this placeholder
// lowers to in compiled SQL.
func (p Placeholder) bindingName() string {
	if p.Property == "" {
		return "rg_user_id"
	}
	return "rg_user_" + sanitizeBinding(p.Property)
}

func sanitizeBinding(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// param is an internal named parameter outside the placeholder namespace,
// used when the engine narrows a filter to a specific target row.
type param struct {
	name string
}

func (p param) String() string { return ":" + p.name }
func (p param) isOperand()     {}

// Literal is a constant string, number or boolean.
type Literal struct {
	Value any
}

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case string:
		return "'" + v + "'"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return fmt.Sprint(l.Value)
}
func (l Literal) isOperand() {}

// Comparison is an equality test between two operands. Equality is the only
// comparator the condition grammar accepts.
type Comparison struct {
	Left  Operand
	Right Operand
}

func (c *Comparison) String() string {
	return c.Left.String() + " = " + c.Right.String()
}

func (c *Comparison) collectFields(set map[string]struct{}) {
	if f, ok := c.Left.(FieldRef); ok {
		set[f.Name] = struct{}{}
	}
	if f, ok := c.Right.(FieldRef); ok {
		set[f.Name] = struct{}{}
	}
}

// BooleanCombination joins two subtrees with AND or OR. Mixed AND/OR chains
// without grouping fold left to right, so "a OR b AND c" parses as
// "(a OR b) AND c". That fold is deliberate and documented on ParseCondition.
type BooleanCombination struct {
	Op    BoolOp
	Left  Expr
	Right Expr
}

func (b *BooleanCombination) String() string {
	return "(" + b.Left.String() + " " + string(b.Op) + " " + b.Right.String() + ")"
}

func (b *BooleanCombination) collectFields(set map[string]struct{}) {
	b.Left.collectFields(set)
	b.Right.collectFields(set)
}

// referencedFields returns every column name the expression mentions.
func referencedFields(e Expr) []string {
	set := make(map[string]struct{})
	e.collectFields(set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// ============================================================================
// IN-MEMORY EVALUATION
// ============================================================================

// evalExpr evaluates the tree against one row with placeholder values
// already resolved into args (keyed by binding name). Memory stores and
// create-time row checks use this path; SQL stores get the lowered WHERE
// fragment instead.
func evalExpr(e Expr, row Row, args map[string]any) (bool, error) {
	switch v := e.(type) {
	case *Comparison:
		left, err := operandValue(v.Left, row, args)
		if err != nil {
			return false, err
		}
		right, err := operandValue(v.Right, row, args)
		if err != nil {
			return false, err
		}
		return valuesEqual(left, right), nil
	case *BooleanCombination:
		left, err := evalExpr(v.Left, row, args)
		if err != nil {
			return false, err
		}
		if v.Op == OpAnd && !left {
			return false, nil
		}
		if v.Op == OpOr && left {
			return true, nil
		}
		return evalExpr(v.Right, row, args)
	}
	return false, fmt.Errorf("rowguard: unknown expression node %T", e)
}

func operandValue(op Operand, row Row, args map[string]any) (any, error) {
	switch v := op.(type) {
	case FieldRef:
		return row[v.Name], nil
	case Placeholder:
		return args[v.bindingName()], nil
	case param:
		return args[v.name], nil
	case Literal:
		return v.Value, nil
	}
	return nil, fmt.Errorf("rowguard: unknown operand %T", op)
}

// valuesEqual is exact equality with no coercion across kinds: a string
// never equals a number or a boolean. Numeric values are compared
// numerically across int/int64/float64 since SQL drivers disagree on scan
// types for the same column. Byte slices compare by content because drivers
// scan text columns as []byte.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int, int32, int64, float32, float64:
		af, ok := toFloat(a)
		if !ok {
			return false
		}
		bf, ok := toFloat(b)
		return ok && af == bf
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	default:
		// interface equality panics when both sides carry the same
		// uncomparable dynamic type
		if !reflect.TypeOf(a).Comparable() {
			return false
		}
		return a == b
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
