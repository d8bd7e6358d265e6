package rowguard

import (
	"errors"
	"testing"
)

func TestParseOwnerCondition(t *testing.T) {
	expr, err := ParseCondition("{userId} = owner_id")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cmp, ok := expr.(*Comparison)
	if !ok {
		t.Fatalf("expected comparison, got %T", expr)
	}
	if _, ok := cmp.Left.(Placeholder); !ok {
		t.Fatalf("expected placeholder on the left, got %T", cmp.Left)
	}
	f, ok := cmp.Right.(FieldRef)
	if !ok || f.Name != "owner_id" {
		t.Fatalf("expected owner_id field ref, got %v", cmp.Right)
	}
}

func TestParseDoubleEqualsRejected(t *testing.T) {
	_, err := ParseCondition("{userId} == owner_id")
	if err == nil {
		t.Fatal("expected syntax error for ==")
	}
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SyntaxError, got %T", err)
	}
	if se.Offending != "==" {
		t.Fatalf("expected offending token ==, got %q", se.Offending)
	}
}

func TestParseRejectsOtherComparators(t *testing.T) {
	for _, cond := range []string{
		"age > 21",
		"age != 21",
		"age <= 21",
		"(a = b)",
	} {
		if _, err := ParseCondition(cond); err == nil {
			t.Fatalf("expected syntax error for %q", cond)
		} else if !IsSyntaxError(err) {
			t.Fatalf("expected syntax error for %q, got %T", cond, err)
		}
	}
}

func TestParseEmptyCondition(t *testing.T) {
	for _, cond := range []string{"", "   "} {
		if _, err := ParseCondition(cond); !IsSyntaxError(err) {
			t.Fatalf("expected syntax error for %q, got %v", cond, err)
		}
	}
}

func TestParseLiterals(t *testing.T) {
	expr, err := ParseCondition(`status = "active"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cmp := expr.(*Comparison)
	if lit, ok := cmp.Right.(Literal); !ok || lit.Value != "active" {
		t.Fatalf("expected string literal, got %v", cmp.Right)
	}

	expr, err = ParseCondition("priority = 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cmp = expr.(*Comparison)
	if lit, ok := cmp.Right.(Literal); !ok || lit.Value != int64(3) {
		t.Fatalf("expected int literal, got %v", cmp.Right)
	}

	expr, err = ParseCondition("archived = false")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cmp = expr.(*Comparison)
	if lit, ok := cmp.Right.(Literal); !ok || lit.Value != false {
		t.Fatalf("expected bool literal, got %v", cmp.Right)
	}
}

func TestParsePlaceholderProperty(t *testing.T) {
	expr, err := ParseCondition("{user.department} = department")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cmp := expr.(*Comparison)
	p, ok := cmp.Left.(Placeholder)
	if !ok || p.Property != "department" {
		t.Fatalf("expected department placeholder, got %v", cmp.Left)
	}

	for _, cond := range []string{
		"{user.} = x",
		"{session.id} = x",
		"{userid} = x",
		"{user.a b} = x",
		"{unclosed = x",
	} {
		if _, err := ParseCondition(cond); !IsSyntaxError(err) {
			t.Fatalf("expected syntax error for %q, got %v", cond, err)
		}
	}
}

func TestParseLeftToRightFold(t *testing.T) {
	// no precedence: "a OR b AND c" folds as "(a OR b) AND c"
	expr, err := ParseCondition("a = 1 OR b = 2 AND c = 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	top, ok := expr.(*BooleanCombination)
	if !ok || top.Op != OpAnd {
		t.Fatalf("expected AND at the top, got %v", expr)
	}
	inner, ok := top.Left.(*BooleanCombination)
	if !ok || inner.Op != OpOr {
		t.Fatalf("expected OR nested on the left, got %v", top.Left)
	}
	if got := expr.String(); got != "((a = 1 OR b = 2) AND c = 3)" {
		t.Fatalf("unexpected fold: %s", got)
	}
}

func TestParseCaseInsensitiveKeywords(t *testing.T) {
	expr, err := ParseCondition("a = 1 and b = 2 or c = 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := expr.String(); got != "((a = 1 AND b = 2) OR c = 3)" {
		t.Fatalf("unexpected tree: %s", got)
	}
}

func TestParseTrailingOperator(t *testing.T) {
	if _, err := ParseCondition("a = 1 AND"); !IsSyntaxError(err) {
		t.Fatalf("expected syntax error, got %v", err)
	}
	if _, err := ParseCondition("a ="); !IsSyntaxError(err) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}
