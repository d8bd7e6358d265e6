package rowguard

import (
	"errors"
	"fmt"
)

// Load-time failures abort the whole schema load; none of them ever reach an
// API caller. Request-time outcomes (ErrDenied, ErrNotFound,
// ErrFieldWriteForbidden) are terminal decisions handed back to the request
// layer, never panics.

var (
	// ErrDenied is the request-time access-denied outcome.
	ErrDenied = errors.New("rowguard: access denied")

	// ErrNotFound replaces ErrDenied on tables configured to mask denials.
	ErrNotFound = errors.New("rowguard: not found")

	// ErrFieldWriteForbidden marks a write payload touching a column the
	// principal cannot write. The whole write is rejected.
	ErrFieldWriteForbidden = errors.New("rowguard: field write forbidden")
)

// SyntaxError reports an unparseable condition string. Pos is the byte
// offset of the offending token within the condition.
type SyntaxError struct {
	Condition string
	Offending string
	Pos       int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("rowguard: syntax error in condition %q at offset %d: unexpected %q", e.Condition, e.Pos, e.Offending)
}

// IsSyntaxError reports whether err is or wraps a SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

// UnknownFieldError reports a permission rule referencing a column the table
// does not declare.
type UnknownFieldError struct {
	Table     string
	Field     string
	Condition string // empty for field-level rules
}

func (e *UnknownFieldError) Error() string {
	if e.Condition != "" {
		return fmt.Sprintf("rowguard: table %q: condition %q references undeclared field %q", e.Table, e.Condition, e.Field)
	}
	return fmt.Sprintf("rowguard: table %q: permission rule references undeclared field %q", e.Table, e.Field)
}

// IsUnknownFieldError reports whether err is or wraps an UnknownFieldError.
func IsUnknownFieldError(err error) bool {
	var ue *UnknownFieldError
	return errors.As(err, &ue)
}

// ConflictingRuleError reports two field-level rules governing the same
// (field, access) pair on one table.
type ConflictingRuleError struct {
	Table  string
	Field  string
	Access string // "read" or "write"
}

func (e *ConflictingRuleError) Error() string {
	return fmt.Sprintf("rowguard: table %q: duplicate %s rule for field %q", e.Table, e.Access, e.Field)
}

// IsConflictingRuleError reports whether err is or wraps a ConflictingRuleError.
func IsConflictingRuleError(err error) bool {
	var ce *ConflictingRuleError
	return errors.As(err, &ce)
}

// FieldWriteError identifies the column that caused a write rejection.
type FieldWriteError struct {
	Table string
	Field string
}

func (e *FieldWriteError) Error() string {
	return fmt.Sprintf("rowguard: table %q: writing field %q is forbidden", e.Table, e.Field)
}

func (e *FieldWriteError) Unwrap() error { return ErrFieldWriteForbidden }

// DeniedError carries the gate decision behind an ErrDenied outcome.
type DeniedError struct {
	Table  string
	Action Action
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rowguard: table %q: %s denied: %s", e.Table, e.Action, e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }
