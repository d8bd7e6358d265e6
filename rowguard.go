// Package rowguard compiles declarative table permission rules into
// database-level row policies and field masks, and enforces them through a
// two-stage pipeline: a coarse capability gate evaluated before any storage
// access, and a storage-level row/field filter applied to the query itself.
//
// A schema declares tables, their fields and their permission rules. Rules
// come in five variants: public, authenticated, role-based, owner shorthand
// and custom condition strings such as "{userId} = created_by". At load time
// every condition is parsed, every field reference is checked against the
// table definition and the result is lowered to a parameterized SQL
// predicate. A schema with a single bad rule never loads.
package rowguard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Action is one of the four table operations a rule can govern.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Actions lists all governed operations in canonical order.
var Actions = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}

// ValidAction reports whether a is one of the governed operations.
func ValidAction(a Action) bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Row is a single record as seen by the enforcement layer.
type Row = map[string]any

// Field declares one column of a table.
type Field struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"` // text, number, bool, timestamp
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Indexed  bool   `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// RuleType selects the active variant of a PermissionRule.
type RuleType string

const (
	RulePublic        RuleType = "public"
	RuleAuthenticated RuleType = "authenticated"
	RuleRoles         RuleType = "roles"
	RuleOwner         RuleType = "owner"
	RuleCustom        RuleType = "custom"
)

// PermissionRule is a tagged variant: exactly one of the variant payloads is
// meaningful for a given Type. public and authenticated carry no payload,
// roles carries the allowed role set, owner names the owning column and
// custom carries a condition string.
type PermissionRule struct {
	Type      RuleType `json:"type" yaml:"type"`
	Roles     []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Field     string   `json:"field,omitempty" yaml:"field,omitempty"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Public returns a rule allowing everyone.
func Public() *PermissionRule { return &PermissionRule{Type: RulePublic} }

// Authenticated returns a rule requiring a signed-in principal.
func Authenticated() *PermissionRule { return &PermissionRule{Type: RuleAuthenticated} }

// Roles returns a rule restricted to the given role set.
func Roles(roles ...string) *PermissionRule {
	return &PermissionRule{Type: RuleRoles, Roles: roles}
}

// Owner returns the ownership shorthand: the row is visible and writable
// only when the named column equals the principal id.
func Owner(field string) *PermissionRule { return &PermissionRule{Type: RuleOwner, Field: field} }

// Custom returns a rule carrying a raw condition string.
func Custom(condition string) *PermissionRule {
	return &PermissionRule{Type: RuleCustom, Condition: condition}
}

// FieldPermission restricts read and/or write access to a single column.
// Field must name a declared column; that is checked at load time.
type FieldPermission struct {
	Field string          `json:"field" yaml:"field"`
	Read  *PermissionRule `json:"read,omitempty" yaml:"read,omitempty"`
	Write *PermissionRule `json:"write,omitempty" yaml:"write,omitempty"`
}

// RecordPermissionEntry attaches a row-predicate condition to one action.
// Multiple entries for the same action compose with logical AND.
type RecordPermissionEntry struct {
	Action    Action `json:"action" yaml:"action"`
	Condition string `json:"condition" yaml:"condition"`
}

// TablePermissions groups the coarse per-action rules, the field-level rules
// and the record-level condition entries of one table. Any part may be
// absent; absent coarse rules inherit from workspace defaults.
type TablePermissions struct {
	Read    *PermissionRule         `json:"read,omitempty" yaml:"read,omitempty"`
	Create  *PermissionRule         `json:"create,omitempty" yaml:"create,omitempty"`
	Update  *PermissionRule         `json:"update,omitempty" yaml:"update,omitempty"`
	Delete  *PermissionRule         `json:"delete,omitempty" yaml:"delete,omitempty"`
	Fields  []FieldPermission       `json:"fields,omitempty" yaml:"fields,omitempty"`
	Records []RecordPermissionEntry `json:"records,omitempty" yaml:"records,omitempty"`
}

// Rule returns the coarse rule for the given action, or nil.
func (p *TablePermissions) Rule(a Action) *PermissionRule {
	if p == nil {
		return nil
	}
	switch a {
	case ActionRead:
		return p.Read
	case ActionCreate:
		return p.Create
	case ActionUpdate:
		return p.Update
	case ActionDelete:
		return p.Delete
	}
	return nil
}

// TableSchema is the declarative definition of one table: its columns plus
// the permission rules governing it. Schemas are immutable once compiled and
// identified by name within a loaded workspace.
type TableSchema struct {
	Name        string            `json:"name" yaml:"name"`
	Fields      []Field           `json:"fields" yaml:"fields"`
	Permissions *TablePermissions `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	// MaskDenied makes capability-gate denials on this table surface as
	// not-found instead of access-denied, hiding resource existence.
	MaskDenied bool      `json:"mask_denied,omitempty" yaml:"mask_denied,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// HasField reports whether the table declares a column with the given name.
func (t *TableSchema) HasField(name string) bool {
	for _, f := range t.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// FieldNames returns the declared column names in declaration order.
func (t *TableSchema) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Checksum returns a deterministic hash of the schema definition. Two loads
// of the same schema always produce the same checksum, which bundle signing
// and reload diffing rely on.
func (t *TableSchema) Checksum() string {
	data, _ := json.Marshal(struct {
		Name        string
		Fields      []Field
		Permissions *TablePermissions
		MaskDenied  bool
	}{
		Name:        t.Name,
		Fields:      t.Fields,
		Permissions: t.Permissions,
		MaskDenied:  t.MaskDenied,
	})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Decision is the outcome of a capability-gate check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	MatchedBy string    `json:"matched_by"` // rule variant or default source
	Trace     []string  `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
