package rowguard

import "fmt"

// parsedRecord pairs a record-level entry with its parsed condition.
type parsedRecord struct {
	action Action
	raw    string
	expr   Expr
}

// ValidateTable parses every condition on the table and cross-checks all
// field references against the declared columns. It runs before any policy
// is compiled and fails fast on the first violation: a table with one bad
// rule contributes nothing, and the whole load aborts.
func ValidateTable(t *TableSchema) error {
	_, err := parseAndValidate(t)
	return err
}

func parseAndValidate(t *TableSchema) ([]parsedRecord, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("rowguard: table with empty name")
	}
	if len(t.Fields) == 0 {
		return nil, fmt.Errorf("rowguard: table %q declares no fields", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("rowguard: table %q: field with empty name", t.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("rowguard: table %q: duplicate field %q", t.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	perms := t.Permissions
	if perms == nil {
		return nil, nil
	}

	// coarse per-action rules
	for _, a := range Actions {
		if err := validateRule(t, perms.Rule(a)); err != nil {
			return nil, err
		}
	}

	// field-level rules: target column must exist, and at most one rule may
	// govern each (field, access) pair
	readSeen := make(map[string]struct{})
	writeSeen := make(map[string]struct{})
	for _, fp := range perms.Fields {
		if !t.HasField(fp.Field) {
			return nil, &UnknownFieldError{Table: t.Name, Field: fp.Field}
		}
		if fp.Read != nil {
			if _, dup := readSeen[fp.Field]; dup {
				return nil, &ConflictingRuleError{Table: t.Name, Field: fp.Field, Access: "read"}
			}
			readSeen[fp.Field] = struct{}{}
			if err := validateFieldRule(t, fp.Field, fp.Read); err != nil {
				return nil, err
			}
		}
		if fp.Write != nil {
			if _, dup := writeSeen[fp.Field]; dup {
				return nil, &ConflictingRuleError{Table: t.Name, Field: fp.Field, Access: "write"}
			}
			writeSeen[fp.Field] = struct{}{}
			if err := validateFieldRule(t, fp.Field, fp.Write); err != nil {
				return nil, err
			}
		}
		if fp.Read == nil && fp.Write == nil {
			return nil, fmt.Errorf("rowguard: table %q: field permission for %q has neither read nor write rule", t.Name, fp.Field)
		}
	}

	// record-level entries: parse each condition and check its column refs
	records := make([]parsedRecord, 0, len(perms.Records))
	for _, entry := range perms.Records {
		if !ValidAction(entry.Action) {
			return nil, fmt.Errorf("rowguard: table %q: record rule with unknown action %q", t.Name, entry.Action)
		}
		expr, err := ParseCondition(entry.Condition)
		if err != nil {
			return nil, err
		}
		for _, name := range referencedFields(expr) {
			if !t.HasField(name) {
				return nil, &UnknownFieldError{Table: t.Name, Field: name, Condition: entry.Condition}
			}
		}
		records = append(records, parsedRecord{action: entry.Action, raw: entry.Condition, expr: expr})
	}
	return records, nil
}

// validateFieldRule restricts field-level rules to the row-independent
// variants: a column mask cannot depend on row content, so owner and custom
// conditions are rejected at load time rather than misbehaving at request
// time.
func validateFieldRule(t *TableSchema, field string, r *PermissionRule) error {
	switch r.Type {
	case RuleOwner, RuleCustom:
		return fmt.Errorf("rowguard: table %q: field rule for %q must be row-independent, got %s", t.Name, field, r.Type)
	}
	return validateRule(t, r)
}

// validateRule checks the variant payload of a single rule against the table.
func validateRule(t *TableSchema, r *PermissionRule) error {
	if r == nil {
		return nil
	}
	switch r.Type {
	case RulePublic, RuleAuthenticated:
		return nil
	case RuleRoles:
		if len(r.Roles) == 0 {
			return fmt.Errorf("rowguard: table %q: roles rule with empty role set", t.Name)
		}
		return nil
	case RuleOwner:
		if r.Field == "" {
			return fmt.Errorf("rowguard: table %q: owner rule without owning field", t.Name)
		}
		if !t.HasField(r.Field) {
			return &UnknownFieldError{Table: t.Name, Field: r.Field}
		}
		return nil
	case RuleCustom:
		expr, err := ParseCondition(r.Condition)
		if err != nil {
			return err
		}
		for _, name := range referencedFields(expr) {
			if !t.HasField(name) {
				return &UnknownFieldError{Table: t.Name, Field: name, Condition: r.Condition}
			}
		}
		return nil
	}
	return fmt.Errorf("rowguard: table %q: unknown rule type %q", t.Name, r.Type)
}
