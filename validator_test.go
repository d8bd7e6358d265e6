package rowguard

import "testing"

func testTable() *TableSchema {
	return &TableSchema{
		Name: "documents",
		Fields: []Field{
			{Name: "id", Type: "text"},
			{Name: "title", Type: "text"},
			{Name: "owner_id", Type: "text"},
			{Name: "status", Type: "text"},
		},
	}
}

func TestValidateUnknownFieldInCondition(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Records: []RecordPermissionEntry{
			{Action: ActionRead, Condition: "{userId} = created_by"},
		},
	}
	err := ValidateTable(tbl)
	if !IsUnknownFieldError(err) {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidateUnknownFieldInFieldRule(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Fields: []FieldPermission{
			{Field: "salary", Read: Roles("admin")},
		},
	}
	err := ValidateTable(tbl)
	if !IsUnknownFieldError(err) {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidateConflictingFieldRules(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Fields: []FieldPermission{
			{Field: "title", Read: Roles("admin")},
			{Field: "title", Read: Roles("member")},
		},
	}
	err := ValidateTable(tbl)
	if !IsConflictingRuleError(err) {
		t.Fatalf("expected conflicting rule error, got %v", err)
	}
}

func TestValidateBadConditionSyntax(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Records: []RecordPermissionEntry{
			{Action: ActionRead, Condition: "{userId} == owner_id"},
		},
	}
	err := ValidateTable(tbl)
	if !IsSyntaxError(err) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}

func TestValidateOwnerRuleFieldMustExist(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{Read: Owner("created_by")}
	if err := ValidateTable(tbl); !IsUnknownFieldError(err) {
		t.Fatalf("expected unknown field error, got %v", err)
	}

	tbl.Permissions = &TablePermissions{Read: Owner("owner_id")}
	if err := ValidateTable(tbl); err != nil {
		t.Fatalf("expected valid schema, got %v", err)
	}
}

func TestValidateFieldRuleMustBeRowIndependent(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Fields: []FieldPermission{
			{Field: "title", Read: Owner("owner_id")},
		},
	}
	if err := ValidateTable(tbl); err == nil {
		t.Fatal("expected error for owner rule at field level")
	}
}

func TestValidateStructuralErrors(t *testing.T) {
	if err := ValidateTable(&TableSchema{Name: ""}); err == nil {
		t.Fatal("expected error for empty table name")
	}
	if err := ValidateTable(&TableSchema{Name: "t"}); err == nil {
		t.Fatal("expected error for table without fields")
	}
	dup := &TableSchema{Name: "t", Fields: []Field{{Name: "a", Type: "text"}, {Name: "a", Type: "text"}}}
	if err := ValidateTable(dup); err == nil {
		t.Fatal("expected error for duplicate field")
	}
}

func TestValidateEmptyRoleSet(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{Read: &PermissionRule{Type: RuleRoles}}
	if err := ValidateTable(tbl); err == nil {
		t.Fatal("expected error for empty role set")
	}
}

func TestValidateRecordRuleUnknownAction(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Records: []RecordPermissionEntry{
			{Action: "publish", Condition: "{userId} = owner_id"},
		},
	}
	if err := ValidateTable(tbl); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
