package rowguard

import "testing"

func TestRowFilterMatchesOwner(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{Read: Owner("owner_id")}
	set := compiled(t, tbl)

	alice := &StaticSession{ID: "alice"}
	filter := set.RowFilter("documents", ActionRead, alice)

	ok, err := filter.Matches(Row{"id": "d1", "owner_id": "alice"})
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = filter.Matches(Row{"id": "d2", "owner_id": "bob"})
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}
}

func TestRowFilterMissingPropertyIsNull(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Records: []RecordPermissionEntry{
			{Action: ActionRead, Condition: "{user.department} = status"},
		},
	}
	set := compiled(t, tbl)

	// session has no department property; nil never compares equal
	sess := &StaticSession{ID: "u1"}
	filter := set.RowFilter("documents", ActionRead, sess)
	ok, err := filter.Matches(Row{"status": "Engineering"})
	if err != nil || ok {
		t.Fatalf("nil property must never match, got ok=%v err=%v", ok, err)
	}
}

func TestRowFilterStrictTypeEquality(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Records: []RecordPermissionEntry{
			{Action: ActionRead, Condition: "status = 1"},
		},
	}
	set := compiled(t, tbl)
	filter := set.RowFilter("documents", ActionRead, &StaticSession{ID: "u"})

	if ok, _ := filter.Matches(Row{"status": "1"}); ok {
		t.Fatal("string \"1\" must not equal number 1")
	}
	if ok, _ := filter.Matches(Row{"status": int64(1)}); !ok {
		t.Fatal("int64 1 must equal literal 1")
	}
	if ok, _ := filter.Matches(Row{"status": 1.0}); !ok {
		t.Fatal("float 1.0 must equal literal 1 across scan types")
	}
}

func TestRowFilterUnrestricted(t *testing.T) {
	set := compiled(t, testTable())
	filter := set.RowFilter("documents", ActionRead, nil)
	if !filter.Unrestricted() {
		t.Fatalf("expected unrestricted filter, got %+v", filter)
	}
	if ok, err := filter.Matches(Row{"anything": true}); err != nil || !ok {
		t.Fatalf("unrestricted filter must match everything: ok=%v err=%v", ok, err)
	}
}

func TestReadableColumnsRoleMask(t *testing.T) {
	tbl := &TableSchema{
		Name: "employees",
		Fields: []Field{
			{Name: "id", Type: "text"},
			{Name: "name", Type: "text"},
			{Name: "salary", Type: "number"},
		},
		Permissions: &TablePermissions{
			Fields: []FieldPermission{
				{Field: "salary", Read: Roles("admin")},
			},
		},
	}
	set := compiled(t, tbl)

	member := &StaticSession{ID: "u1", RoleList: []string{"member"}}
	admin := &StaticSession{ID: "u2", RoleList: []string{"admin"}}

	cols := set.ReadableColumns("employees", member)
	if len(cols) != 2 || cols[0] != "id" || cols[1] != "name" {
		t.Fatalf("expected salary masked for member, got %v", cols)
	}
	cols = set.ReadableColumns("employees", admin)
	if len(cols) != 3 {
		t.Fatalf("expected all columns for admin, got %v", cols)
	}
}

func TestCheckWriteWholePayloadRejection(t *testing.T) {
	tbl := &TableSchema{
		Name: "employees",
		Fields: []Field{
			{Name: "id", Type: "text"},
			{Name: "name", Type: "text"},
			{Name: "salary", Type: "number"},
		},
		Permissions: &TablePermissions{
			Fields: []FieldPermission{
				{Field: "salary", Write: Roles("admin")},
			},
		},
	}
	set := compiled(t, tbl)
	member := &StaticSession{ID: "u1", RoleList: []string{"member"}}

	err := set.CheckWrite("employees", member, Row{"name": "x", "salary": 100})
	if err == nil {
		t.Fatal("expected write rejection")
	}
	fwe, ok := err.(*FieldWriteError)
	if !ok || fwe.Field != "salary" {
		t.Fatalf("expected FieldWriteError on salary, got %v", err)
	}

	if err := set.CheckWrite("employees", member, Row{"name": "x"}); err != nil {
		t.Fatalf("payload without salary must pass: %v", err)
	}
}

func TestMaskRowsKeyAbsence(t *testing.T) {
	rows := []Row{{"id": "1", "name": "a", "salary": 50}}
	masked := MaskRows(rows, []string{"id", "name"})
	if _, present := masked[0]["salary"]; present {
		t.Fatal("salary key must be absent, not null")
	}
	if v, present := rows[0]["salary"]; !present || v != 50 {
		t.Fatal("input rows must not be mutated")
	}
}

func TestRowFilterByteSliceAndUncomparableValues(t *testing.T) {
	tbl := testTable()
	tbl.Permissions = &TablePermissions{
		Records: []RecordPermissionEntry{
			{Action: ActionRead, Condition: "{user.token} = status"},
		},
	}
	set := compiled(t, tbl)

	// drivers scan text columns as []byte; equal content matches
	sess := &StaticSession{ID: "u1", Props: map[string]any{"token": []byte("tok-1")}}
	filter := set.RowFilter("documents", ActionRead, sess)
	ok, err := filter.Matches(Row{"status": []byte("tok-1")})
	if err != nil || !ok {
		t.Fatalf("byte slices with equal content must match: ok=%v err=%v", ok, err)
	}
	ok, err = filter.Matches(Row{"status": []byte("tok-2")})
	if err != nil || ok {
		t.Fatalf("byte slices with different content must not match: ok=%v err=%v", ok, err)
	}

	// the same uncomparable dynamic type on both sides must not panic
	sess = &StaticSession{ID: "u1", Props: map[string]any{"token": map[string]any{"k": 1}}}
	filter = set.RowFilter("documents", ActionRead, sess)
	ok, err = filter.Matches(Row{"status": map[string]any{"k": 1}})
	if err != nil || ok {
		t.Fatalf("uncomparable values must evaluate as no match: ok=%v err=%v", ok, err)
	}
}
