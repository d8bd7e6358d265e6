package rowguard_test

import (
	"strings"
	"testing"

	"github.com/oarkflow/rowguard"
)

func TestDSLParser(t *testing.T) {
	dsl := `
# Test workspace
default read authenticated
override doc* delete roles admin

table documents mask
field documents id text
field documents title text required
field documents owner_id text
field documents status text default:draft
rule documents update owner owner_id
record documents read "{userId} = owner_id"
fieldrule documents title write roles editor,admin

table tasks
field tasks id text
rule tasks read public

engine cache_ttl=500 audit_buffer=256
`
	cfg, err := rowguard.NewDSLParser().Parse([]byte(dsl))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(cfg.Tables))
	}
	docs := cfg.Table("documents")
	if docs == nil || !docs.MaskDenied {
		t.Fatalf("documents table wrong: %+v", docs)
	}
	if len(docs.Fields) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(docs.Fields))
	}
	if !docs.Fields[1].Required {
		t.Fatal("title must be required")
	}
	if docs.Fields[3].Default != "draft" {
		t.Fatalf("status default wrong: %v", docs.Fields[3].Default)
	}
	if docs.Permissions.Update == nil || docs.Permissions.Update.Type != rowguard.RuleOwner {
		t.Fatalf("update rule wrong: %+v", docs.Permissions.Update)
	}
	if len(docs.Permissions.Records) != 1 || docs.Permissions.Records[0].Condition != "{userId} = owner_id" {
		t.Fatalf("record rule wrong: %+v", docs.Permissions.Records)
	}
	if len(docs.Permissions.Fields) != 1 || docs.Permissions.Fields[0].Write == nil {
		t.Fatalf("field rule wrong: %+v", docs.Permissions.Fields)
	}
	if got := docs.Permissions.Fields[0].Write.Roles; len(got) != 2 || got[0] != "editor" {
		t.Fatalf("field rule roles wrong: %v", got)
	}
	if cfg.Defaults == nil || cfg.Defaults.Read.Type != rowguard.RuleAuthenticated {
		t.Fatalf("defaults wrong: %+v", cfg.Defaults)
	}
	if len(cfg.Overrides) != 1 || cfg.Overrides[0].Pattern != "doc*" {
		t.Fatalf("overrides wrong: %+v", cfg.Overrides)
	}
	if cfg.Engine.DecisionCacheTTL != 500 || cfg.Engine.AuditBufferSize != 256 {
		t.Fatalf("engine config wrong: %+v", cfg.Engine)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("parsed config must compile: %v", err)
	}
}

func TestDSLRoundtrip(t *testing.T) {
	cfg := rowguard.NewConfigBuilder().
		Defaults(&rowguard.TablePermissions{Read: rowguard.Authenticated()}).
		Override("doc*", rowguard.TablePermissions{Delete: rowguard.Roles("admin")}).
		Table(rowguard.NewTableBuilder("documents").
			Field("id", "text").
			RequiredField("title", "text").
			Field("owner_id", "text").
			Update(rowguard.Owner("owner_id")).
			Record(rowguard.ActionRead, "{userId} = owner_id").
			FieldWrite("title", rowguard.Roles("editor")).
			MaskDenied().
			Build()).
		Build()

	encoded, err := rowguard.NewDSLEncoder().Encode(cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := rowguard.NewDSLParser().Parse(encoded)
	if err != nil {
		t.Fatalf("parse encoded:\n%s\nerr: %v", encoded, err)
	}

	docs := decoded.Table("documents")
	if docs == nil || !docs.MaskDenied || len(docs.Fields) != 3 {
		t.Fatalf("roundtrip lost table shape: %+v", docs)
	}
	if docs.Permissions.Update == nil || docs.Permissions.Update.Field != "owner_id" {
		t.Fatalf("roundtrip lost update rule: %+v", docs.Permissions.Update)
	}
	if len(docs.Permissions.Records) != 1 {
		t.Fatalf("roundtrip lost record rules: %+v", docs.Permissions.Records)
	}
	if decoded.Defaults == nil || decoded.Defaults.Read == nil {
		t.Fatalf("roundtrip lost defaults: %+v", decoded.Defaults)
	}
}

func TestDSLErrors(t *testing.T) {
	cases := []string{
		"frobnicate documents",
		"field ghost id text",
		"rule documents read nonsense",
		"table documents\ntable documents",
		"engine cache_ttl=abc",
	}
	for _, dsl := range cases {
		if _, err := rowguard.NewDSLParser().Parse([]byte(dsl)); err == nil {
			t.Fatalf("expected parse error for %q", dsl)
		} else if !strings.Contains(err.Error(), "line") {
			t.Fatalf("error must carry a line number: %v", err)
		}
	}
}
