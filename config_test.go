package rowguard_test

import (
	"context"
	"sync"
	"testing"

	"github.com/oarkflow/rowguard"
	"github.com/oarkflow/rowguard/stores"
)

const yamlConfig = `
version: 1
defaults:
  read:
    type: authenticated
overrides:
  - pattern: "doc*"
    permissions:
      delete:
        type: roles
        roles: [admin]
tables:
  - name: documents
    mask_denied: true
    fields:
      - name: id
        type: text
      - name: title
        type: text
        required: true
      - name: owner_id
        type: text
    permissions:
      update:
        type: owner
        field: owner_id
      records:
        - action: read
          condition: "{userId} = owner_id"
      fields:
        - field: title
          write:
            type: roles
            roles: [editor]
engine:
  decision_cache_ttl_ms: 500
`

func TestConfigLoadYAML(t *testing.T) {
	cfg, err := rowguard.NewConfigLoader().LoadYAML([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	docs := cfg.Table("documents")
	if docs == nil || !docs.MaskDenied {
		t.Fatalf("documents wrong: %+v", docs)
	}
	if docs.Permissions.Update == nil || docs.Permissions.Update.Field != "owner_id" {
		t.Fatalf("update rule wrong: %+v", docs.Permissions.Update)
	}
	if cfg.Defaults == nil || cfg.Defaults.Read.Type != rowguard.RuleAuthenticated {
		t.Fatalf("defaults wrong: %+v", cfg.Defaults)
	}
	if cfg.Engine.DecisionCacheTTL != 500 {
		t.Fatalf("engine config wrong: %+v", cfg.Engine)
	}
}

func TestConfigYAMLJSONRoundtrip(t *testing.T) {
	cfg, err := rowguard.NewConfigLoader().LoadYAML([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}

	jsonData, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	fromJSON, err := rowguard.NewConfigLoader().LoadJSON(jsonData)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if fromJSON.Table("documents").Checksum() != cfg.Table("documents").Checksum() {
		t.Fatal("schema checksum changed across JSON roundtrip")
	}

	yamlData, err := fromJSON.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	fromYAML, err := rowguard.NewConfigLoader().LoadYAML(yamlData)
	if err != nil {
		t.Fatalf("reload yaml: %v", err)
	}
	if fromYAML.Table("documents").Checksum() != cfg.Table("documents").Checksum() {
		t.Fatal("schema checksum changed across YAML roundtrip")
	}
}

func TestApplyConfig(t *testing.T) {
	cfg, err := rowguard.NewConfigLoader().LoadYAML([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	eng, err := rowguard.NewEngine(stores.NewMemoryRowStore())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()
	if err := eng.ApplyConfig(context.Background(), cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	set := eng.Snapshot()
	if set == nil || set.Schema("documents") == nil {
		t.Fatal("config not installed")
	}

	// defaults apply: anonymous read denied, authenticated allowed
	if dec := set.Authorize(nil, "documents", rowguard.ActionRead); dec.Allowed {
		t.Fatalf("anonymous read must be denied by default: %+v", dec)
	}
	if dec := set.Authorize(&rowguard.StaticSession{ID: "u1"}, "documents", rowguard.ActionRead); !dec.Allowed {
		t.Fatalf("authenticated read must pass the gate: %+v", dec)
	}
	// override applies: delete restricted to admin
	if dec := set.Authorize(&rowguard.StaticSession{ID: "u1"}, "documents", rowguard.ActionDelete); dec.Allowed {
		t.Fatalf("non-admin delete must be denied by override: %+v", dec)
	}
}

func TestApplyConfigRejectsBadSchema(t *testing.T) {
	eng, err := rowguard.NewEngine(stores.NewMemoryRowStore())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()

	bad := &rowguard.Config{
		Tables: []*rowguard.TableSchema{{
			Name:   "documents",
			Fields: []rowguard.Field{{Name: "id", Type: "text"}},
			Permissions: &rowguard.TablePermissions{
				Fields: []rowguard.FieldPermission{
					{Field: "salary", Read: rowguard.Roles("admin")},
				},
			},
		}},
	}
	if err := eng.ApplyConfig(context.Background(), bad); !rowguard.IsUnknownFieldError(err) {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if eng.Snapshot() != nil {
		t.Fatal("rejected config must not install a snapshot")
	}
}

func TestApplyConfigConcurrentWithAuthorize(t *testing.T) {
	cfg, err := rowguard.NewConfigLoader().LoadYAML([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	eng, err := rowguard.NewEngine(stores.NewMemoryRowStore())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()
	ctx := context.Background()
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}

	// the config carries cache tuning, so every reload swaps the decision
	// cache under running Authorize calls
	done := make(chan struct{})
	var wg sync.WaitGroup
	sess := &rowguard.StaticSession{ID: "u1"}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				dec, err := eng.Authorize(ctx, sess, "documents", rowguard.ActionRead)
				if err != nil {
					t.Errorf("authorize during reload: %v", err)
					return
				}
				if !dec.Allowed {
					t.Errorf("authenticated read denied during reload: %+v", dec)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if err := eng.ApplyConfig(ctx, cfg); err != nil {
			t.Errorf("apply config: %v", err)
			break
		}
	}
	close(done)
	wg.Wait()
}
