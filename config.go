package rowguard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the complete declarative workspace definition: every table
// schema plus the workspace-wide defaults and pattern overrides that fill in
// rules a table omits.
type Config struct {
	Version   uint16               `json:"version" yaml:"version"`
	Defaults  *TablePermissions    `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Overrides []PatternPermissions `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	Tables    []*TableSchema       `json:"tables" yaml:"tables"`
	Engine    EngineConfig         `json:"engine,omitempty" yaml:"engine,omitempty"`
}

// EngineConfig carries engine tuning knobs loadable from config files.
type EngineConfig struct {
	DecisionCacheTTL    int64 `json:"decision_cache_ttl_ms,omitempty" yaml:"decision_cache_ttl_ms,omitempty"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter,omitempty" yaml:"ristretto_num_counter,omitempty"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost,omitempty" yaml:"ristretto_max_cost,omitempty"`
	RistrettoBuffer     int64 `json:"ristretto_buffer,omitempty" yaml:"ristretto_buffer,omitempty"`
	AuditBufferSize     int   `json:"audit_buffer_size,omitempty" yaml:"audit_buffer_size,omitempty"`
}

// ConfigLoader loads workspace definitions from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile dispatches on the file extension: .yaml/.yml or .json.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return l.LoadYAML(data)
	case strings.HasSuffix(path, ".json"):
		return l.LoadJSON(data)
	}
	return nil, fmt.Errorf("rowguard: unsupported config format %q", path)
}

// ToYAML exports the config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports the config to indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate compiles the config without installing it anywhere, reporting the
// first schema error. A nil return means Load would accept it.
func (c *Config) Validate() error {
	_, err := CompileSchema(c.Tables, c.Defaults, c.Overrides)
	return err
}

// Table returns the schema with the given name, or nil.
func (c *Config) Table(name string) *TableSchema {
	for _, t := range c.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// ApplyConfig applies engine tuning settings and then loads the schema. The
// schema swap is atomic and only happens when compilation succeeds, so a
// broken config leaves both tuning and policies untouched.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	set, err := CompileSchema(cfg.Tables, cfg.Defaults, cfg.Overrides)
	if err != nil {
		return err
	}
	if cfg.Engine.RistrettoNumCounter > 0 || cfg.Engine.DecisionCacheTTL > 0 {
		cache, err := newDecisionCache(
			cfg.Engine.RistrettoNumCounter,
			cfg.Engine.RistrettoMaxCost,
			cfg.Engine.RistrettoBuffer,
			time.Duration(cfg.Engine.DecisionCacheTTL)*time.Millisecond,
		)
		if err != nil {
			return err
		}
		if old := e.cache.Swap(cache); old != nil {
			old.close()
		}
	}
	set.generation = e.generation.Add(1)
	e.snapshot.Store(set)
	e.cache.Load().clear()
	e.logger.Info("config applied", "tables", len(set.tables), "generation", int(set.generation))
	return nil
}
