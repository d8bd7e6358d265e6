package rowguard

import "time"

// Builders provide a fluent API for assembling table schemas and configs in
// code instead of YAML.

// TableBuilder builds a TableSchema
type TableBuilder struct {
	t *TableSchema
}

func NewTableBuilder(name string) *TableBuilder {
	return &TableBuilder{t: &TableSchema{
		Name:        name,
		Fields:      []Field{},
		Permissions: &TablePermissions{},
		CreatedAt:   time.Now(),
	}}
}

func (b *TableBuilder) Field(name, typ string) *TableBuilder {
	b.t.Fields = append(b.t.Fields, Field{Name: name, Type: typ})
	return b
}
func (b *TableBuilder) RequiredField(name, typ string) *TableBuilder {
	b.t.Fields = append(b.t.Fields, Field{Name: name, Type: typ, Required: true})
	return b
}
func (b *TableBuilder) FieldWithDefault(name, typ string, def any) *TableBuilder {
	b.t.Fields = append(b.t.Fields, Field{Name: name, Type: typ, Default: def})
	return b
}
func (b *TableBuilder) Read(r *PermissionRule) *TableBuilder   { b.t.Permissions.Read = r; return b }
func (b *TableBuilder) Create(r *PermissionRule) *TableBuilder { b.t.Permissions.Create = r; return b }
func (b *TableBuilder) Update(r *PermissionRule) *TableBuilder { b.t.Permissions.Update = r; return b }
func (b *TableBuilder) Delete(r *PermissionRule) *TableBuilder { b.t.Permissions.Delete = r; return b }
func (b *TableBuilder) FieldRead(field string, r *PermissionRule) *TableBuilder {
	b.setFieldRule(field, r, nil)
	return b
}
func (b *TableBuilder) FieldWrite(field string, r *PermissionRule) *TableBuilder {
	b.setFieldRule(field, nil, r)
	return b
}
func (b *TableBuilder) Record(action Action, condition string) *TableBuilder {
	b.t.Permissions.Records = append(b.t.Permissions.Records, RecordPermissionEntry{Action: action, Condition: condition})
	return b
}
func (b *TableBuilder) MaskDenied() *TableBuilder { b.t.MaskDenied = true; return b }
func (b *TableBuilder) Build() *TableSchema       { return b.t }

func (b *TableBuilder) setFieldRule(field string, read, write *PermissionRule) {
	for i := range b.t.Permissions.Fields {
		if b.t.Permissions.Fields[i].Field != field {
			continue
		}
		if read != nil {
			b.t.Permissions.Fields[i].Read = read
		}
		if write != nil {
			b.t.Permissions.Fields[i].Write = write
		}
		return
	}
	b.t.Permissions.Fields = append(b.t.Permissions.Fields, FieldPermission{Field: field, Read: read, Write: write})
}

// ConfigBuilder builds a Config
type ConfigBuilder struct {
	c *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{c: &Config{Version: 1, Tables: []*TableSchema{}}}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder { b.c.Version = v; return b }
func (b *ConfigBuilder) Defaults(p *TablePermissions) *ConfigBuilder {
	b.c.Defaults = p
	return b
}
func (b *ConfigBuilder) Override(pattern string, p TablePermissions) *ConfigBuilder {
	b.c.Overrides = append(b.c.Overrides, PatternPermissions{Pattern: pattern, Permissions: p})
	return b
}
func (b *ConfigBuilder) Table(t *TableSchema) *ConfigBuilder {
	b.c.Tables = append(b.c.Tables, t)
	return b
}
func (b *ConfigBuilder) Build() *Config { return b.c }
