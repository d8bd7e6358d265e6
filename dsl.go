package rowguard

import (
	"fmt"
	"strconv"
	"strings"
)

// DSL Syntax:
// table <name> [mask]
// field <table> <name> <type> [required] [default:<value>]
// rule <table> <action> <variant> [<roles>|<field>|"<condition>"]
// fieldrule <table> <field> <read|write> <variant> [<roles>]
// record <table> <action> "<condition>"
// default <action> <variant> [<roles>|<field>|"<condition>"]
// override <pattern> <action> <variant> [<roles>|<field>|"<condition>"]
// engine <key>=<value>...

type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser {
	return &DSLParser{}
}

type DSLEncoder struct {
	buf []byte
}

func NewDSLEncoder() *DSLEncoder {
	return &DSLEncoder{buf: make([]byte, 0, 4096)}
}

func (e *DSLEncoder) Encode(cfg *Config) ([]byte, error) {
	e.buf = e.buf[:0]

	for _, a := range Actions {
		if r := cfg.Defaults.Rule(a); r != nil {
			e.buf = append(e.buf, "default "...)
			e.buf = append(e.buf, a...)
			e.buf = append(e.buf, ' ')
			e.appendRule(r)
			e.buf = append(e.buf, '\n')
		}
	}

	for _, ov := range cfg.Overrides {
		for _, a := range Actions {
			if r := ov.Permissions.Rule(a); r != nil {
				e.buf = append(e.buf, "override "...)
				e.buf = append(e.buf, ov.Pattern...)
				e.buf = append(e.buf, ' ')
				e.buf = append(e.buf, a...)
				e.buf = append(e.buf, ' ')
				e.appendRule(r)
				e.buf = append(e.buf, '\n')
			}
		}
	}

	for _, t := range cfg.Tables {
		e.buf = append(e.buf, "table "...)
		e.buf = append(e.buf, t.Name...)
		if t.MaskDenied {
			e.buf = append(e.buf, " mask"...)
		}
		e.buf = append(e.buf, '\n')

		for _, f := range t.Fields {
			e.buf = append(e.buf, "field "...)
			e.buf = append(e.buf, t.Name...)
			e.buf = append(e.buf, ' ')
			e.buf = append(e.buf, f.Name...)
			e.buf = append(e.buf, ' ')
			e.buf = append(e.buf, f.Type...)
			if f.Required {
				e.buf = append(e.buf, " required"...)
			}
			if f.Default != nil {
				e.buf = append(e.buf, " default:"...)
				e.buf = append(e.buf, fmt.Sprint(f.Default)...)
			}
			e.buf = append(e.buf, '\n')
		}

		if t.Permissions != nil {
			for _, a := range Actions {
				if r := t.Permissions.Rule(a); r != nil {
					e.buf = append(e.buf, "rule "...)
					e.buf = append(e.buf, t.Name...)
					e.buf = append(e.buf, ' ')
					e.buf = append(e.buf, a...)
					e.buf = append(e.buf, ' ')
					e.appendRule(r)
					e.buf = append(e.buf, '\n')
				}
			}
			for _, fp := range t.Permissions.Fields {
				if fp.Read != nil {
					e.appendFieldRule(t.Name, fp.Field, "read", fp.Read)
				}
				if fp.Write != nil {
					e.appendFieldRule(t.Name, fp.Field, "write", fp.Write)
				}
			}
			for _, rec := range t.Permissions.Records {
				e.buf = append(e.buf, "record "...)
				e.buf = append(e.buf, t.Name...)
				e.buf = append(e.buf, ' ')
				e.buf = append(e.buf, rec.Action...)
				e.buf = append(e.buf, " \""...)
				e.buf = append(e.buf, rec.Condition...)
				e.buf = append(e.buf, '"')
				e.buf = append(e.buf, '\n')
			}
		}
	}

	if cfg.Engine.DecisionCacheTTL > 0 || cfg.Engine.AuditBufferSize > 0 {
		e.buf = append(e.buf, "engine"...)
		var tmp [20]byte
		if cfg.Engine.DecisionCacheTTL > 0 {
			e.buf = append(e.buf, " cache_ttl="...)
			e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Engine.DecisionCacheTTL, 10)...)
		}
		if cfg.Engine.AuditBufferSize > 0 {
			e.buf = append(e.buf, " audit_buffer="...)
			e.buf = append(e.buf, strconv.AppendInt(tmp[:0], int64(cfg.Engine.AuditBufferSize), 10)...)
		}
		e.buf = append(e.buf, '\n')
	}

	return e.buf, nil
}

func (e *DSLEncoder) appendRule(r *PermissionRule) {
	e.buf = append(e.buf, r.Type...)
	switch r.Type {
	case RuleRoles:
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, strings.Join(r.Roles, ",")...)
	case RuleOwner:
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, r.Field...)
	case RuleCustom:
		e.buf = append(e.buf, " \""...)
		e.buf = append(e.buf, r.Condition...)
		e.buf = append(e.buf, '"')
	}
}

func (e *DSLEncoder) appendFieldRule(table, field, access string, r *PermissionRule) {
	e.buf = append(e.buf, "fieldrule "...)
	e.buf = append(e.buf, table...)
	e.buf = append(e.buf, ' ')
	e.buf = append(e.buf, field...)
	e.buf = append(e.buf, ' ')
	e.buf = append(e.buf, access...)
	e.buf = append(e.buf, ' ')
	e.appendRule(r)
	e.buf = append(e.buf, '\n')
}

func (p *DSLParser) Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Version: 1,
		Tables:  make([]*TableSchema, 0, 8),
	}
	tables := make(map[string]*TableSchema, 8)

	p.line = 0
	start := 0
	for i := 0; i <= len(data); i++ {
		if i != len(data) && data[i] != '\n' {
			continue
		}
		p.line++
		line := strings.TrimSpace(string(data[start:i]))
		start = i + 1

		if len(line) == 0 || line[0] == '#' {
			continue
		}
		parts := splitDSLLine(line)
		if len(parts) == 0 {
			continue
		}

		var err error
		switch parts[0] {
		case "table":
			err = p.parseTable(cfg, tables, parts[1:])
		case "field":
			err = p.parseField(tables, parts[1:])
		case "rule":
			err = p.parseRule(tables, parts[1:])
		case "fieldrule":
			err = p.parseFieldRule(tables, parts[1:])
		case "record":
			err = p.parseRecord(tables, parts[1:])
		case "default":
			err = p.parseDefault(cfg, parts[1:])
		case "override":
			err = p.parseOverride(cfg, parts[1:])
		case "engine":
			err = p.parseEngine(cfg, parts[1:])
		default:
			err = fmt.Errorf("unknown directive: %s", parts[0])
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
	}
	return cfg, nil
}

func (p *DSLParser) parseTable(cfg *Config, tables map[string]*TableSchema, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("table requires a name")
	}
	if _, exists := tables[args[0]]; exists {
		return fmt.Errorf("duplicate table %q", args[0])
	}
	t := &TableSchema{Name: args[0], Permissions: &TablePermissions{}}
	for _, opt := range args[1:] {
		if opt == "mask" {
			t.MaskDenied = true
		} else {
			return fmt.Errorf("unknown table option %q", opt)
		}
	}
	tables[t.Name] = t
	cfg.Tables = append(cfg.Tables, t)
	return nil
}

func (p *DSLParser) parseField(tables map[string]*TableSchema, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("field requires <table> <name> <type>")
	}
	t, ok := tables[args[0]]
	if !ok {
		return fmt.Errorf("unknown table %q", args[0])
	}
	f := Field{Name: args[1], Type: args[2]}
	for _, opt := range args[3:] {
		switch {
		case opt == "required":
			f.Required = true
		case strings.HasPrefix(opt, "default:"):
			f.Default = parseDSLValue(strings.TrimPrefix(opt, "default:"))
		default:
			return fmt.Errorf("unknown field option %q", opt)
		}
	}
	t.Fields = append(t.Fields, f)
	return nil
}

func (p *DSLParser) parseRule(tables map[string]*TableSchema, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("rule requires <table> <action> <variant>")
	}
	t, ok := tables[args[0]]
	if !ok {
		return fmt.Errorf("unknown table %q", args[0])
	}
	rule, err := parseDSLRule(args[2:])
	if err != nil {
		return err
	}
	return setRule(t.Permissions, Action(args[1]), rule)
}

func (p *DSLParser) parseFieldRule(tables map[string]*TableSchema, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("fieldrule requires <table> <field> <read|write> <variant>")
	}
	t, ok := tables[args[0]]
	if !ok {
		return fmt.Errorf("unknown table %q", args[0])
	}
	rule, err := parseDSLRule(args[3:])
	if err != nil {
		return err
	}
	field, access := args[1], args[2]
	for i := range t.Permissions.Fields {
		if t.Permissions.Fields[i].Field == field {
			switch access {
			case "read":
				t.Permissions.Fields[i].Read = rule
			case "write":
				t.Permissions.Fields[i].Write = rule
			default:
				return fmt.Errorf("access must be read or write, got %q", access)
			}
			return nil
		}
	}
	fp := FieldPermission{Field: field}
	switch access {
	case "read":
		fp.Read = rule
	case "write":
		fp.Write = rule
	default:
		return fmt.Errorf("access must be read or write, got %q", access)
	}
	t.Permissions.Fields = append(t.Permissions.Fields, fp)
	return nil
}

func (p *DSLParser) parseRecord(tables map[string]*TableSchema, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("record requires <table> <action> \"<condition>\"")
	}
	t, ok := tables[args[0]]
	if !ok {
		return fmt.Errorf("unknown table %q", args[0])
	}
	if !ValidAction(Action(args[1])) {
		return fmt.Errorf("invalid action %q", args[1])
	}
	t.Permissions.Records = append(t.Permissions.Records, RecordPermissionEntry{
		Action:    Action(args[1]),
		Condition: args[2],
	})
	return nil
}

func (p *DSLParser) parseDefault(cfg *Config, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("default requires <action> <variant>")
	}
	rule, err := parseDSLRule(args[1:])
	if err != nil {
		return err
	}
	if cfg.Defaults == nil {
		cfg.Defaults = &TablePermissions{}
	}
	return setRule(cfg.Defaults, Action(args[0]), rule)
}

func (p *DSLParser) parseOverride(cfg *Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("override requires <pattern> <action> <variant>")
	}
	rule, err := parseDSLRule(args[2:])
	if err != nil {
		return err
	}
	pattern := args[0]
	for i := range cfg.Overrides {
		if cfg.Overrides[i].Pattern == pattern {
			return setRule(&cfg.Overrides[i].Permissions, Action(args[1]), rule)
		}
	}
	ov := PatternPermissions{Pattern: pattern}
	if err := setRule(&ov.Permissions, Action(args[1]), rule); err != nil {
		return err
	}
	cfg.Overrides = append(cfg.Overrides, ov)
	return nil
}

func (p *DSLParser) parseEngine(cfg *Config, args []string) error {
	for _, kv := range args {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			return fmt.Errorf("engine setting must be key=value, got %q", kv)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("engine setting %s: %w", k, err)
		}
		switch k {
		case "cache_ttl":
			cfg.Engine.DecisionCacheTTL = n
		case "audit_buffer":
			cfg.Engine.AuditBufferSize = int(n)
		case "ristretto_counters":
			cfg.Engine.RistrettoNumCounter = n
		case "ristretto_cost":
			cfg.Engine.RistrettoMaxCost = n
		case "ristretto_buffer":
			cfg.Engine.RistrettoBuffer = n
		default:
			return fmt.Errorf("unknown engine setting %q", k)
		}
	}
	return nil
}

func parseDSLRule(args []string) (*PermissionRule, error) {
	switch RuleType(args[0]) {
	case RulePublic:
		return Public(), nil
	case RuleAuthenticated:
		return Authenticated(), nil
	case RuleRoles:
		if len(args) < 2 {
			return nil, fmt.Errorf("roles rule requires a role list")
		}
		return Roles(strings.Split(args[1], ",")...), nil
	case RuleOwner:
		if len(args) < 2 {
			return nil, fmt.Errorf("owner rule requires a field name")
		}
		return Owner(args[1]), nil
	case RuleCustom:
		if len(args) < 2 {
			return nil, fmt.Errorf("custom rule requires a condition")
		}
		return Custom(args[1]), nil
	}
	return nil, fmt.Errorf("unknown rule variant %q", args[0])
}

func setRule(p *TablePermissions, a Action, r *PermissionRule) error {
	switch a {
	case ActionRead:
		p.Read = r
	case ActionCreate:
		p.Create = r
	case ActionUpdate:
		p.Update = r
	case ActionDelete:
		p.Delete = r
	default:
		return fmt.Errorf("invalid action %q", a)
	}
	return nil
}

func parseDSLValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	return s
}

// splitDSLLine splits on spaces, keeping double-quoted runs as one token
// with the quotes stripped.
func splitDSLLine(line string) []string {
	var parts []string
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == ' ' && !inQuote:
			if b.Len() > 0 {
				parts = append(parts, b.String())
				b.Reset()
			}
		default:
			b.WriteByte(c)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
