package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/rowguard"
	"github.com/oarkflow/rowguard/logger"
	"github.com/oarkflow/rowguard/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "compile":
		handleCompile()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rowguard-config - Schema tool for rowguard")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rowguard-config convert <input> <output>  - Convert between formats")
	fmt.Println("  rowguard-config validate <file>           - Validate a schema")
	fmt.Println("  rowguard-config compile <file>            - Print compiled row policies")
	fmt.Println("  rowguard-config stats <file>              - Show schema statistics")
	fmt.Println("  rowguard-config apply <file>              - Load the schema into an engine")
	fmt.Println()
	fmt.Println("Supported formats: .rg, .dsl, .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: rowguard-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rowguard-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Schema error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Schema is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Tables: %d\n", len(cfg.Tables))
	fmt.Printf("  Overrides: %d\n", len(cfg.Overrides))
}

func handleCompile() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rowguard-config compile <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	set, err := rowguard.CompileSchema(cfg.Tables, cfg.Defaults, cfg.Overrides)
	if err != nil {
		fmt.Printf("Compile error: %v\n", err)
		os.Exit(1)
	}

	for _, cp := range set.Policies() {
		fmt.Printf("%s/%s:\n", cp.Table, cp.Action)
		fmt.Printf("  WHERE %s\n", cp.WhereSQL)
		if len(cp.Bindings) > 0 {
			fmt.Printf("  bindings: %s\n", strings.Join(cp.Bindings, ", "))
		}
	}
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rowguard-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Schema Statistics")
	fmt.Println("=================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	totalFields := 0
	totalRecords := 0
	fieldRules := 0
	masked := 0
	for _, t := range cfg.Tables {
		totalFields += len(t.Fields)
		if t.Permissions != nil {
			totalRecords += len(t.Permissions.Records)
			fieldRules += len(t.Permissions.Fields)
		}
		if t.MaskDenied {
			masked++
		}
	}
	fmt.Println("Components:")
	fmt.Printf("  Tables:        %d\n", len(cfg.Tables))
	fmt.Printf("  Fields:        %d\n", totalFields)
	fmt.Printf("  Field rules:   %d\n", fieldRules)
	fmt.Printf("  Record rules:  %d\n", totalRecords)
	fmt.Printf("  Masked tables: %d\n", masked)
	fmt.Printf("  Overrides:     %d\n", len(cfg.Overrides))
	fmt.Println()

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL: %dms\n", cfg.Engine.DecisionCacheTTL)
	fmt.Printf("  Audit buffer size:  %d\n", cfg.Engine.AuditBufferSize)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rowguard-config apply <file> [database.db]")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	dsn := ":memory:"
	if len(os.Args) > 3 {
		dsn = os.Args[3]
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "rowguard")

	if err := stores.EnsureTables(db, cfg.Tables...); err != nil {
		fmt.Printf("Error creating tables: %v\n", err)
		os.Exit(1)
	}
	if err := stores.Migrate(db); err != nil {
		fmt.Printf("Error running migrations: %v\n", err)
		os.Exit(1)
	}

	store, _ := stores.NewSQLRowStore(db)
	engine, err := rowguard.NewEngine(
		store,
		rowguard.WithLogger(logger.NewPhusluLogger()),
	)
	if err != nil {
		fmt.Printf("Error creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Schema applied to %s\n", dsn)
	fmt.Printf("  Tables created: %d\n", len(cfg.Tables))
	fmt.Printf("  Row policies:   %d\n", len(engine.CompiledPolicies()))
}

func loadConfig(filename string) (*rowguard.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".rg", ".dsl":
		parser := rowguard.NewDSLParser()
		return parser.Parse(data)
	case ".yaml", ".yml":
		loader := rowguard.NewConfigLoader()
		return loader.LoadYAML(data)
	case ".json":
		loader := rowguard.NewConfigLoader()
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *rowguard.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".rg", ".dsl":
		encoder := rowguard.NewDSLEncoder()
		data, err = encoder.Encode(cfg)
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
