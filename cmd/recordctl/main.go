// Command recordctl operates a record store from the command line: it loads
// entity schemas, wires a persistence adapter, and runs find, export, import,
// and schema-check operations against it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"recordcore/internal/infra/adapter/memory"
	"recordcore/internal/infra/adapter/postgres"
	"recordcore/internal/infra/adapter/sqlite"
	"recordcore/internal/record"
	"recordcore/internal/snapshot"
	"recordcore/internal/store"
	"recordcore/internal/validation"
	"recordcore/pkg/domain"
	"recordcore/pkg/log"
	"recordcore/pkg/schema"
)

var exitFunc = os.Exit

// Config is the TOML configuration for recordctl.
type Config struct {
	Schema      string            `toml:"schema"`
	LogLevel    string            `toml:"log_level"`
	Persistence PersistenceConfig `toml:"persistence"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
}

// PersistenceConfig selects and parameterizes the adapter.
type PersistenceConfig struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// SnapshotConfig selects and parameterizes the snapshot archive.
type SnapshotConfig struct {
	Driver string `toml:"driver"`
	FSRoot string `toml:"fs_root"`
}

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recordctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "recordctl.toml", "path to the TOML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "usage: recordctl [-config file] <schema-check|find|export|import> [args]")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}

	schemas, err := schema.LoadFile(cfg.Schema)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}

	switch rest[0] {
	case "schema-check":
		names := schemas.Entities()
		sort.Strings(names)
		for _, name := range names {
			e, _ := schemas.Entity(name)
			fmt.Fprintf(stdout, "%s: %d attributes, %d relationships\n", name, len(e.Attributes), len(e.Relationships))
		}
		return 0
	case "find":
		return cmdFind(cfg, schemas, rest[1:], stdout, stderr)
	case "export":
		return cmdExport(cfg, schemas, rest[1:], stdout, stderr)
	case "import":
		return cmdImport(cfg, schemas, rest[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "recordctl: unknown command %q\n", rest[0])
		return 2
	}
}

func loadConfig(path string) (Config, error) {
	cfg := Config{Schema: "schemas.yaml", LogLevel: "info"}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func openAdapter(cfg PersistenceConfig) (domain.Adapter, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "postgres":
		return postgres.New(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}

func openArchive(ctx context.Context, cfg SnapshotConfig) (snapshot.Archive, error) {
	switch cfg.Driver {
	case "", "fs":
		return snapshot.NewFilesystem(cfg.FSRoot)
	case "memory":
		return snapshot.NewMemory(), nil
	case "s3":
		return snapshot.OpenS3FromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", cfg.Driver)
	}
}

func openStore(cfg Config, schemas *domain.SchemaSet, stderr io.Writer) (*store.Store, error) {
	adapter, err := openAdapter(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	engine, err := validation.NewSchemaEngine(schemas)
	if err != nil {
		return nil, err
	}
	return store.New(schemas,
		store.WithAdapter(adapter),
		store.WithValidation(engine),
		store.WithLogger(log.New(stderr, cfg.LogLevel)),
	)
}

func cmdFind(cfg Config, schemas *domain.SchemaSet, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	fs.SetOutput(stderr)
	entity := fs.String("type", "", "entity type")
	id := fs.String("id", "", "external id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, err := openStore(cfg, schemas, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	p, err := st.FindRecord(context.Background(), *entity, *id)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	st.Flush()
	if err := p.Err(); err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	b := p.Content().(*record.Block)
	out := map[string]any{"state": b.StatePath(), "attributes": map[string]any{}}
	attrs := out["attributes"].(map[string]any)
	for name := range b.Schema().Attributes {
		if v, ok := b.ModelData().Attribute(name); ok {
			attrs[name] = v
		}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	return 0
}

func cmdExport(cfg Config, schemas *domain.SchemaSet, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	key := fs.String("key", "snapshots/latest.json", "archive key to write")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ctx := context.Background()
	st, err := openStore(cfg, schemas, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	archive, err := openArchive(ctx, cfg.Snapshot)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	if err := st.Export(ctx, archive, *key); err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "exported snapshot %s\n", *key)
	return 0
}

func cmdImport(cfg Config, schemas *domain.SchemaSet, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	key := fs.String("key", "snapshots/latest.json", "archive key to read")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ctx := context.Background()
	st, err := openStore(cfg, schemas, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	archive, err := openArchive(ctx, cfg.Snapshot)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	n, err := st.Import(ctx, archive, *key)
	if err != nil {
		fmt.Fprintf(stderr, "recordctl: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "imported %d records from %s\n", n, *key)
	return 0
}
