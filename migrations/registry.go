// Package migrations hands the embedded inbox schema to a migration runner,
// one directory per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"

	inbox "github.com/goliatone/go-webhook-inbox"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Schemas name the table sets a migration pair creates. The buffered event
// table is always installed; fulfillment tables are optional.
const (
	SchemaBufferedEvents = "inbox_buffered_events"
	SchemaFulfillment    = "inbox_fulfillment"
)

const (
	defaultSourceLabel = "go-webhook-inbox"
	migrationsDir      = "data/sql/migrations"
)

// Source is the migration directory for one dialect and the schemas found in
// it, in version order.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
	Schemas []string
}

// Plan describes what Register handed to the runner.
type Plan struct {
	SourceLabel string
	Dialects    []string
	Schemas     []string
	Sources     []Source

	root fs.FS
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Plan)

func WithSourceLabel(label string) Option {
	return func(p *Plan) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			p.SourceLabel = trimmed
		}
	}
}

// WithDialects limits registration to the given dialects, usually the one
// the process is connected to.
func WithDialects(dialects ...string) Option {
	return func(p *Plan) {
		if next := normalizeNames(dialects); len(next) > 0 {
			p.Dialects = next
		}
	}
}

// WithSchemas limits registration to the named schemas. The buffered event
// schema is added when missing.
func WithSchemas(schemas ...string) Option {
	return func(p *Plan) {
		next := normalizeNames(schemas)
		if len(next) == 0 {
			return
		}
		if !slices.Contains(next, SchemaBufferedEvents) {
			next = append([]string{SchemaBufferedEvents}, next...)
		}
		p.Schemas = next
	}
}

// WithRoot replaces the embedded migration tree.
func WithRoot(root fs.FS) Option {
	return func(p *Plan) {
		if root != nil {
			p.root = root
		}
	}
}

// Sources resolves the postgres and sqlite directories under root, or under
// the embedded tree when root is nil, and checks that every up migration has
// a matching down migration.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = inbox.GetCoreMigrationsFS()
	}
	base, err := fs.Sub(root, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", migrationsDir, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite directory: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: migrationsDir, FS: base},
		{Dialect: DialectSQLite, Path: path.Join(migrationsDir, DialectSQLite), FS: sqliteFS},
	}
	for i := range sources {
		schemas, err := scanSchemas(sources[i].FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s: %w", sources[i].Dialect, err)
		}
		sources[i].Schemas = schemas
	}
	return sources, nil
}

// Register passes each selected dialect directory to registerFn. When the
// schema set is limited, registerFn sees only the matching migration files.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Plan, error) {
	plan := Plan{
		SourceLabel: defaultSourceLabel,
		Dialects:    []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&plan)
		}
	}
	if registerFn == nil {
		return plan, fmt.Errorf("migrations: register function is required")
	}
	for _, dialect := range plan.Dialects {
		if dialect != DialectPostgres && dialect != DialectSQLite {
			return plan, fmt.Errorf("migrations: unsupported dialect %q", dialect)
		}
	}

	sources, err := Sources(plan.root)
	if err != nil {
		return plan, err
	}

	for _, source := range sources {
		if !slices.Contains(plan.Dialects, source.Dialect) {
			continue
		}
		fsys := source.FS
		if len(plan.Schemas) > 0 {
			for _, schema := range plan.Schemas {
				if !slices.Contains(source.Schemas, schema) {
					return plan, fmt.Errorf("migrations: %s has no %s schema", source.Dialect, schema)
				}
			}
			fsys = schemaFS{fsys: source.FS, keep: plan.Schemas}
			source.Schemas = slices.Clone(plan.Schemas)
		}
		source.FS = fsys
		if err := registerFn(ctx, source.Dialect, plan.SourceLabel, fsys); err != nil {
			return plan, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
		plan.Sources = append(plan.Sources, source)
	}
	if len(plan.Sources) == 0 {
		return plan, fmt.Errorf("migrations: no source matched dialects %v", plan.Dialects)
	}
	return plan, nil
}

type migrationFile struct {
	version   int
	schema    string
	direction string
}

// parseMigrationName reads "<version>_<schema>.<up|down>.sql".
func parseMigrationName(filename string) (migrationFile, bool) {
	var direction string
	switch {
	case strings.HasSuffix(filename, ".up.sql"):
		direction = "up"
	case strings.HasSuffix(filename, ".down.sql"):
		direction = "down"
	default:
		return migrationFile{}, false
	}
	stem := strings.TrimSuffix(filename, "."+direction+".sql")
	rawVersion, schema, ok := strings.Cut(stem, "_")
	if !ok || schema == "" {
		return migrationFile{}, false
	}
	version, err := strconv.Atoi(rawVersion)
	if err != nil {
		return migrationFile{}, false
	}
	return migrationFile{version: version, schema: schema, direction: direction}, true
}

func scanSchemas(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	ups := map[int]string{}
	downs := map[int]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		target := ups
		if file.direction == "down" {
			target = downs
		}
		if existing, dup := target[file.version]; dup {
			return nil, fmt.Errorf("version %d is used by %s and %s", file.version, existing, file.schema)
		}
		target[file.version] = file.schema
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}

	versions := make([]int, 0, len(ups))
	for version, schema := range ups {
		if downs[version] != schema {
			return nil, fmt.Errorf("%05d_%s has no matching down migration", version, schema)
		}
		versions = append(versions, version)
	}
	sort.Ints(versions)
	schemas := make([]string, 0, len(versions))
	for _, version := range versions {
		schemas = append(schemas, ups[version])
	}
	return schemas, nil
}

// schemaFS hides migration files whose schema is not kept. Other files and
// directories pass through.
type schemaFS struct {
	fsys fs.FS
	keep []string
}

func (s schemaFS) Open(name string) (fs.File, error) {
	if !s.allowed(path.Base(name)) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return s.fsys.Open(name)
}

func (s schemaFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(s.fsys, name)
	if err != nil {
		return nil, err
	}
	out := make([]fs.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || s.allowed(entry.Name()) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s schemaFS) allowed(filename string) bool {
	file, ok := parseMigrationName(filename)
	if !ok {
		return true
	}
	return slices.Contains(s.keep, file.schema)
}

func normalizeNames(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" || slices.Contains(out, trimmed) {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

var _ fs.ReadDirFS = schemaFS{}
