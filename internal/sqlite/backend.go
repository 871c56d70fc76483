package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

var _ types.Backend = (*Backend)(nil)

// dbFile is the SQLite file rebuilt from the JSONL files on every attach.
const dbFile = "tsubone.db"

// Backend implements types.Backend using SQLite as the query engine and
// JSONL files as the source of truth.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dataDir  string
	db       *sql.DB
	tables   map[string]*table
	logger   *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger for load and write diagnostics.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		tables: make(map[string]*table),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, rebuilds the SQLite database and
// loads every JSONL file into it.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// The database is a cache of the JSONL files; start from an empty one.
	dbPath := filepath.Join(dataDir, dbFile)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	if err := initJSONLFiles(dataDir); err != nil {
		db.Close()
		return err
	}
	if err := loadAllJSONL(db, dataDir, b.logger); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.config = config
	b.dataDir = dataDir
	b.attached = true
	for _, name := range types.StandardTableNames {
		b.tables[name] = newTable(b, entityDefs[name])
	}

	b.logger.Debug("backend attached", "data_dir", dataDir)
	return nil
}

// Detach releases all resources held by the backend.
// Closes the SQLite connection. After Detach, all operations return
// ErrDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	b.tables = make(map[string]*table)
	return nil
}

// table returns the accessor for name. The caller holds b.mu.
func (b *Backend) table(name string) (*table, error) {
	if !b.attached {
		return nil, types.ErrDetached
	}
	t, ok := b.tables[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, types.ErrTableNotFound)
	}
	return t, nil
}

// FetchDetail implements types.Remote.
func (b *Backend) FetchDetail(ctx context.Context, name, key string) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, err := b.table(name)
	if err != nil {
		return nil, err
	}
	return t.get(ctx, key)
}

// FetchList implements types.Remote.
func (b *Backend) FetchList(ctx context.Context, name string) ([]map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, err := b.table(name)
	if err != nil {
		return nil, err
	}
	return t.list(ctx)
}

// Create implements types.Remote.
func (b *Backend) Create(ctx context.Context, name string, props map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.table(name)
	if err != nil {
		return "", err
	}
	key, err := t.insert(ctx, props)
	if err != nil {
		return "", err
	}
	b.logger.Debug("entity created", "table", name, "key", key)
	return key, nil
}

// Mutate implements types.Remote.
func (b *Backend) Mutate(ctx context.Context, name, key string, props map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.table(name)
	if err != nil {
		return err
	}
	return t.update(ctx, key, props)
}

// Remove implements types.Remote.
func (b *Backend) Remove(ctx context.Context, name, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.table(name)
	if err != nil {
		return err
	}
	return t.remove(ctx, key)
}

// generateKey generates a new UUID v7 for entity keys.
func generateKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fall back to UUID v4 if v7 generation fails.
		return uuid.New().String()
	}
	return id.String()
}
