// Package sqlite exposes the SQLite remote for the tsubone sync layer while
// keeping its schema and persistence details internal.
package sqlite

import (
	"log/slog"

	"github.com/kagucho/tsubonesystem3-sub000/internal/sqlite"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// Option configures a backend created by NewBackend.
type Option = sqlite.Option

// WithLogger sets the logger for load and write diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return sqlite.WithLogger(logger)
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	backend := sqlite.NewBackend()
//	err := backend.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".tsubone-db",
//	})
//	defer backend.Detach()
//	c := client.New(backend)
func NewBackend(opts ...Option) types.Backend {
	return sqlite.NewBackend(opts...)
}
