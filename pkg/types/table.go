package types

import (
	"context"
	"errors"
)

// Remote is the server side of the sync layer. Every entity store reads and
// writes through it; the store itself never retries a failed call.
type Remote interface {
	// FetchDetail returns the raw fields of one entity, relation fields
	// included. Returns ErrNotFound if no entity exists with that key.
	FetchDetail(ctx context.Context, table, key string) (map[string]any, error)

	// FetchList returns every entity in the table. Rows carry the primary
	// key and the fields the table lists.
	FetchList(ctx context.Context, table string) ([]map[string]any, error)

	// Create inserts an entity and returns its key. When props has no
	// primary key the remote chooses one.
	Create(ctx context.Context, table string, props map[string]any) (string, error)

	// Mutate applies a partial update to an existing entity.
	Mutate(ctx context.Context, table, key string, props map[string]any) error

	// Remove deletes an entity and every relation row that refers to it.
	Remove(ctx context.Context, table, key string) error
}

// Entity operation errors.
var (
	ErrNotFound     = errors.New("not_found")
	ErrInvalidID    = errors.New("invalid entity ID")
	ErrInvalidData  = errors.New("invalid entity data")
	ErrDuplicateKey = errors.New("entity key already exists")
)
