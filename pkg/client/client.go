// Package client is the public entry point of the sync layer. A Client owns
// one entity store per standard table, declares the relations between them
// once, and exposes each table as a Collection backed by a types.Remote.
package client

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/syncmap"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// Client groups the collections of one remote.
type Client struct {
	hub         *syncmap.Hub
	remote      types.Remote
	logger      *slog.Logger
	collections map[string]*Collection

	Members  *Collection
	Clubs    *Collection
	Officers *Collection
	Mails    *Collection
	Parties  *Collection
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger shared by the client and its stores.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client whose collections read and write through remote.
func New(remote types.Remote, opts ...Option) *Client {
	c := &Client{
		remote:      remote,
		logger:      slog.Default(),
		collections: make(map[string]*Collection, len(types.StandardTableNames)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.hub = syncmap.NewHub(syncmap.WithLogger(c.logger))

	for _, name := range types.StandardTableNames {
		key, err := types.PrimaryKey(name)
		if err != nil {
			panic(err)
		}
		c.collections[name] = newCollection(name, c.hub.NewStore(name, key), remote)
	}
	for _, rel := range types.StandardRelations {
		kind := syncmap.KindSet
		if rel.Valued {
			kind = syncmap.KindMapping
		}
		syncmap.MustBind(
			c.collections[rel.Table].store, rel.Field, kind,
			c.collections[rel.PeerTable].store, rel.PeerField, kind,
		)
	}

	c.Members = c.collections[types.TableMembers]
	c.Clubs = c.collections[types.TableClubs]
	c.Officers = c.collections[types.TableOfficers]
	c.Mails = c.collections[types.TableMails]
	c.Parties = c.collections[types.TableParties]
	return c
}

// Collection returns the collection for a table name.
// Returns ErrTableNotFound if the name is not a standard table.
func (c *Client) Collection(table string) (*Collection, error) {
	col, ok := c.collections[table]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", table, types.ErrTableNotFound)
	}
	return col, nil
}

// Preload fetches every collection's list concurrently and syncs the rows
// into the cache. The first failure cancels the remaining fetches and is
// returned.
func (c *Client) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range types.StandardTableNames {
		col := c.collections[name]
		g.Go(func() error {
			n, err := col.preload(ctx)
			if err != nil {
				return fmt.Errorf("preload %s: %w", name, err)
			}
			c.logger.Debug("collection preloaded", "table", name, "rows", n)
			return nil
		})
	}
	return g.Wait()
}
