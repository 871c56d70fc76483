package client

import (
	"context"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/syncmap"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// Collection is the view contract of one table: streams for a single
// entity and for the whole table, and mutations that go to the remote
// first and to the cache once the remote accepts them.
type Collection struct {
	name   string
	store  *syncmap.Store
	remote types.Remote
	detail *syncmap.DetailMapper
	list   *syncmap.ListMapper
}

func newCollection(name string, store *syncmap.Store, remote types.Remote) *Collection {
	c := &Collection{name: name, store: store, remote: remote}
	c.detail = store.DetailMapper(func(ctx context.Context, key string) (syncmap.Fields, error) {
		raw, err := remote.FetchDetail(ctx, name, key)
		if err != nil {
			return nil, err
		}
		return syncmap.Fields(raw), nil
	})
	c.list = store.ListMapper(func(ctx context.Context) ([]syncmap.Fields, error) {
		return c.fetchList(ctx)
	}, types.ListFields(name)...)
	return c
}

// Name returns the table name.
func (c *Collection) Name() string { return c.name }

// Store returns the entity store behind the collection.
func (c *Collection) Store() *syncmap.Store { return c.store }

// Detail subscribes cb to the entity stored under key. See
// syncmap.DetailMapper.Map.
func (c *Collection) Detail(ctx context.Context, key string, cb func(syncmap.Snapshot, error)) *syncmap.Subscription {
	return c.detail.Map(ctx, key, cb)
}

// List subscribes cb to the whole collection. See syncmap.ListMapper.Map.
func (c *Collection) List(ctx context.Context, cb func(*syncmap.List, error)) *syncmap.Subscription {
	return c.list.Map(ctx, cb)
}

// Get returns the first value of the detail stream for key and detaches.
func (c *Collection) Get(ctx context.Context, key string) (syncmap.Snapshot, error) {
	return first(ctx, func(cb func(syncmap.Snapshot, error)) *syncmap.Subscription {
		return c.Detail(ctx, key, cb)
	})
}

// All returns the first value of the list stream and detaches.
func (c *Collection) All(ctx context.Context) (*syncmap.List, error) {
	return first(ctx, func(cb func(*syncmap.List, error)) *syncmap.Subscription {
		return c.List(ctx, cb)
	})
}

// Create inserts an entity on the remote and caches it under the key the
// remote returns.
func (c *Collection) Create(ctx context.Context, props syncmap.Fields) (string, error) {
	return c.store.Create(ctx, func(ctx context.Context) (string, error) {
		return c.remote.Create(ctx, c.name, props)
	}, props)
}

// Patch updates key on the remote and then in the cache.
func (c *Collection) Patch(ctx context.Context, key string, props syncmap.Fields) error {
	return c.store.Patch(ctx, func(ctx context.Context) error {
		return c.remote.Mutate(ctx, c.name, key, props)
	}, key, props)
}

// Delete removes key on the remote and tombstones it in the cache.
func (c *Collection) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, func(ctx context.Context) error {
		return c.remote.Remove(ctx, c.name, key)
	}, key)
}

func (c *Collection) fetchList(ctx context.Context) ([]syncmap.Fields, error) {
	raw, err := c.remote.FetchList(ctx, c.name)
	if err != nil {
		return nil, err
	}
	rows := make([]syncmap.Fields, len(raw))
	for i, r := range raw {
		rows[i] = syncmap.Fields(r)
	}
	return rows, nil
}

// preload syncs the remote list into the cache without opening a stream.
// An invalid row leaves the whole list uncached.
func (c *Collection) preload(ctx context.Context) (int, error) {
	rows, err := c.fetchList(ctx)
	if err != nil {
		return 0, err
	}
	return c.store.SyncAll(rows)
}

// first subscribes through subscribe and waits for one delivery.
func first[T any](ctx context.Context, subscribe func(func(T, error)) *syncmap.Subscription) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	sub := subscribe(func(v T, err error) {
		select {
		case ch <- result{value: v, err: err}:
		default:
		}
	})
	defer sub.Unsubscribe()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
