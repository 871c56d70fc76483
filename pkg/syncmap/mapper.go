package syncmap

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// FetchFunc fetches the raw fields of one entity from the remote.
type FetchFunc func(ctx context.Context, key string) (Fields, error)

// FetchAllFunc fetches every entity of a collection from the remote.
type FetchAllFunc func(ctx context.Context) ([]Fields, error)

// DetailMapper hands out one memoized Stream per key.
type DetailMapper struct {
	store *Store
	fetch FetchFunc

	mu      sync.Mutex
	streams map[string]*Stream[Snapshot]
}

// DetailMapper returns a mapper whose streams fetch entities with fetch.
func (s *Store) DetailMapper(fetch FetchFunc) *DetailMapper {
	return &DetailMapper{
		store:   s,
		fetch:   fetch,
		streams: make(map[string]*Stream[Snapshot]),
	}
}

// Map subscribes cb to the stream for key. The first subscription fetches
// the entity, syncs it and emits a Snapshot; later subscriptions share the
// stream and receive its last value immediately. A tombstoned key fails
// with ErrNotFound without fetching. Fetch errors reach cb unmodified.
//
// The fetch keeps ctx's values but not its cancellation: the stream is
// shared, so it ends only when its last subscriber unsubscribes, and a
// fetch already under way still syncs into the cache.
//
// cb must not mutate the hub synchronously.
func (m *DetailMapper) Map(ctx context.Context, key string, cb func(Snapshot, error)) *Subscription {
	for {
		if sub, ok := m.stream(ctx, key).subscribe(cb); ok {
			return sub
		}
	}
}

// Stream returns the live stream for key, if any.
func (m *DetailMapper) Stream(key string) (*Stream[Snapshot], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[key]
	return st, ok
}

func (m *DetailMapper) stream(ctx context.Context, key string) *Stream[Snapshot] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.streams[key]; ok && !st.ended() {
		return st
	}
	st := newStream[Snapshot]()
	m.streams[key] = st
	st.whenEnded(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.streams[key] == st {
			delete(m.streams, key)
		}
	})
	go m.load(context.WithoutCancel(ctx), key, st)
	return st
}

func (m *DetailMapper) load(ctx context.Context, key string, st *Stream[Snapshot]) {
	s := m.store
	logger := s.hub.logger.With("store", s.name, "key", key)

	if key == "" {
		st.fail(types.ErrInvalidID)
		return
	}
	if s.State(key) == EntryTombstoned {
		st.fail(fmt.Errorf("%s %q: %w", s.name, key, types.ErrNotFound))
		return
	}

	v, err := s.hub.fetch(s.name+"/detail/"+key, func() (any, error) {
		return m.fetch(ctx, key)
	})
	if err != nil {
		logger.Debug("detail fetch failed", "error", err)
		st.fail(err)
		return
	}
	fields, _ := v.(Fields)

	s.hub.emitMu.Lock()
	defer s.hub.emitMu.Unlock()

	// The cache keeps the data even when nobody listens anymore.
	if err := s.merge([]string{key}, []Fields{fields}); err != nil {
		st.fail(err)
		return
	}
	if st.ended() {
		return
	}

	cancel := s.Listen(func(p Patch) {
		if p.Touches(key) {
			m.emit(st, key)
		}
	})
	st.whenEnded(cancel)
	m.emit(st, key)
}

func (m *DetailMapper) emit(st *Stream[Snapshot], key string) {
	snap, err := m.store.Snapshot(key)
	if err != nil {
		st.fail(err)
		return
	}
	st.emit(snap)
}

// ListMapper hands out a single shared Stream over a whole collection.
type ListMapper struct {
	store  *Store
	fetch  FetchAllFunc
	fields []string

	mu     sync.Mutex
	stream *Stream[*List]
}

// ListMapper returns a mapper whose stream lists the primary key plus the
// given fields of every entity.
func (s *Store) ListMapper(fetch FetchAllFunc, fields ...string) *ListMapper {
	return &ListMapper{
		store:  s,
		fetch:  fetch,
		fields: slices.Clone(fields),
	}
}

// Map subscribes cb to the collection stream. The first subscription
// fetches the collection and syncs every row; the stream re-emits whenever
// an entity is created or deleted or one of the listed fields changes. A
// collection with an invalid row fails the stream without caching any row.
// As with DetailMapper.Map, the fetch ignores ctx's cancellation.
//
// cb must not mutate the hub synchronously.
func (m *ListMapper) Map(ctx context.Context, cb func(*List, error)) *Subscription {
	for {
		if sub, ok := m.current(ctx).subscribe(cb); ok {
			return sub
		}
	}
}

func (m *ListMapper) current(ctx context.Context) *Stream[*List] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil && !m.stream.ended() {
		return m.stream
	}
	st := newStream[*List]()
	m.stream = st
	st.whenEnded(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stream == st {
			m.stream = nil
		}
	})
	go m.load(context.WithoutCancel(ctx), st)
	return st
}

func (m *ListMapper) load(ctx context.Context, st *Stream[*List]) {
	s := m.store
	logger := s.hub.logger.With("store", s.name)

	v, err := s.hub.fetch(s.name+"/list", func() (any, error) {
		return m.fetch(ctx)
	})
	if err != nil {
		logger.Debug("list fetch failed", "error", err)
		st.fail(err)
		return
	}
	rows, _ := v.([]Fields)

	s.hub.emitMu.Lock()
	defer s.hub.emitMu.Unlock()

	if _, err := s.syncRows(rows); err != nil {
		logger.Debug("list sync failed", "error", err)
		st.fail(err)
		return
	}
	if st.ended() {
		return
	}

	cancel := s.Listen(func(p Patch) {
		if m.relevant(p) {
			st.emit(s.list(m.fields))
		}
	})
	st.whenEnded(cancel)
	st.emit(s.list(m.fields))
}

func (m *ListMapper) relevant(p Patch) bool {
	for _, ch := range p {
		if ch.Created || ch.Deleted {
			return true
		}
		for _, f := range ch.Fields {
			if f == m.store.primaryKey || slices.Contains(m.fields, f) {
				return true
			}
		}
	}
	return false
}
