package syncmap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrConfiguration reports a relation binding declared incorrectly. It is a
// programming error, not a runtime condition to recover from.
var ErrConfiguration = errors.New("invalid relation binding")

// Hub is the shared consistency domain of a group of stores. Stores created
// by the same hub may be bound to each other.
type Hub struct {
	// mu guards the cache of every store in the hub.
	mu sync.RWMutex
	// emitMu serializes apply-and-notify so subscribers observe snapshots in
	// mutation order.
	emitMu sync.Mutex

	flights singleflight.Group
	logger  *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger used for store diagnostics.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewStore creates an empty store in the hub. name identifies the store in
// logs and fetch deduplication; primaryKey is the field holding the key.
func (h *Hub) NewStore(name, primaryKey string) *Store {
	return &Store{
		hub:        h,
		name:       name,
		primaryKey: primaryKey,
		entries:    make(map[string]*entry),
		bindings:   make(map[string]*half),
	}
}

// fetch runs fn once per flight key; concurrent callers share the result.
func (h *Hub) fetch(flight string, fn func() (any, error)) (any, error) {
	v, err, shared := h.flights.Do(flight, fn)
	if shared {
		h.logger.Debug("fetch shared", "flight", flight)
	}
	return v, err
}

// Bind declares the symmetric relation a.fieldA <-> b.fieldB. Either store
// may own an update; the other side is derived. A store may be bound to
// itself with two different fields.
func Bind(a *Store, fieldA string, kindA Kind, b *Store, fieldB string, kindB Kind) error {
	if a == nil || b == nil {
		return fmt.Errorf("bind: nil store: %w", ErrConfiguration)
	}
	if a.hub != b.hub {
		return fmt.Errorf("bind %s.%s to %s.%s: stores belong to different hubs: %w",
			a.name, fieldA, b.name, fieldB, ErrConfiguration)
	}
	if !kindA.valid() || !kindB.valid() {
		return fmt.Errorf("bind %s.%s (%v) to %s.%s (%v): %w",
			a.name, fieldA, kindA, b.name, fieldB, kindB, ErrConfiguration)
	}
	if fieldA == "" || fieldB == "" || fieldA == a.primaryKey || fieldB == b.primaryKey {
		return fmt.Errorf("bind %s.%q to %s.%q: invalid field: %w", a.name, fieldA, b.name, fieldB, ErrConfiguration)
	}
	if a == b && fieldA == fieldB {
		return fmt.Errorf("bind %s.%s to itself: %w", a.name, fieldA, ErrConfiguration)
	}

	h := a.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := a.bindings[fieldA]; ok {
		return fmt.Errorf("bind %s.%s: already bound: %w", a.name, fieldA, ErrConfiguration)
	}
	if _, ok := b.bindings[fieldB]; ok {
		return fmt.Errorf("bind %s.%s: already bound: %w", b.name, fieldB, ErrConfiguration)
	}

	a.bindings[fieldA] = &half{field: fieldA, kind: kindA, peer: b, peerField: fieldB, peerKind: kindB}
	b.bindings[fieldB] = &half{field: fieldB, kind: kindB, peer: a, peerField: fieldA, peerKind: kindA}
	return nil
}

// MustBind is like Bind but panics on a configuration error.
func MustBind(a *Store, fieldA string, kindA Kind, b *Store, fieldB string, kindB Kind) {
	if err := Bind(a, fieldA, kindA, b, fieldB, kindB); err != nil {
		panic(err)
	}
}

// patchSet accumulates per-store patches during one mutation. Stores are
// notified in the order they were first touched.
type patchSet struct {
	order   []*Store
	patches map[*Store]Patch
}

func newPatchSet() *patchSet {
	return &patchSet{patches: make(map[*Store]Patch)}
}

func (ps *patchSet) of(s *Store) Patch {
	p, ok := ps.patches[s]
	if !ok {
		p = make(Patch)
		ps.patches[s] = p
		ps.order = append(ps.order, s)
	}
	return p
}

func (ps *patchSet) touch(s *Store, key, field string) {
	if ps == nil {
		return
	}
	ps.of(s).touch(key, field)
}

func (ps *patchSet) mark(s *Store, key string, created, deleted bool) {
	p := ps.of(s)
	ch := p[key]
	ch.Created = ch.Created || created
	ch.Deleted = ch.Deleted || deleted
	p[key] = ch
}

// fire notifies every touched store in order. Must run without the cache
// lock held.
func (ps *patchSet) fire() {
	for _, s := range ps.order {
		s.notify(ps.patches[s])
	}
}
