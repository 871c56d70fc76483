package syncmap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// errMissingKey marks synced rows without a usable primary key.
var errMissingKey = errors.New("row has no primary key")

// EntryState is the cache state of one key.
type EntryState int

// Entry states. Tombstoned is distinct from Absent: the key is known to be
// deleted and is never resurrected by a sync or a back-reference.
const (
	EntryAbsent EntryState = iota
	EntryTombstoned
	EntryPresent
)

func (s EntryState) String() string {
	switch s {
	case EntryAbsent:
		return "absent"
	case EntryTombstoned:
		return "tombstoned"
	case EntryPresent:
		return "present"
	default:
		return fmt.Sprintf("EntryState(%d)", int(s))
	}
}

// entry is the cached state of one key. Relation fields hold *container.
type entry struct {
	tombstoned bool
	// synced is set once the entry was written from remote data rather than
	// only as a placeholder for back-references.
	synced bool
	fields map[string]any
}

// relation returns the container of a relation field, creating it if
// missing.
func (e *entry) relation(field string, kind Kind) *container {
	if c, ok := e.fields[field].(*container); ok {
		return c
	}
	c := newContainer(kind)
	e.fields[field] = c
	return c
}

// Listener receives the patch of one mutation. Listeners run synchronously
// and in registration order.
type Listener func(Patch)

type listenerSlot struct {
	id uint64
	fn Listener
}

// Store caches one entity kind. A store exclusively owns its cache and its
// listener list; streams hold a reference to the store.
type Store struct {
	hub        *Hub
	name       string
	primaryKey string

	// Guarded by hub.mu.
	entries  map[string]*entry
	order    []string
	bindings map[string]*half

	lmu       sync.Mutex
	listeners []listenerSlot
	nextID    uint64
}

// MutateFunc performs a remote mutation. The store applies the local change
// only after it returns nil.
type MutateFunc func(ctx context.Context) error

// CreateFunc performs a remote creation and returns the new key.
type CreateFunc func(ctx context.Context) (string, error)

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// PrimaryKey returns the field holding each entity's key.
func (s *Store) PrimaryKey() string { return s.primaryKey }

// create adds an empty entry. The caller must hold the hub lock.
func (s *Store) create(key string) *entry {
	e := &entry{fields: make(map[string]any)}
	s.entries[key] = e
	s.order = append(s.order, key)
	return e
}

// State returns the cache state of key.
func (s *Store) State(key string) EntryState {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.stateLocked(key)
}

func (s *Store) stateLocked(key string) EntryState {
	e, ok := s.entries[key]
	switch {
	case !ok:
		return EntryAbsent
	case e.tombstoned:
		return EntryTombstoned
	default:
		return EntryPresent
	}
}

// convert validates and converts every bound field of raw before anything
// is applied.
func (s *Store) convert(raw Fields) (map[string][]edge, error) {
	var rels map[string][]edge
	for name, value := range raw {
		if _, bound := s.bindings[name]; !bound {
			continue
		}
		edges, err := toEdges(value)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", s.name, name, err)
		}
		if rels == nil {
			rels = make(map[string][]edge)
		}
		rels[name] = edges
	}
	return rels, nil
}

// Sync merges raw remote fields into the entry for key, creating it if
// needed. Already-set plain fields are not overwritten by a later raw sync;
// relation fields are union-merged and their back-references installed.
// Referents that are tombstoned are dropped on both sides. Sync on a
// tombstoned key is ignored.
//
// Listeners see whatever the merge changed: the store's own listeners fire
// first, then each referent store touched through a binding. A key that
// becomes listable for the first time is reported as created. Syncing data
// the cache already holds fires nothing.
//
// Returns ErrInvalidData, leaving the cache untouched, if a relation value
// cannot be converted.
func (s *Store) Sync(key string, raw Fields) error {
	if key == "" {
		return types.ErrInvalidID
	}
	s.hub.emitMu.Lock()
	defer s.hub.emitMu.Unlock()
	return s.merge([]string{key}, []Fields{raw})
}

// SyncAll merges a batch of remote rows keyed by the store's primary key
// and reports how many were merged. Rows without a key are skipped. Every
// row is validated before any is applied, so an invalid row leaves the
// cache untouched. Listeners fire once for the whole batch.
func (s *Store) SyncAll(rows []Fields) (int, error) {
	s.hub.emitMu.Lock()
	defer s.hub.emitMu.Unlock()
	return s.syncRows(rows)
}

// syncRows is SyncAll for callers already holding emitMu.
func (s *Store) syncRows(rows []Fields) (int, error) {
	keys := make([]string, 0, len(rows))
	keyed := make([]Fields, 0, len(rows))
	for _, row := range rows {
		key, ok := row[s.primaryKey].(string)
		if !ok || key == "" {
			s.hub.logger.Warn("row skipped", "store", s.name, "error", errMissingKey, "field", s.primaryKey)
			continue
		}
		keys = append(keys, key)
		keyed = append(keyed, row)
	}
	if err := s.merge(keys, keyed); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// merge syncs rows[i] into keys[i] and notifies listeners. The caller must
// hold emitMu.
func (s *Store) merge(keys []string, rows []Fields) error {
	ps := newPatchSet()
	ps.of(s)

	s.hub.mu.Lock()
	rels := make([]map[string][]edge, len(rows))
	for i, raw := range rows {
		r, err := s.convert(raw)
		if err != nil {
			s.hub.mu.Unlock()
			if len(rows) > 1 {
				return fmt.Errorf("%s %q: %w", s.name, keys[i], err)
			}
			return err
		}
		rels[i] = r
	}
	for i, key := range keys {
		s.syncLocked(key, rows[i], rels[i], ps)
	}
	s.hub.mu.Unlock()

	ps.fire()
	return nil
}

func (s *Store) syncLocked(key string, raw Fields, rels map[string][]edge, ps *patchSet) {
	e := s.entries[key]
	switch {
	case e == nil:
		e = s.create(key)
	case e.tombstoned:
		s.hub.logger.Debug("sync skipped: key tombstoned", "store", s.name, "key", key)
		return
	}
	if !e.synced {
		ps.mark(s, key, true, false)
		e.synced = true
	}

	for name, value := range raw {
		if _, bound := s.bindings[name]; bound {
			continue
		}
		if _, set := e.fields[name]; set {
			continue
		}
		e.fields[name] = value
		ps.touch(s, key, name)
	}
	if _, set := e.fields[s.primaryKey]; !set {
		e.fields[s.primaryKey] = key
		ps.touch(s, key, s.primaryKey)
	}

	for _, name := range sortedKeys(rels) {
		h := s.bindings[name]
		if _, ok := e.fields[name].(*container); !ok {
			ps.touch(s, key, name)
		}
		c := e.relation(name, h.kind)
		for _, ed := range rels[name] {
			if !h.addReference(key, ed, ps) {
				continue
			}
			if c.put(ed.key, ed.value) {
				ps.touch(s, key, name)
			}
		}
	}
}

// Patch calls mutate and, once it succeeds, applies props to the entry for
// key. Plain fields are overwritten; relation fields are diffed against
// their previous value and the referents' back-references updated. The
// store's listeners fire once with the written fields, then each affected
// referent store fires once with its accumulated patch.
//
// If mutate fails its error is returned unchanged and the cache is left
// untouched. Patching a tombstoned key returns ErrNotFound without calling
// mutate.
func (s *Store) Patch(ctx context.Context, mutate MutateFunc, key string, props Fields) error {
	if key == "" {
		return types.ErrInvalidID
	}
	rels, err := s.convertChecked(props)
	if err != nil {
		return err
	}
	if s.State(key) == EntryTombstoned {
		return fmt.Errorf("patch %s %q: %w", s.name, key, types.ErrNotFound)
	}
	if err := mutate(ctx); err != nil {
		return err
	}
	return s.apply(key, props, rels, false)
}

// Create calls create and applies props to the returned key. The new key is
// reported as created so list streams pick it up.
func (s *Store) Create(ctx context.Context, create CreateFunc, props Fields) (string, error) {
	rels, err := s.convertChecked(props)
	if err != nil {
		return "", err
	}
	key, err := create(ctx)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("create %s: remote returned no key: %w", s.name, types.ErrInvalidID)
	}
	if err := s.apply(key, props, rels, true); err != nil {
		return "", err
	}
	return key, nil
}

// convertChecked converts relation fields under the read lock.
func (s *Store) convertChecked(props Fields) (map[string][]edge, error) {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.convert(props)
}

func (s *Store) apply(key string, props Fields, rels map[string][]edge, creating bool) error {
	s.hub.emitMu.Lock()
	defer s.hub.emitMu.Unlock()

	ps := newPatchSet()
	s.hub.mu.Lock()
	err := s.applyLocked(key, props, rels, creating, ps)
	s.hub.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.logger.Debug("patch applied", "store", s.name, "key", key, "stores", len(ps.order))
	ps.fire()
	return nil
}

func (s *Store) applyLocked(key string, props Fields, rels map[string][]edge, creating bool, ps *patchSet) error {
	e := s.entries[key]
	switch {
	case e == nil:
		e = s.create(key)
	case e.tombstoned:
		return fmt.Errorf("patch %s %q: %w", s.name, key, types.ErrNotFound)
	}

	// The owning store is registered first so it is notified first.
	created := creating || !e.synced
	ps.mark(s, key, created, false)
	e.synced = true
	if _, set := e.fields[s.primaryKey]; !set {
		e.fields[s.primaryKey] = key
	}

	for _, name := range sortedKeys(props) {
		if h, bound := s.bindings[name]; bound {
			next := h.materialize(rels[name])
			prev, ok := e.fields[name].(*container)
			if !ok {
				prev = newContainer(h.kind)
			}
			h.patchReference(key, prev, next, ps)
			e.fields[name] = next
		} else {
			e.fields[name] = props[name]
		}
		ps.touch(s, key, name)
	}
	return nil
}

// Delete calls remove and, once it succeeds, tombstones key and removes it
// from every referent's relation containers. The store's listeners fire with
// the key marked deleted before the referent stores fire. If remove fails
// its error is returned unchanged and nothing changes.
func (s *Store) Delete(ctx context.Context, remove MutateFunc, key string) error {
	if key == "" {
		return types.ErrInvalidID
	}
	if err := remove(ctx); err != nil {
		return err
	}

	s.hub.emitMu.Lock()
	defer s.hub.emitMu.Unlock()

	ps := newPatchSet()
	s.hub.mu.Lock()
	s.tombstoneLocked(key, ps)
	s.hub.mu.Unlock()

	s.hub.logger.Debug("delete applied", "store", s.name, "key", key, "stores", len(ps.order))
	ps.fire()
	return nil
}

func (s *Store) tombstoneLocked(key string, ps *patchSet) {
	ps.mark(s, key, false, true)

	e := s.entries[key]
	if e == nil {
		e = s.create(key)
	}
	if !e.tombstoned {
		for _, name := range sortedKeys(e.fields) {
			c, ok := e.fields[name].(*container)
			if !ok {
				continue
			}
			h := s.bindings[name]
			for _, r := range c.keys() {
				h.removeReference(key, r, ps)
			}
		}
	}
	e.tombstoned = true
	e.fields = nil
}

// Snapshot returns a frozen copy of the entry for key. Returns ErrNotFound
// if the key is absent or tombstoned.
func (s *Store) Snapshot(key string) (Snapshot, error) {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()

	e := s.entries[key]
	if e == nil || e.tombstoned {
		return Snapshot{}, fmt.Errorf("%s %q: %w", s.name, key, types.ErrNotFound)
	}
	return s.project(key, e, nil), nil
}

// project copies the selected fields of e, or all of them when fields is
// nil. The primary key is always included.
func (s *Store) project(key string, e *entry, fields []string) Snapshot {
	snap := Snapshot{key: key, fields: make(map[string]any, len(e.fields))}
	copyField := func(name string) {
		v, ok := e.fields[name]
		if !ok {
			return
		}
		if c, isRel := v.(*container); isRel {
			v = Relation{c: c.clone()}
		}
		snap.fields[name] = v
	}
	if fields == nil {
		for name := range e.fields {
			copyField(name)
		}
	} else {
		for _, name := range fields {
			copyField(name)
		}
	}
	snap.fields[s.primaryKey] = key
	return snap
}

// list projects every listable entry in first-cached order.
func (s *Store) list(fields []string) *List {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()

	l := &List{}
	for _, key := range s.order {
		e := s.entries[key]
		if e.tombstoned || !e.synced {
			continue
		}
		l.rows = append(l.rows, s.project(key, e, fields))
	}
	return l
}

// Listen registers fn for every mutation of this store and returns a
// function that unregisters it.
func (s *Store) Listen(fn Listener) (cancel func()) {
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerSlot{id: id, fn: fn})
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// notify runs the listeners registered when the notification started.
func (s *Store) notify(p Patch) {
	if len(p) == 0 {
		return
	}
	s.lmu.Lock()
	slots := make([]listenerSlot, len(s.listeners))
	copy(slots, s.listeners)
	s.lmu.Unlock()

	for _, l := range slots {
		l.fn(p)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
