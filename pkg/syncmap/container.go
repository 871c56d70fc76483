package syncmap

import (
	"encoding/json"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sort"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// Kind selects the container a relation field materializes into.
type Kind int

// Relation container kinds.
const (
	// KindSet records membership only.
	KindSet Kind = iota + 1
	// KindMapping records a value per referent, e.g. attendance.
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) valid() bool {
	return k == KindSet || k == KindMapping
}

// edge is one referent of a relation field with its per-edge data.
type edge struct {
	key   string
	value any
}

// container holds the referent keys of one relation field. Set containers
// store nil for every edge.
type container struct {
	kind  Kind
	edges map[string]any
}

func newContainer(kind Kind) *container {
	if !kind.valid() {
		panic(fmt.Sprintf("syncmap: relation container %v supports neither set nor mapping", kind))
	}
	return &container{kind: kind, edges: make(map[string]any)}
}

// put adds key or updates its edge value. Reports whether the container
// changed.
func (c *container) put(key string, value any) bool {
	switch c.kind {
	case KindSet:
		if _, ok := c.edges[key]; ok {
			return false
		}
		c.edges[key] = nil
		return true
	case KindMapping:
		if old, ok := c.edges[key]; ok && reflect.DeepEqual(old, value) {
			return false
		}
		c.edges[key] = value
		return true
	default:
		panic(fmt.Sprintf("syncmap: relation container %v supports neither set nor mapping", c.kind))
	}
}

func (c *container) remove(key string) bool {
	if _, ok := c.edges[key]; !ok {
		return false
	}
	delete(c.edges, key)
	return true
}

func (c *container) has(key string) bool {
	_, ok := c.edges[key]
	return ok
}

func (c *container) get(key string) (any, bool) {
	v, ok := c.edges[key]
	return v, ok
}

// keys returns the referent keys in sorted order.
func (c *container) keys() []string {
	keys := make([]string, 0, len(c.edges))
	for k := range c.edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *container) clone() *container {
	cp := &container{kind: c.kind, edges: make(map[string]any, len(c.edges))}
	for k, v := range c.edges {
		cp.edges[k] = v
	}
	return cp
}

// toEdges converts a raw relation value from the wire into edges. Slices
// keep their order; maps are visited in key order.
func toEdges(raw any) ([]edge, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		edges := make([]edge, 0, len(v))
		for _, k := range v {
			edges = append(edges, edge{key: k})
		}
		return edges, nil
	case []any:
		edges := make([]edge, 0, len(v))
		for _, item := range v {
			k, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("relation key %v (%T): %w", item, item, types.ErrInvalidData)
			}
			edges = append(edges, edge{key: k})
		}
		return edges, nil
	case map[string]any:
		return mapEdges(v), nil
	case Fields:
		return mapEdges(v), nil
	case map[string]bool:
		m := make(map[string]any, len(v))
		for k, b := range v {
			m[k] = b
		}
		return mapEdges(m), nil
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return mapEdges(m), nil
	case Relation:
		return v.edges(), nil
	default:
		return nil, fmt.Errorf("relation value %T: %w", raw, types.ErrInvalidData)
	}
}

func mapEdges(m map[string]any) []edge {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	edges := make([]edge, 0, len(keys))
	for _, k := range keys {
		edges = append(edges, edge{key: k, value: m[k]})
	}
	return edges
}

// Relation is a read-only view of a relation field. Snapshots hand out
// relations over a private copy of the container, so the view never changes
// and cannot be used to modify the store. The zero Relation is empty.
type Relation struct {
	c *container
}

// Entry is one referent of a relation and its edge value. Set relations
// report a nil value.
type Entry struct {
	Key   string
	Value any
}

// Kind returns the container kind, or 0 for the zero Relation.
func (r Relation) Kind() Kind {
	if r.c == nil {
		return 0
	}
	return r.c.kind
}

// Len returns the number of referents.
func (r Relation) Len() int {
	if r.c == nil {
		return 0
	}
	return len(r.c.edges)
}

// Has reports whether key is a referent.
func (r Relation) Has(key string) bool {
	return r.c != nil && r.c.has(key)
}

// Get returns the edge value for key.
func (r Relation) Get(key string) (any, bool) {
	if r.c == nil {
		return nil, false
	}
	return r.c.get(key)
}

// Keys returns the referent keys in sorted order.
func (r Relation) Keys() []string {
	if r.c == nil {
		return nil
	}
	return r.c.keys()
}

// Values returns the edge values in key order.
func (r Relation) Values() []any {
	keys := r.Keys()
	values := make([]any, 0, len(keys))
	for _, k := range keys {
		values = append(values, r.c.edges[k])
	}
	return values
}

// Entries returns key/value pairs in key order.
func (r Relation) Entries() []Entry {
	keys := r.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Value: r.c.edges[k]})
	}
	return entries
}

// ForEach calls fn for every referent in key order.
func (r Relation) ForEach(fn func(key string, value any)) {
	for _, k := range r.Keys() {
		fn(k, r.c.edges[k])
	}
}

// All iterates referents in key order.
func (r Relation) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, k := range r.Keys() {
			if !yield(k, r.c.edges[k]) {
				return
			}
		}
	}
}

// MarshalJSON encodes a set as a sorted array of keys and a mapping as an
// object.
func (r Relation) MarshalJSON() ([]byte, error) {
	if r.Kind() == KindMapping {
		return json.Marshal(r.c.edges)
	}
	keys := r.Keys()
	if keys == nil {
		keys = []string{}
	}
	return json.Marshal(keys)
}

func (r Relation) edges() []edge {
	entries := r.Entries()
	edges := make([]edge, 0, len(entries))
	for _, e := range entries {
		edges = append(edges, edge{key: e.Key, value: e.Value})
	}
	return edges
}

// Equal reports whether both relations hold the same referents and edges.
func (r Relation) Equal(other Relation) bool {
	if r.Len() != other.Len() {
		return false
	}
	if !slices.Equal(r.Keys(), other.Keys()) {
		return false
	}
	for _, k := range r.Keys() {
		a, _ := r.Get(k)
		b, _ := other.Get(k)
		if !reflect.DeepEqual(a, b) {
			return false
		}
	}
	return true
}
