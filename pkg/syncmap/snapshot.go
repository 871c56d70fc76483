package syncmap

import (
	"encoding/json"
	"iter"
	"slices"
	"sort"
)

// Fields is the raw field mapping of one entity as it crosses the remote
// boundary.
type Fields map[string]any

// KeyChange describes what a mutation did to one key.
type KeyChange struct {
	// Created is set when the key became listable by this mutation.
	Created bool
	// Deleted is set when the key was tombstoned.
	Deleted bool
	// Fields names the fields that were written.
	Fields []string
}

// Patch maps every key a mutation touched in one store to its change.
type Patch map[string]KeyChange

// Touches reports whether the patch changed key, restricted to the given
// fields when any are named. Deleting a key touches every field.
func (p Patch) Touches(key string, fields ...string) bool {
	ch, ok := p[key]
	if !ok {
		return false
	}
	if ch.Deleted || len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if slices.Contains(ch.Fields, f) {
			return true
		}
	}
	return false
}

func (p Patch) touch(key, field string) {
	ch := p[key]
	if !slices.Contains(ch.Fields, field) {
		ch.Fields = append(ch.Fields, field)
	}
	p[key] = ch
}

// Snapshot is a frozen, point-in-time copy of one cache entry. Relation
// fields are exposed as read-only Relation values.
type Snapshot struct {
	key    string
	fields map[string]any
}

// Key returns the entity key.
func (s Snapshot) Key() string { return s.key }

// Get returns the value of a field. Relation fields come back as Relation.
func (s Snapshot) Get(name string) (any, bool) {
	v, ok := s.fields[name]
	return v, ok
}

// String returns a plain string field, or "" when unset or not a string.
func (s Snapshot) String(name string) string {
	v, _ := s.fields[name].(string)
	return v
}

// Relation returns a relation field, or the empty Relation when unset.
func (s Snapshot) Relation(name string) Relation {
	r, _ := s.fields[name].(Relation)
	return r
}

// Names returns the set field names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.fields))
	for n := range s.fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Fields returns a shallow copy of the snapshot's fields.
func (s Snapshot) Fields() Fields {
	cp := make(Fields, len(s.fields))
	for k, v := range s.fields {
		cp[k] = v
	}
	return cp
}

// MarshalJSON encodes the snapshot as a JSON object of its fields.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields)
}

// List is a frozen projection of every listable entry of a store, in the
// order the keys were first cached.
type List struct {
	rows []Snapshot
}

// Len returns the number of rows.
func (l *List) Len() int { return len(l.rows) }

// Rows returns a copy of the rows.
func (l *List) Rows() []Snapshot { return slices.Clone(l.rows) }

// All iterates the rows lazily.
func (l *List) All() iter.Seq[Snapshot] {
	return func(yield func(Snapshot) bool) {
		for _, row := range l.rows {
			if !yield(row) {
				return
			}
		}
	}
}

// Get returns the row for key.
func (l *List) Get(key string) (Snapshot, bool) {
	for _, row := range l.rows {
		if row.key == key {
			return row, true
		}
	}
	return Snapshot{}, false
}

// MarshalJSON encodes the list as a JSON array of rows.
func (l *List) MarshalJSON() ([]byte, error) {
	if l.rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.rows)
}
