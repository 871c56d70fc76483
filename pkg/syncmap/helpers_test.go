package syncmap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture is a hub with the club-membership bindings.
type fixture struct {
	hub      *Hub
	members  *Store
	clubs    *Store
	officers *Store
	parties  *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := NewHub(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	f := &fixture{
		hub:      hub,
		members:  hub.NewStore("members", "id"),
		clubs:    hub.NewStore("clubs", "id"),
		officers: hub.NewStore("officers", "id"),
		parties:  hub.NewStore("parties", "name"),
	}
	require.NoError(t, Bind(f.clubs, "members", KindSet, f.members, "clubs", KindSet))
	require.NoError(t, Bind(f.officers, "member", KindSet, f.members, "positions", KindSet))
	require.NoError(t, Bind(f.parties, "attendances", KindMapping, f.members, "parties", KindMapping))
	return f
}

func ok(context.Context) error { return nil }

var errRemote = errors.New("remote: 500 internal server error")

func failing(context.Context) error { return errRemote }

// relation reads a relation field straight from the cache.
func relation(t *testing.T, s *Store, key, field string) Relation {
	t.Helper()
	snap, err := s.Snapshot(key)
	require.NoError(t, err)
	return snap.Relation(field)
}

// assertSymmetric checks both directions of a binding across every present
// entry of a.
func assertSymmetric(t *testing.T, a *Store, fieldA string, b *Store, fieldB string) {
	t.Helper()
	a.hub.mu.RLock()
	defer a.hub.mu.RUnlock()

	check := func(from *Store, fromField string, to *Store, toField string) {
		for key, e := range from.entries {
			if e.tombstoned {
				continue
			}
			c, ok := e.fields[fromField].(*container)
			if !ok {
				continue
			}
			for _, r := range c.keys() {
				ref := to.entries[r]
				if !assert.NotNil(t, ref, "%s.%s: referent %q missing from %s", from.name, key, r, to.name) {
					continue
				}
				if !assert.False(t, ref.tombstoned, "%s %q references tombstoned %s %q", from.name, key, to.name, r) {
					continue
				}
				back, ok := ref.fields[toField].(*container)
				if assert.True(t, ok, "%s %q has no %s", to.name, r, toField) {
					assert.True(t, back.has(key), "%s %q.%s lacks %q", to.name, r, toField, key)
				}
			}
		}
	}
	check(a, fieldA, b, fieldB)
	check(b, fieldB, a, fieldA)
}

// recorder collects listener patches in firing order.
type recorder struct {
	events []string
	last   map[string]Patch
}

func newRecorder(stores ...*Store) *recorder {
	r := &recorder{last: make(map[string]Patch)}
	for _, s := range stores {
		s.Listen(func(p Patch) {
			r.events = append(r.events, s.name)
			r.last[s.name] = p
		})
	}
	return r
}

type result[T any] struct {
	value T
	err   error
}

// collect returns a callback that forwards deliveries to a channel.
func collect[T any]() (chan result[T], func(T, error)) {
	ch := make(chan result[T], 16)
	return ch, func(v T, err error) {
		ch <- result[T]{value: v, err: err}
	}
}

func receive[T any](t *testing.T, ch chan result[T]) result[T] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for stream delivery")
		return result[T]{}
	}
}

func assertQuiet[T any](t *testing.T, ch chan result[T]) {
	t.Helper()
	select {
	case r := <-ch:
		assert.Failf(t, "unexpected delivery", "got %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}
