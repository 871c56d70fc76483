// Package syncmap keeps an in-memory, incrementally updated cache of remote
// entities and the relations between them.
//
// A Hub groups the stores whose relation fields are bound to each other.
// Each Store caches one entity kind keyed by its primary key; an entry is
// absent (never fetched), tombstoned (known deleted) or present. Relation
// fields are declared with Bind and always hold a container of referent
// keys, either a set or a mapping from referent key to edge data.
//
// # Consistency
//
// For every binding A.a <-> B.b and every present key k in A with r in k.a,
// the entry r in B has k in r.b. Sync, Patch, Create and Delete maintain this
// before any listener runs, so subscribers never observe a half-applied
// relation. Tombstoned keys are never resurrected by a back-reference.
//
// # Merge policy
//
// Sync is first-write-wins for plain fields: a field that is already set is
// not overwritten by a later raw sync of the same key. Relation fields are
// union-merged. Patch is last-write-wins and diffs relation fields against
// their previous value. The owning side of a patch is authoritative; the
// referent side is always derived.
//
// # Streams
//
// DetailMapper and ListMapper turn store changes into multicast Streams.
// A stream fetches on its first subscription, replays its last value to late
// subscribers, re-emits on relevant changes and ends when its last
// subscriber detaches. Fetches for the same key are deduplicated, and a
// fetch outlives the cancellation of the subscriber that started it.
//
// # Concurrency
//
// The hub lock guards every cache in the hub. Mutations and the initial
// emission of streams are serialized by a second lock, and listeners run
// synchronously after the cache lock is released, owning store first.
// Listeners and stream callbacks must not mutate the hub synchronously.
package syncmap
