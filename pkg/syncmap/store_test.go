package syncmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

func TestStore_SyncInstallsBackReferences(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.clubs.Sync("prog", Fields{"name": "Prog部", "members": []any{"u1", "u2"}}))

	assert.Equal(t, EntryPresent, f.members.State("u1"))
	assert.True(t, relation(t, f.members, "u1", "clubs").Has("prog"))
	assert.True(t, relation(t, f.members, "u2", "clubs").Has("prog"))

	club, err := f.clubs.Snapshot("prog")
	require.NoError(t, err)
	assert.Equal(t, "Prog部", club.String("name"))
	assert.Equal(t, "prog", club.String("id"))
	assert.Equal(t, KindSet, club.Relation("members").Kind())
	assert.Equal(t, []string{"u1", "u2"}, club.Relation("members").Keys())

	assertSymmetric(t, f.clubs, "members", f.members, "clubs")
}

func TestStore_SyncPlaceholdersAreNotListed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.clubs.Sync("prog", Fields{"members": []string{"u1"}}))

	assert.Equal(t, 0, f.members.list(nil).Len(), "placeholder created by a back-reference")

	require.NoError(t, f.members.Sync("u1", Fields{"nickname": "one"}))
	l := f.members.list([]string{"nickname"})
	require.Equal(t, 1, l.Len())
	row, ok := l.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "one", row.String("nickname"))
	assert.True(t, relation(t, f.members, "u1", "clubs").Has("prog"), "placeholder relation survives the sync")
}

func TestStore_SyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	fields := Fields{
		"nickname": "one",
		"clubs":    []string{"prog", "cg"},
		"parties":  map[string]any{"bbq": true},
	}

	require.NoError(t, f.members.Sync("u1", fields))
	first, err := f.members.Snapshot("u1")
	require.NoError(t, err)

	require.NoError(t, f.members.Sync("u1", fields))
	second, err := f.members.Snapshot("u1")
	require.NoError(t, err)

	assert.Equal(t, first.Names(), second.Names())
	assert.True(t, first.Relation("clubs").Equal(second.Relation("clubs")))
	assert.True(t, first.Relation("parties").Equal(second.Relation("parties")))
	assert.Equal(t, 2, second.Relation("clubs").Len())
	assert.Equal(t, 1, relation(t, f.clubs, "prog", "members").Len())
	assertSymmetric(t, f.members, "clubs", f.clubs, "members")
	assertSymmetric(t, f.members, "parties", f.parties, "attendances")
}

func TestStore_SyncFirstWriteWins(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.members.Sync("u1", Fields{"nickname": "old", "clubs": []string{"prog"}}))
	require.NoError(t, f.members.Sync("u1", Fields{"nickname": "new", "tel": "000", "clubs": []string{"cg"}}))

	snap, err := f.members.Snapshot("u1")
	require.NoError(t, err)
	assert.Equal(t, "old", snap.String("nickname"), "already-set fields are not overwritten by sync")
	assert.Equal(t, "000", snap.String("tel"), "unset fields are filled in")
	assert.Equal(t, []string{"cg", "prog"}, snap.Relation("clubs").Keys(), "relation fields are merged")
}

func TestStore_SyncInvalidRelationLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	err := f.members.Sync("u1", Fields{"nickname": "one", "clubs": 42})
	assert.ErrorIs(t, err, types.ErrInvalidData)
	assert.Equal(t, EntryAbsent, f.members.State("u1"))

	assert.ErrorIs(t, f.members.Sync("", Fields{}), types.ErrInvalidID)
}

func TestStore_SyncNotifiesOwnerThenReferents(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder(f.members, f.clubs)

	fields := Fields{"nickname": "one", "clubs": []string{"prog"}}
	require.NoError(t, f.members.Sync("u1", fields))
	assert.Equal(t, []string{"members", "clubs"}, rec.events, "owner fires before referent")

	u1 := rec.last["members"]["u1"]
	assert.True(t, u1.Created)
	assert.True(t, rec.last["members"].Touches("u1", "nickname"))
	assert.True(t, rec.last["members"].Touches("u1", "clubs"))
	assert.False(t, rec.last["clubs"]["prog"].Created, "a placeholder is not listable")
	assert.True(t, rec.last["clubs"].Touches("prog", "members"))

	require.NoError(t, f.members.Sync("u1", fields))
	assert.Len(t, rec.events, 2, "syncing held data fires nothing")

	require.NoError(t, f.members.Sync("u1", Fields{"nickname": "later"}))
	assert.Len(t, rec.events, 2, "a field already set is not rewritten")

	require.NoError(t, f.clubs.Sync("prog", Fields{"name": "Prog部"}))
	assert.Equal(t, []string{"members", "clubs", "clubs"}, rec.events)
	assert.True(t, rec.last["clubs"]["prog"].Created, "the placeholder became listable")
}

func TestStore_SyncAll(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder(f.members, f.clubs)

	n, err := f.members.SyncAll([]Fields{
		{"id": "u1", "nickname": "one", "clubs": []string{"prog"}},
		{"id": "u2", "clubs": 42},
	})
	assert.ErrorIs(t, err, types.ErrInvalidData)
	assert.Zero(t, n)
	assert.Equal(t, EntryAbsent, f.members.State("u1"), "an invalid row rejects the whole batch")
	assert.Equal(t, EntryAbsent, f.clubs.State("prog"))
	assert.Empty(t, rec.events)

	n, err = f.members.SyncAll([]Fields{
		{"id": "u1", "nickname": "one", "clubs": []string{"prog"}},
		{"nickname": "no key"},
		{"id": "u2", "clubs": []string{"prog"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"members", "clubs"}, rec.events, "one notification per store for the batch")
	assert.True(t, rec.last["members"]["u1"].Created)
	assert.True(t, rec.last["members"]["u2"].Created)
	assert.Equal(t, []string{"u1", "u2"}, relation(t, f.clubs, "prog", "members").Keys())
}

func TestStore_NoResurrection(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.members.Sync("u1", Fields{"nickname": "one"}))
	require.NoError(t, f.members.Delete(context.Background(), ok, "u1"))

	require.NoError(t, f.clubs.Sync("prog", Fields{"members": []string{"u1", "u2"}}))
	assert.Equal(t, EntryTombstoned, f.members.State("u1"))
	assert.Equal(t, []string{"u2"}, relation(t, f.clubs, "prog", "members").Keys())

	require.NoError(t, f.members.Sync("u1", Fields{"nickname": "ghost"}))
	assert.Equal(t, EntryTombstoned, f.members.State("u1"), "sync does not resurrect")

	require.NoError(t, f.clubs.Patch(context.Background(), ok, "prog", Fields{"members": []string{"u1", "u3"}}))
	assert.Equal(t, []string{"u3"}, relation(t, f.clubs, "prog", "members").Keys())
	assert.Equal(t, EntryTombstoned, f.members.State("u1"))

	_, err := f.members.Snapshot("u1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assertSymmetric(t, f.clubs, "members", f.members, "clubs")
}

func TestStore_PatchRemovesDroppedReferences(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.clubs.Sync("prog", Fields{"name": "Prog部", "members": []string{"u1", "u2"}}))
	rec := newRecorder(f.members, f.clubs)

	require.NoError(t, f.members.Patch(context.Background(), ok, "u1", Fields{"clubs": []string{}}))

	assert.Equal(t, []string{"u2"}, relation(t, f.clubs, "prog", "members").Keys())
	assert.Equal(t, 0, relation(t, f.members, "u1", "clubs").Len())
	assert.Equal(t, []string{"members", "clubs"}, rec.events, "owner fires before referent")
	assert.Equal(t, Patch{"prog": {Fields: []string{"members"}}}, rec.last["clubs"])
	assert.Equal(t, []string{"clubs"}, rec.last["members"]["u1"].Fields)
	assertSymmetric(t, f.clubs, "members", f.members, "clubs")
}

func TestStore_PatchAddsAndUpdatesEdges(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.parties.Sync("bbq", Fields{"attendances": map[string]any{"u1": true}}))
	require.NoError(t, f.members.Sync("u2", Fields{"nickname": "two"}))

	err := f.parties.Patch(context.Background(), ok, "bbq", Fields{
		"place":       "river",
		"attendances": map[string]bool{"u1": false, "u2": true},
	})
	require.NoError(t, err)

	att := relation(t, f.parties, "bbq", "attendances")
	assert.Equal(t, KindMapping, att.Kind())
	v, _ := att.Get("u1")
	assert.Equal(t, false, v)

	u1 := relation(t, f.members, "u1", "parties")
	v, _ = u1.Get("bbq")
	assert.Equal(t, false, v, "edge value mirrors onto the referent")
	u2 := relation(t, f.members, "u2", "parties")
	v, _ = u2.Get("bbq")
	assert.Equal(t, true, v)

	snap, err := f.parties.Snapshot("bbq")
	require.NoError(t, err)
	assert.Equal(t, "river", snap.String("place"))
	assertSymmetric(t, f.parties, "attendances", f.members, "parties")
}

func TestStore_PatchOwnerWins(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.members.Sync("u1", Fields{"clubs": []string{"prog"}}))
	require.NoError(t, f.clubs.Sync("cg", Fields{"members": []string{"u1"}}))

	require.NoError(t, f.members.Patch(context.Background(), ok, "u1", Fields{"clubs": []string{"prog"}}))

	assert.Equal(t, []string{"prog"}, relation(t, f.members, "u1", "clubs").Keys())
	assert.False(t, relation(t, f.clubs, "cg", "members").Has("u1"))
	assertSymmetric(t, f.members, "clubs", f.clubs, "members")
}

func TestStore_PatchRemoteFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.clubs.Sync("prog", Fields{"name": "Prog部", "members": []string{"u1"}}))
	rec := newRecorder(f.members, f.clubs)

	err := f.members.Patch(context.Background(), failing, "u1", Fields{"clubs": []string{}, "nickname": "x"})
	assert.Same(t, errRemote, err, "remote error is returned unchanged")

	assert.True(t, relation(t, f.clubs, "prog", "members").Has("u1"))
	snap, err := f.members.Snapshot("u1")
	require.NoError(t, err)
	_, set := snap.Get("nickname")
	assert.False(t, set)
	assert.Empty(t, rec.events)
}

func TestStore_PatchTombstoned(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.members.Delete(context.Background(), ok, "u1"))

	called := false
	err := f.members.Patch(context.Background(), func(context.Context) error {
		called = true
		return nil
	}, "u1", Fields{"nickname": "ghost"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.False(t, called, "remote is not called for a deleted key")
}

func TestStore_PatchInvalidRelationSkipsRemote(t *testing.T) {
	f := newFixture(t)
	called := false
	err := f.members.Patch(context.Background(), func(context.Context) error {
		called = true
		return nil
	}, "u1", Fields{"clubs": 3})
	assert.ErrorIs(t, err, types.ErrInvalidData)
	assert.False(t, called)
}

func TestStore_DeletePurgesReferencesBeforeNotifying(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.officers.Sync("chair", Fields{"name": "Chair", "member": []string{"u1"}}))
	require.NoError(t, f.clubs.Sync("prog", Fields{"members": []string{"u1", "u2"}}))

	var officerAtDelete, clubAtDelete Relation
	var order []string
	f.members.Listen(func(p Patch) {
		order = append(order, "members")
		assert.True(t, p["u1"].Deleted)
		officerAtDelete = relation(t, f.officers, "chair", "member")
		clubAtDelete = relation(t, f.clubs, "prog", "members")
	})
	f.officers.Listen(func(p Patch) {
		order = append(order, "officers")
		assert.Equal(t, Patch{"chair": {Fields: []string{"member"}}}, p)
	})
	f.clubs.Listen(func(Patch) { order = append(order, "clubs") })

	require.NoError(t, f.members.Delete(context.Background(), ok, "u1"))

	assert.Equal(t, 0, officerAtDelete.Len(), "officer back-reference cleared before the deletion fires")
	assert.Equal(t, []string{"u2"}, clubAtDelete.Keys())
	assert.Equal(t, []string{"members", "clubs", "officers"}, order)
	assert.Equal(t, EntryTombstoned, f.members.State("u1"))
	assertSymmetric(t, f.officers, "member", f.members, "positions")
	assertSymmetric(t, f.clubs, "members", f.members, "clubs")
}

func TestStore_DeleteRemoteFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.members.Sync("u1", Fields{"clubs": []string{"prog"}}))

	err := f.members.Delete(context.Background(), failing, "u1")
	assert.Same(t, errRemote, err)
	assert.Equal(t, EntryPresent, f.members.State("u1"))
	assert.True(t, relation(t, f.clubs, "prog", "members").Has("u1"))
}

func TestStore_DeleteUnknownKeyTombstones(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.members.Delete(context.Background(), ok, "u9"))
	assert.Equal(t, EntryTombstoned, f.members.State("u9"))
	assert.Equal(t, EntryAbsent, f.members.State("u8"))
}

func TestStore_Create(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder(f.members, f.clubs)

	key, err := f.clubs.Create(context.Background(), func(context.Context) (string, error) {
		return "prog", nil
	}, Fields{"name": "Prog部", "members": []string{"u1"}})
	require.NoError(t, err)
	assert.Equal(t, "prog", key)

	assert.True(t, rec.last["clubs"]["prog"].Created)
	assert.Equal(t, []string{"clubs", "members"}, rec.events)
	assert.True(t, relation(t, f.members, "u1", "clubs").Has("prog"))

	_, err = f.clubs.Create(context.Background(), func(context.Context) (string, error) {
		return "", errRemote
	}, Fields{"name": "x"})
	assert.Same(t, errRemote, err)

	_, err = f.clubs.Create(context.Background(), func(context.Context) (string, error) {
		return "", nil
	}, Fields{"name": "x"})
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

func TestStore_SnapshotIsFrozen(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.members.Sync("u1", Fields{"nickname": "one", "clubs": []string{"prog"}}))

	snap, err := f.members.Snapshot("u1")
	require.NoError(t, err)

	require.NoError(t, f.members.Patch(context.Background(), ok, "u1", Fields{
		"nickname": "uno",
		"clubs":    []string{"prog", "cg"},
	}))

	assert.Equal(t, "one", snap.String("nickname"))
	assert.Equal(t, []string{"prog"}, snap.Relation("clubs").Keys())

	cp := snap.Fields()
	cp["nickname"] = "changed"
	assert.Equal(t, "one", snap.String("nickname"))
}

func TestStore_ListenCancel(t *testing.T) {
	f := newFixture(t)
	calls := 0
	cancel := f.members.Listen(func(Patch) { calls++ })

	require.NoError(t, f.members.Patch(context.Background(), ok, "u1", Fields{"nickname": "one"}))
	cancel()
	cancel()
	require.NoError(t, f.members.Patch(context.Background(), ok, "u1", Fields{"nickname": "two"}))

	assert.Equal(t, 1, calls)
}

func TestStore_SymmetricAfterMixedSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.clubs.Sync("prog", Fields{"members": []string{"u1", "u2", "u3"}}))
	require.NoError(t, f.members.Sync("u4", Fields{"clubs": []string{"prog", "cg"}}))
	require.NoError(t, f.clubs.Patch(ctx, ok, "cg", Fields{"members": []string{"u1", "u4"}}))
	require.NoError(t, f.members.Patch(ctx, ok, "u2", Fields{"clubs": []string{"cg"}}))
	require.NoError(t, f.members.Delete(ctx, ok, "u1"))
	require.NoError(t, f.clubs.Delete(ctx, ok, "prog"))
	require.NoError(t, f.members.Sync("u3", Fields{"clubs": []string{"prog", "cg"}}))

	assertSymmetric(t, f.clubs, "members", f.members, "clubs")
	assert.Equal(t, []string{"u2", "u3", "u4"}, relation(t, f.clubs, "cg", "members").Keys())
	assert.Equal(t, []string{"cg"}, relation(t, f.members, "u3", "clubs").Keys())
}
