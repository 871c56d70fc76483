package syncmap

// half is one side of a relation binding, stored on the store that owns
// field. peerField on peer holds the back-references.
type half struct {
	field     string
	kind      Kind
	peer      *Store
	peerField string
	peerKind  Kind
}

// addReference installs owner as a back-reference on the referent e.key.
// An absent referent gets a placeholder entry holding only the
// back-reference; a tombstoned referent is skipped and addReference reports
// false. The caller must hold the hub lock.
func (h *half) addReference(owner string, e edge, ps *patchSet) bool {
	ref := h.peer.entries[e.key]
	switch {
	case ref == nil:
		ref = h.peer.create(e.key)
	case ref.tombstoned:
		return false
	}
	if ref.relation(h.peerField, h.peerKind).put(owner, e.value) {
		ps.touch(h.peer, e.key, h.peerField)
	}
	return true
}

// removeReference drops owner from the referent's back-references.
func (h *half) removeReference(owner, referent string, ps *patchSet) {
	ref := h.peer.entries[referent]
	if ref == nil || ref.tombstoned {
		return
	}
	c, ok := ref.fields[h.peerField].(*container)
	if !ok {
		return
	}
	if c.remove(owner) {
		ps.touch(h.peer, referent, h.peerField)
	}
}

// referentDeleted reports whether key is tombstoned on the peer store.
func (h *half) referentDeleted(key string) bool {
	ref := h.peer.entries[key]
	return ref != nil && ref.tombstoned
}

// patchReference moves the owner's relation from prev to next: referents
// only in prev lose their back-reference, referents in next gain or update
// theirs.
func (h *half) patchReference(owner string, prev, next *container, ps *patchSet) {
	for _, k := range prev.keys() {
		if !next.has(k) {
			h.removeReference(owner, k, ps)
		}
	}
	for _, k := range next.keys() {
		v, _ := next.get(k)
		h.addReference(owner, edge{key: k, value: v}, ps)
	}
}

// materialize builds the owner-side container for edges, dropping referents
// that are known deleted.
func (h *half) materialize(edges []edge) *container {
	c := newContainer(h.kind)
	for _, e := range edges {
		if h.referentDeleted(e.key) {
			continue
		}
		c.put(e.key, e.value)
	}
	return c
}
