package merge

// biMap tracks original -> current reference mappings across repeated
// moves. Re-mapping a reference that was itself produced by an earlier
// move collapses the chain so that every recorded key maps straight to
// the final reference — no value of the finished map is itself a key.
// This keeps the resulting lens layer idempotent even when a member is
// relocated more than once within a single pass.
type biMap[K comparable] struct {
	forward  map[K]K // any earlier ref -> current
	earliest map[K]K // current -> earliest (pre-pass) ref
}

func newBiMap[K comparable]() *biMap[K] {
	return &biMap[K]{forward: make(map[K]K), earliest: make(map[K]K)}
}

// put records that ref `from` (in current coordinates) now lives at `to`.
func (m *biMap[K]) put(from, to K) {
	original, chained := m.earliest[from]
	if chained {
		delete(m.earliest, from)
		m.forward[original] = to
	} else {
		original = from
	}
	// `from` may be a live member in its own right (a merge target's
	// existing method that an override collapsed onto), so it maps too.
	m.forward[from] = to
	m.earliest[to] = original
}

// lookup resolves a reference to its current location.
func (m *biMap[K]) lookup(ref K) K {
	if current, ok := m.forward[ref]; ok {
		return current
	}
	return ref
}

// len reports the number of mappings.
func (m *biMap[K]) len() int { return len(m.forward) }

// each visits every recorded from -> current pair.
func (m *biMap[K]) each(fn func(from, current K)) {
	for from, current := range m.forward {
		fn(from, current)
	}
}

// eachEarliest visits every current ref with its pre-pass signature.
func (m *biMap[K]) eachEarliest(fn func(current, original K)) {
	for current, original := range m.earliest {
		fn(current, original)
	}
}
