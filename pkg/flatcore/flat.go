// Package flatcore implements FLAT: a Robin-Hood linear-probed hash
// table with a distance-per-slot array. Lookups walk a cluster
// comparing stored probe distances; the first slot whose distance is
// smaller than the probe's own is a proof of absence. Erase
// back-shifts the cluster rather than leaving tombstones.
package flatcore

import (
	"github.com/benchkit/hashcores/pkg/hashcore"
	"github.com/benchkit/hashcores/pkg/hashpolicy"
	"github.com/benchkit/hashcores/pkg/slotlayout"
)

// Map is FLAT's map container over (key, value) pairs.
type Map[K comparable, V any] struct {
	hasher   hashcore.Hasher[K]
	equal    hashcore.Equal[K]
	onInsert hashcore.OnInsert[K, V]
	policy   hashpolicy.Policy

	meta   []slotlayout.Meta
	keys   []K
	values []V

	numElements   uint64
	maxLoadFactor float64
	maxLookups    int

	// equalityProbe selects the lookup variant that compares the full
	// key on every visited slot instead of filtering on the stored
	// distance first. Both variants share the same table layout and
	// insert path; the winner depends on how expensive key equality is
	// relative to the extra metadata branch.
	equalityProbe bool
}

// Iterator identifies a slot in a Map or Set. The zero Iterator is the
// end() iterator. An Iterator is invalidated by any Insert that
// triggers growth, by Erase of the same or an earlier slot, and by
// Clear/Rehash.
type Iterator[K comparable, V any] struct {
	m     *Map[K, V]
	index int
	valid bool
}

// End reports whether the iterator is the end() sentinel.
func (it Iterator[K, V]) End() bool { return !it.valid }

// Key returns the key at the iterator's position. Calling Key on End()
// panics, like dereferencing end().
func (it Iterator[K, V]) Key() K { return it.m.keys[it.index] }

// Value returns the value at the iterator's position.
func (it Iterator[K, V]) Value() V { return it.m.values[it.index] }

// New constructs an empty FLAT map using the given policy (nil selects
// hashpolicy.PowerOfTwo), hasher, and equality functor (nil selects
// the defaults from pkg/hashcore).
func New[K comparable, V any](policy hashpolicy.Policy, hasher hashcore.Hasher[K], equal hashcore.Equal[K]) *Map[K, V] {
	if policy == nil {
		policy = &hashpolicy.PowerOfTwo{}
	}

	if hasher == nil {
		hasher = hashcore.DefaultHasher[K]()
	}

	if equal == nil {
		equal = hashcore.DefaultEqual[K]()
	}

	return &Map[K, V]{
		hasher:        hasher,
		equal:         equal,
		policy:        policy,
		maxLoadFactor: hashcore.DefaultMaxLoadFactor,
	}
}

// NewEqualityProbing is New with the equality-check lookup variant:
// every visited slot's key is compared directly rather than first
// filtering on the stored probe distance.
func NewEqualityProbing[K comparable, V any](policy hashpolicy.Policy, hasher hashcore.Hasher[K], equal hashcore.Equal[K]) *Map[K, V] {
	m := New[K, V](policy, hasher, equal)
	m.equalityProbe = true

	return m
}

// SetOnInsert installs the OnInsert hook.
func (m *Map[K, V]) SetOnInsert(fn hashcore.OnInsert[K, V]) { m.onInsert = fn }

// Len returns the number of live elements.
func (m *Map[K, V]) Len() int { return int(m.numElements) }

// Empty reports whether the map has no elements.
func (m *Map[K, V]) Empty() bool { return m.numElements == 0 }

// BucketCount returns the current capacity.
func (m *Map[K, V]) BucketCount() int { return len(m.keys) }

// LoadFactor returns numElements / bucketCount, or 0 for an empty
// (unallocated) table.
func (m *Map[K, V]) LoadFactor() float64 {
	if len(m.keys) == 0 {
		return 0
	}

	return float64(m.numElements) / float64(len(m.keys))
}

// MaxLoadFactor returns the configured maximum load factor.
func (m *Map[K, V]) MaxLoadFactor() float64 { return m.maxLoadFactor }

// SetMaxLoadFactor sets the maximum load factor; f must be in (0, 1].
func (m *Map[K, V]) SetMaxLoadFactor(f float64) error {
	if f <= 0 || f > 1 {
		return hashcore.ErrInvalidInput
	}

	m.maxLoadFactor = f

	return nil
}

// Clear removes every element without shrinking capacity.
func (m *Map[K, V]) Clear() {
	for i := range m.meta {
		m.meta[i] = slotlayout.Empty()
	}

	var zeroK K

	var zeroV V

	for i := range m.keys {
		m.keys[i] = zeroK
		m.values[i] = zeroV
	}

	m.numElements = 0
}

// Swap exchanges the contents of m and other in O(1).
func (m *Map[K, V]) Swap(other *Map[K, V]) {
	*m, *other = *other, *m
}

// Clone returns a deep copy of m by full reconstruction.
func (m *Map[K, V]) Clone() *Map[K, V] {
	out := New[K, V](hashpolicy.CloneEmpty(m.policy), m.hasher, m.equal)
	out.maxLoadFactor = m.maxLoadFactor
	out.onInsert = m.onInsert
	out.equalityProbe = m.equalityProbe

	if len(m.keys) == 0 {
		return out
	}

	_ = out.Reserve(int(m.numElements))

	for i, md := range m.meta {
		if md.IsOccupied() {
			_, _, _ = out.Insert(m.keys[i], m.values[i])
		}
	}

	return out
}

// Find returns an iterator to key, or the end() iterator if absent.
func (m *Map[K, V]) Find(key K) (Iterator[K, V], bool) {
	idx, found := m.findSlot(key)
	if !found {
		return Iterator[K, V]{}, false
	}

	return Iterator[K, V]{m: m, index: idx, valid: true}, true
}

// At returns the value for key, or hashcore.ErrAtMissingKey if absent.
func (m *Map[K, V]) At(key K) (V, error) {
	idx, found := m.findSlot(key)
	if !found {
		var zero V

		return zero, hashcore.ErrAtMissingKey
	}

	return m.values[idx], nil
}

// NumLookups reports how many slots Find(key) would visit. It is the
// hashcore.Instrumented hook benchmark drivers use for percentile
// lookup-cost measurements.
func (m *Map[K, V]) NumLookups(key K) int {
	if len(m.keys) == 0 {
		return 0
	}

	hash := m.hasher(key)
	capacity := uint64(len(m.keys))
	ideal := m.policy.IndexForHash(hash)

	visited := 0
	for d := uint64(0); d < capacity; d++ {
		idx := (ideal + d) % capacity
		visited++

		s := m.meta[idx]
		if s.IsEmpty() || uint64(s.Distance) < d {
			return visited
		}

		if m.equal(m.keys[idx], key) {
			return visited
		}
	}

	return visited
}

// findSlot walks the cluster at key's ideal bucket, stopping at the
// first slot whose stored distance is below the probe distance.
func (m *Map[K, V]) findSlot(key K) (int, bool) {
	if len(m.keys) == 0 {
		return 0, false
	}

	hash := m.hasher(key)
	capacity := uint64(len(m.keys))
	ideal := m.policy.IndexForHash(hash)

	for d := uint64(0); d < capacity; d++ {
		idx := (ideal + d) % capacity
		s := m.meta[idx]

		if s.IsEmpty() || uint64(s.Distance) < d {
			return 0, false
		}

		if m.equalityProbe {
			if m.equal(m.keys[idx], key) {
				return int(idx), true
			}
		} else if uint64(s.Distance) == d && m.equal(m.keys[idx], key) {
			return int(idx), true
		}
	}

	return 0, false
}

// Insert constructs value at key if absent. If the key is already
// present, the stored value is left unmodified and inserted is false.
func (m *Map[K, V]) Insert(key K, value V) (Iterator[K, V], bool, error) {
	if idx, found := m.findSlot(key); found {
		return Iterator[K, V]{m: m, index: idx, valid: true}, false, nil
	}

	if err := m.ensureCapacityForInsert(); err != nil {
		return Iterator[K, V]{}, false, err
	}

	if m.onInsert != nil {
		if err := m.onInsert(key, value); err != nil {
			return Iterator[K, V]{}, false, hashcore.ErrValueConstructionFailed
		}
	}

	idx, counted, err := m.robinHoodInsert(key, value)
	if err != nil {
		return Iterator[K, V]{}, false, err
	}

	if !counted {
		m.numElements++
	}

	return Iterator[K, V]{m: m, index: idx, valid: true}, true, nil
}

// robinHoodInsert performs the displacement walk, growing if the
// probe-distance ceiling is exceeded. A walk that fails mid-swap has
// already placed the original element and holds some displaced
// occupant in hand, so the grow folds that occupant into the rehash as
// a pending element rather than losing it; the rehash recounts every
// element, which counted reports to the caller. It returns the slot
// index the caller's (key, value) ultimately landed in.
func (m *Map[K, V]) robinHoodInsert(key K, value V) (idx int, counted bool, err error) {
	landedAt, carriedKey, carriedValue, ok := m.tryRobinHoodInsert(key, value)
	if ok {
		return landedAt, false, nil
	}

	requested := uint64(len(m.keys)) * 2
	if requested == 0 {
		requested = 4
	}

	pending := []pendingKV[K, V]{{key: carriedKey, value: carriedValue}}
	if err := m.rehashTo(requested, pending); err != nil {
		return 0, false, err
	}

	found, ok := m.findSlot(key)
	if !ok {
		return 0, false, hashcore.ErrAllocationFailed
	}

	return found, true, nil
}

type pendingKV[K comparable, V any] struct {
	key   K
	value V
}

// tryRobinHoodInsert attempts one pass of the displacement walk over
// the current table. ok is false if max_lookups was exceeded; the
// carried tuple is whatever element the walk was holding at that
// point (the caller's own pair if nothing was placed yet), which the
// caller must not drop.
func (m *Map[K, V]) tryRobinHoodInsert(key K, value V) (landedAt int, carriedKey K, carriedValue V, ok bool) {
	capacity := uint64(len(m.keys))
	idx := m.policy.IndexForHash(m.hasher(key))
	d := uint64(0)
	landedAt = -1

	for {
		if d >= uint64(m.maxLookups) {
			return landedAt, key, value, false
		}

		s := m.meta[idx]

		if s.IsEmpty() {
			m.meta[idx] = slotlayout.WithDistance(uint8(d))
			m.keys[idx] = key
			m.values[idx] = value

			if landedAt == -1 {
				landedAt = int(idx)
			}

			return landedAt, key, value, true
		}

		if uint64(s.Distance) < d {
			// Robin Hood creed: displace the richer occupant.
			m.meta[idx] = slotlayout.WithDistance(uint8(d))
			key, m.keys[idx] = m.keys[idx], key
			value, m.values[idx] = m.values[idx], value
			d = uint64(s.Distance)

			if landedAt == -1 {
				landedAt = int(idx)
			}
		}

		idx = (idx + 1) % capacity
		d++
	}
}

// ensureCapacityForInsert grows the table before an insert if doing so
// would exceed the max load factor, or if the table has never been
// allocated (first insert allocates).
func (m *Map[K, V]) ensureCapacityForInsert() error {
	if len(m.keys) == 0 {
		return m.Reserve(1)
	}

	if float64(m.numElements+1) > m.maxLoadFactor*float64(len(m.keys)) {
		return m.grow()
	}

	return nil
}

// grow doubles (or advances to the next prime, depending on the
// policy) the table and re-inserts every live element, raising the
// probe-distance ceiling with the capacity.
func (m *Map[K, V]) grow() error {
	requested := uint64(len(m.keys)) * 2
	if requested == 0 {
		requested = 4
	}

	return m.rehashTo(requested, nil)
}

// Reserve ensures the table can hold at least n elements without
// triggering growth before the next n inserts.
func (m *Map[K, V]) Reserve(n int) error {
	if n < 0 {
		return hashcore.ErrInvalidInput
	}

	requested := uint64(float64(n) / m.maxLoadFactor)
	if requested < hashcore.MinBucketCount {
		requested = hashcore.MinBucketCount
	}

	if requested <= uint64(len(m.keys)) {
		return nil
	}

	return m.rehashTo(requested, nil)
}

// Rehash resizes to the policy's next size at-or-over the requested
// bucket count, re-inserting every element.
func (m *Map[K, V]) Rehash(buckets int) error {
	if buckets < 0 {
		return hashcore.ErrInvalidInput
	}

	minRequired := uint64(float64(m.numElements) / m.maxLoadFactor)
	requested := uint64(buckets)

	if requested < minRequired {
		requested = minRequired
	}

	return m.rehashTo(requested, nil)
}

// rehashTo rebuilds the table at the policy's next size at-or-over
// requested, re-inserting every live element plus any pending
// elements a failed displacement walk was still carrying.
func (m *Map[K, V]) rehashTo(requested uint64, pending []pendingKV[K, V]) error {
	oldKeys, oldValues, oldMeta := m.keys, m.values, m.meta
	oldMaxLookups, oldNumElements := m.maxLookups, m.numElements

	// A retry pass has already replaced the live arrays and committed
	// a candidate size into the policy, so every error return after
	// the first Commit must put the old table back: allocation failure
	// leaves the table in its pre-call state.
	restore := func(err error) error {
		m.keys, m.values, m.meta = oldKeys, oldValues, oldMeta
		m.maxLookups = oldMaxLookups
		m.numElements = oldNumElements

		if len(oldKeys) == 0 {
			m.policy.Reset()
		} else if tok, tokErr := m.policy.NextSizeOver(uint64(len(oldKeys))); tokErr == nil {
			m.policy.Commit(tok)
		}

		return err
	}

	tok, err := m.policy.NextSizeOver(requested)
	if err != nil {
		return err
	}

	for {
		newCapacity := tok.Capacity()
		if err := slotlayout.CheckBucketCount(newCapacity); err != nil {
			return restore(err)
		}

		m.policy.Commit(tok)
		m.keys = make([]K, newCapacity)
		m.values = make([]V, newCapacity)
		m.meta = make([]slotlayout.Meta, newCapacity)
		m.maxLookups = slotlayout.DefaultMaxLookups(newCapacity)
		m.numElements = 0

		fits := true

		reinsert := func(key K, value V) bool {
			_, _, _, ok := m.tryRobinHoodInsert(key, value)
			if !ok {
				// This capacity can't fit every element within
				// max_lookups; widen and redo the whole pass from the
				// untouched old arrays rather than continuing a
				// partially-filled table (which would lose the
				// remaining elements).
				return false
			}

			m.numElements++

			return true
		}

		for i, md := range oldMeta {
			if !md.IsOccupied() {
				continue
			}

			if !reinsert(oldKeys[i], oldValues[i]) {
				fits = false

				break
			}
		}

		if fits {
			for _, kv := range pending {
				if !reinsert(kv.key, kv.value) {
					fits = false

					break
				}
			}
		}

		if fits {
			return nil
		}

		tok, err = m.policy.NextSizeOver(newCapacity * 2)
		if err != nil {
			return restore(err)
		}
	}
}

// Erase removes key if present, returning the number of elements
// removed (0 or 1).
func (m *Map[K, V]) Erase(key K) int {
	idx, found := m.findSlot(key)
	if !found {
		return 0
	}

	m.eraseAt(idx)

	return 1
}

// EraseIterator removes the element at it and returns an iterator to
// the next element. Erase-by-iterator removes for real, exactly like
// Erase-by-key.
func (m *Map[K, V]) EraseIterator(it Iterator[K, V]) Iterator[K, V] {
	if it.End() {
		return it
	}

	idx := it.index
	m.eraseAt(idx)

	return m.nextOccupied(idx)
}

// EraseRange removes every element in the half-open forward range
// [first, last) and returns last. Keys are collected
// before any removal because erasing backshifts slots, which would
// otherwise invalidate the in-progress traversal.
func (m *Map[K, V]) EraseRange(first, last Iterator[K, V]) Iterator[K, V] {
	var toErase []K

	for it := first; !it.End() && (last.End() || it.index != last.index); it = it.Next() {
		toErase = append(toErase, it.Key())
	}

	for _, k := range toErase {
		m.Erase(k)
	}

	return last
}

// Begin returns a forward iterator to the first live element in slot
// order, or End() if the table is empty.
func (m *Map[K, V]) Begin() Iterator[K, V] { return m.nextOccupied(0) }

// Next returns a forward iterator to the next live element after it,
// or End() if it was the last one.
func (it Iterator[K, V]) Next() Iterator[K, V] {
	if it.End() {
		return it
	}

	return it.m.nextOccupied(it.index + 1)
}

// eraseAt back-shifts subsequent entries, decrementing their
// distances, until an empty slot or a slot at distance zero is
// reached.
func (m *Map[K, V]) eraseAt(idx int) {
	capacity := len(m.meta)

	var zeroK K

	var zeroV V

	cur := idx

	for {
		next := (cur + 1) % capacity

		if m.meta[next].IsEmpty() || m.meta[next].Distance == 0 {
			m.meta[cur] = slotlayout.Empty()
			m.keys[cur] = zeroK
			m.values[cur] = zeroV

			break
		}

		m.meta[cur] = slotlayout.WithDistance(m.meta[next].Distance - 1)
		m.keys[cur] = m.keys[next]
		m.values[cur] = m.values[next]

		cur = next
	}

	m.numElements--
}

// nextOccupied scans forward from idx (inclusive) for the next
// occupied slot, returning end() if none remain. Used by
// EraseIterator to hand back a "next" iterator after a backshift may
// have moved what used to be at idx+1 into idx itself.
func (m *Map[K, V]) nextOccupied(idx int) Iterator[K, V] {
	for i := idx; i < len(m.meta); i++ {
		if m.meta[i].IsOccupied() {
			return Iterator[K, V]{m: m, index: i, valid: true}
		}
	}

	return Iterator[K, V]{}
}

// All returns a range-over-func iterator over every live (key, value)
// pair, in slot order. The order is not stable across a rehash.
func (m *Map[K, V]) All() func(yield func(K, V) bool) {
	return func(yield func(K, V) bool) {
		for i, md := range m.meta {
			if md.IsOccupied() {
				if !yield(m.keys[i], m.values[i]) {
					return
				}
			}
		}
	}
}
