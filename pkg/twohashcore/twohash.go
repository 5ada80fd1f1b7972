// Package twohashcore implements TWO-HASH: two parallel Robin-Hood
// half-tables addressed by independent multiplicative derivations of
// the same raw hash. Lookup probes both halves in an interleaved loop;
// insert scans both and places the element in whichever half reaches
// its absence proof at the smaller probe distance. Two-choice hashing
// cuts the worst-case chain length, which is what the per-key lookup
// instrumentation here is meant to show.
package twohashcore

import (
	"github.com/benchkit/hashcores/pkg/hashcore"
	"github.com/benchkit/hashcores/pkg/slotlayout"
)

// The two halves derive their bucket indexes Fibonacci-style from the
// same raw hash with different odd multipliers, so one user hash feeds
// two independent placements.
const (
	multiplierA = 0x9E3779B97F4A7C15
	multiplierB = 0xC2B2AE3D27D4EB4F
)

// half is one of the twin tables: Robin-Hood linear probing with a
// distance-per-slot array, as in the FLAT core.
type half[K comparable, V any] struct {
	meta   []slotlayout.Meta
	keys   []K
	values []V

	multiplier uint64
	shift      uint
	maxLookups int
	elements   uint64
}

func (h *half[K, V]) capacity() uint64 { return uint64(len(h.keys)) }

func (h *half[K, V]) index(hash uint64) uint64 {
	return (hash * h.multiplier) >> h.shift
}

// Map is TWO-HASH's map container.
type Map[K comparable, V any] struct {
	hasher   hashcore.Hasher[K]
	equal    hashcore.Equal[K]
	onInsert hashcore.OnInsert[K, V]

	a half[K, V]
	b half[K, V]

	maxLoadFactor float64
}

// Iterator identifies a slot in one of the halves. The zero Iterator
// is the end() iterator. An Iterator is invalidated by any Insert that
// triggers growth, by Erase in the same half, and by Clear/Rehash.
type Iterator[K comparable, V any] struct {
	m     *Map[K, V]
	side  int // 0 = a, 1 = b
	index int
	valid bool
}

// End reports whether the iterator is the end() sentinel.
func (it Iterator[K, V]) End() bool { return !it.valid }

// Key returns the key at the iterator's position.
func (it Iterator[K, V]) Key() K { return it.m.side(it.side).keys[it.index] }

// Value returns the value at the iterator's position.
func (it Iterator[K, V]) Value() V { return it.m.side(it.side).values[it.index] }

func (m *Map[K, V]) side(s int) *half[K, V] {
	if s == 0 {
		return &m.a
	}

	return &m.b
}

// New constructs an empty TWO-HASH map with the given hasher and
// equality functor (nil selects the defaults from pkg/hashcore).
func New[K comparable, V any](hasher hashcore.Hasher[K], equal hashcore.Equal[K]) *Map[K, V] {
	if hasher == nil {
		hasher = hashcore.DefaultHasher[K]()
	}

	if equal == nil {
		equal = hashcore.DefaultEqual[K]()
	}

	return &Map[K, V]{
		hasher:        hasher,
		equal:         equal,
		a:             half[K, V]{multiplier: multiplierA, shift: 64},
		b:             half[K, V]{multiplier: multiplierB, shift: 64},
		maxLoadFactor: hashcore.DefaultMaxLoadFactor,
	}
}

// SetOnInsert installs the OnInsert hook.
func (m *Map[K, V]) SetOnInsert(fn hashcore.OnInsert[K, V]) { m.onInsert = fn }

// Len returns the number of live elements.
func (m *Map[K, V]) Len() int { return int(m.a.elements + m.b.elements) }

// Empty reports whether the map has no elements.
func (m *Map[K, V]) Empty() bool { return m.Len() == 0 }

// BucketCount returns the combined capacity of both halves.
func (m *Map[K, V]) BucketCount() int { return int(m.a.capacity() + m.b.capacity()) }

// LoadFactor returns the current load factor, 0 for an unallocated
// table.
func (m *Map[K, V]) LoadFactor() float64 {
	total := m.BucketCount()
	if total == 0 {
		return 0
	}

	return float64(m.Len()) / float64(total)
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
	for _, h := range []*half[K, V]{&m.a, &m.b} {
		for i := range h.meta {
			h.meta[i] = slotlayout.Empty()
		}

		var zeroK K

		var zeroV V

		for i := range h.keys {
			h.keys[i] = zeroK
			h.values[i] = zeroV
		}

		h.elements = 0
	}
}

// Swap exchanges the contents of m and other in O(1).
func (m *Map[K, V]) Swap(other *Map[K, V]) {
	*m, *other = *other, *m
}

// Find returns an iterator to key, or the end() iterator if absent.
func (m *Map[K, V]) Find(key K) (Iterator[K, V], bool) {
	s, idx, found := m.findSlot(key)
	if !found {
		return Iterator[K, V]{}, false
	}

	return Iterator[K, V]{m: m, side: s, index: idx, valid: true}, true
}

// At returns the value for key, or hashcore.ErrAtMissingKey if absent.
func (m *Map[K, V]) At(key K) (V, error) {
	s, idx, found := m.findSlot(key)
	if !found {
		var zero V

		return zero, hashcore.ErrAtMissingKey
	}

	return m.side(s).values[idx], nil
}

// findSlot probes both halves in lock-step, one distance per round.
// Each half's Robin-Hood invariant proves absence independently; the
// key is absent only once both halves have proved it.
func (m *Map[K, V]) findSlot(key K) (side, idx int, found bool) {
	if m.a.capacity() == 0 {
		return 0, 0, false
	}

	hash := m.hasher(key)
	iA := m.a.index(hash)
	iB := m.b.index(hash)
	doneA, doneB := false, false

	for d := uint64(0); !doneA || !doneB; d++ {
		if !doneA {
			slot := (iA + d) % m.a.capacity()
			s := m.a.meta[slot]

			switch {
			case s.IsEmpty() || uint64(s.Distance) < d:
				doneA = true
			case uint64(s.Distance) == d && m.equal(m.a.keys[slot], key):
				return 0, int(slot), true
			}
		}

		if !doneB {
			slot := (iB + d) % m.b.capacity()
			s := m.b.meta[slot]

			switch {
			case s.IsEmpty() || uint64(s.Distance) < d:
				doneB = true
			case uint64(s.Distance) == d && m.equal(m.b.keys[slot], key):
				return 1, int(slot), true
			}
		}
	}

	return 0, 0, false
}

// NumLookups reports how many slots a lookup for key visits across
// both halves.
func (m *Map[K, V]) NumLookups(key K) int {
	if m.a.capacity() == 0 {
		return 0
	}

	hash := m.hasher(key)
	iA := m.a.index(hash)
	iB := m.b.index(hash)
	doneA, doneB := false, false
	visited := 0

	for d := uint64(0); !doneA || !doneB; d++ {
		if !doneA {
			slot := (iA + d) % m.a.capacity()
			s := m.a.meta[slot]
			visited++

			switch {
			case s.IsEmpty() || uint64(s.Distance) < d:
				doneA = true
			case uint64(s.Distance) == d && m.equal(m.a.keys[slot], key):
				return visited
			}
		}

		if !doneB {
			slot := (iB + d) % m.b.capacity()
			s := m.b.meta[slot]
			visited++

			switch {
			case s.IsEmpty() || uint64(s.Distance) < d:
				doneB = true
			case uint64(s.Distance) == d && m.equal(m.b.keys[slot], key):
				return visited
			}
		}
	}

	return visited
}

// Insert constructs value at key if absent. The element goes to
// whichever half reaches its absence proof at the smaller probe
// distance, ties broken toward the emptier half.
func (m *Map[K, V]) Insert(key K, value V) (Iterator[K, V], bool, error) {
	if s, idx, found := m.findSlot(key); found {
		return Iterator[K, V]{m: m, side: s, index: idx, valid: true}, false, nil
	}

	if err := m.ensureCapacityForInsert(); err != nil {
		return Iterator[K, V]{}, false, err
	}

	if m.onInsert != nil {
		if err := m.onInsert(key, value); err != nil {
			return Iterator[K, V]{}, false, hashcore.ErrValueConstructionFailed
		}
	}

	s, idx, counted, err := m.shortestChainInsert(key, value)
	if err != nil {
		return Iterator[K, V]{}, false, err
	}

	if !counted {
		m.side(s).elements++
	}

	return Iterator[K, V]{m: m, side: s, index: idx, valid: true}, true, nil
}

// placementDistance scans one half for the distance at which a
// Robin-Hood insert of hash would settle (the first empty or
// poorer-occupant slot), or maxLookups when the half is saturated.
func (h *half[K, V]) placementDistance(hash uint64) uint64 {
	ideal := h.index(hash)

	for d := uint64(0); d < uint64(h.maxLookups); d++ {
		s := h.meta[(ideal+d)%h.capacity()]
		if s.IsEmpty() || uint64(s.Distance) < d {
			return d
		}
	}

	return uint64(h.maxLookups)
}

type pendingKV[K comparable, V any] struct {
	key   K
	value V
}

// shortestChainInsert picks the half per two-choice hashing, then runs
// the Robin-Hood displacement walk within that half only. A walk that
// exceeds max_lookups grows with the element it was carrying folded
// into the rehash as pending (counted reports that the rehash already
// recounted everything).
func (m *Map[K, V]) shortestChainInsert(key K, value V) (side, idx int, counted bool, err error) {
	hash := m.hasher(key)

	dA := m.a.placementDistance(hash)
	dB := m.b.placementDistance(hash)

	chosen := 0

	switch {
	case dA < dB:
		chosen = 0
	case dB < dA:
		chosen = 1
	case m.b.elements < m.a.elements:
		chosen = 1
	}

	h := m.side(chosen)

	landedAt, carriedKey, carriedValue, ok := h.tryRobinHoodInsert(hash, key, value)
	if ok {
		return chosen, landedAt, false, nil
	}

	pending := []pendingKV[K, V]{{key: carriedKey, value: carriedValue}}
	if err := m.rehashTo(uint64(m.BucketCount())*2, pending); err != nil {
		return 0, 0, false, err
	}

	s, found, ok := m.findSlotIdx(key)
	if !ok {
		return 0, 0, false, hashcore.ErrAllocationFailed
	}

	return s, found, true, nil
}

func (m *Map[K, V]) findSlotIdx(key K) (side, idx int, ok bool) {
	s, i, found := m.findSlot(key)

	return s, i, found
}

// tryRobinHoodInsert is one displacement walk over this half. ok is
// false if max_lookups was exceeded; the carried tuple is whatever
// element the walk was holding at that point.
func (h *half[K, V]) tryRobinHoodInsert(hash uint64, key K, value V) (landedAt int, carriedKey K, carriedValue V, ok bool) {
	capacity := h.capacity()
	idx := h.index(hash)
	d := uint64(0)
	landedAt = -1

	for {
		if d >= uint64(h.maxLookups) {
			return landedAt, key, value, false
		}

		s := h.meta[idx]

		if s.IsEmpty() {
			h.meta[idx] = slotlayout.WithDistance(uint8(d))
			h.keys[idx] = key
			h.values[idx] = value

			if landedAt == -1 {
				landedAt = int(idx)
			}

			return landedAt, key, value, true
		}

		if uint64(s.Distance) < d {
			h.meta[idx] = slotlayout.WithDistance(uint8(d))
			key, h.keys[idx] = h.keys[idx], key
			value, h.values[idx] = h.values[idx], value
			d = uint64(s.Distance)

			if landedAt == -1 {
				landedAt = int(idx)
			}
		}

		idx = (idx + 1) % capacity
		d++
	}
}

// ensureCapacityForInsert grows before an insert that would exceed the
// max load factor, and allocates on first insert.
func (m *Map[K, V]) ensureCapacityForInsert() error {
	if m.a.capacity() == 0 {
		return m.Reserve(1)
	}

	if float64(m.Len()+1) > m.maxLoadFactor*float64(m.BucketCount()) {
		return m.rehashTo(uint64(m.BucketCount())*2, nil)
	}

	return nil
}

// Reserve ensures the table can hold at least n elements without
// triggering growth before the next n inserts.
func (m *Map[K, V]) Reserve(n int) error {
	if n < 0 {
		return hashcore.ErrInvalidInput
	}

	requested := uint64(float64(n) / m.maxLoadFactor)
	if requested < 2*hashcore.MinBucketCount {
		requested = 2 * hashcore.MinBucketCount
	}

	if requested <= uint64(m.BucketCount()) {
		return nil
	}

	return m.rehashTo(requested, nil)
}

// Rehash resizes both halves so their combined bucket count is the
// next power of two at-or-over the request, re-inserting every
// element.
func (m *Map[K, V]) Rehash(buckets int) error {
	if buckets < 0 {
		return hashcore.ErrInvalidInput
	}

	minRequired := uint64(float64(m.Len()) / m.maxLoadFactor)
	requested := uint64(buckets)

	if requested < minRequired {
		requested = minRequired
	}

	return m.rehashTo(requested, nil)
}

// rehashTo rebuilds both halves with a combined capacity of the next
// power of two at-or-over requestedTotal, re-inserting every live
// element (plus pending ones a failed walk was carrying) through the
// two-choice placement again.
func (m *Map[K, V]) rehashTo(requestedTotal uint64, pending []pendingKV[K, V]) error {
	oldA, oldB := m.a, m.b

	halfCap := nextPowerOfTwo((requestedTotal + 1) / 2)

	for {
		if halfCap*2 >= hashcore.MaxBucketCount {
			// A retry iteration has already replaced the halves with a
			// non-fitting pair; allocation failure leaves the table in
			// its pre-call state.
			m.a, m.b = oldA, oldB

			return hashcore.ErrAllocationFailed
		}

		m.a = newHalf[K, V](multiplierA, halfCap)
		m.b = newHalf[K, V](multiplierB, halfCap)

		fits := true

		reinsert := func(key K, value V) bool {
			hash := m.hasher(key)

			dA := m.a.placementDistance(hash)
			dB := m.b.placementDistance(hash)

			h := &m.a
			if dB < dA || (dB == dA && m.b.elements < m.a.elements) {
				h = &m.b
			}

			if _, _, _, ok := h.tryRobinHoodInsert(hash, key, value); !ok {
				return false
			}

			h.elements++

			return true
		}

		for _, old := range []*half[K, V]{&oldA, &oldB} {
			for i, md := range old.meta {
				if !md.IsOccupied() {
					continue
				}

				if !reinsert(old.keys[i], old.values[i]) {
					fits = false

					break
				}
			}

			if !fits {
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

		halfCap *= 2
	}
}

func newHalf[K comparable, V any](multiplier, capacity uint64) half[K, V] {
	h := half[K, V]{
		multiplier: multiplier,
		shift:      64 - log2(capacity),
		maxLookups: slotlayout.DefaultMaxLookups(capacity),
		meta:       make([]slotlayout.Meta, capacity),
		keys:       make([]K, capacity),
		values:     make([]V, capacity),
	}

	return h
}

func nextPowerOfTwo(n uint64) uint64 {
	if n < hashcore.MinBucketCount {
		return hashcore.MinBucketCount
	}

	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32

	return n + 1
}

func log2(n uint64) uint {
	var shift uint
	for n > 1 {
		n >>= 1
		shift++
	}

	return shift
}

// Erase removes key if present, returning the number of elements
// removed (0 or 1). The backshift stays within the half holding the
// key.
func (m *Map[K, V]) Erase(key K) int {
	s, idx, found := m.findSlot(key)
	if !found {
		return 0
	}

	m.eraseAt(s, idx)

	return 1
}

// EraseIterator removes the element at it and returns an iterator to
// the next live element in iteration order.
func (m *Map[K, V]) EraseIterator(it Iterator[K, V]) Iterator[K, V] {
	if it.End() {
		return it
	}

	s, idx := it.side, it.index
	m.eraseAt(s, idx)

	return m.nextOccupied(s, idx)
}

// EraseRange removes every element in the half-open forward range
// [first, last) and returns last. Keys are collected before any
// removal because erasing backshifts slots mid-traversal.
func (m *Map[K, V]) EraseRange(first, last Iterator[K, V]) Iterator[K, V] {
	var toErase []K

	for it := first; !it.End() && (last.End() || it.side != last.side || it.index != last.index); it = it.Next() {
		toErase = append(toErase, it.Key())
	}

	for _, k := range toErase {
		m.Erase(k)
	}

	return last
}

// eraseAt back-shifts within one half, exactly as in the FLAT core.
func (m *Map[K, V]) eraseAt(s, idx int) {
	h := m.side(s)
	capacity := len(h.meta)

	var zeroK K

	var zeroV V

	cur := idx

	for {
		next := (cur + 1) % capacity

		if h.meta[next].IsEmpty() || h.meta[next].Distance == 0 {
			h.meta[cur] = slotlayout.Empty()
			h.keys[cur] = zeroK
			h.values[cur] = zeroV

			break
		}

		h.meta[cur] = slotlayout.WithDistance(h.meta[next].Distance - 1)
		h.keys[cur] = h.keys[next]
		h.values[cur] = h.values[next]

		cur = next
	}

	h.elements--
}

// Clone returns a deep copy of m by full reconstruction.
func (m *Map[K, V]) Clone() *Map[K, V] {
	out := New[K, V](m.hasher, m.equal)
	out.maxLoadFactor = m.maxLoadFactor
	out.onInsert = m.onInsert

	if m.BucketCount() == 0 {
		return out
	}

	_ = out.Reserve(m.Len())

	for _, h := range []*half[K, V]{&m.a, &m.b} {
		for i, md := range h.meta {
			if md.IsOccupied() {
				_, _, _ = out.Insert(h.keys[i], h.values[i])
			}
		}
	}

	return out
}

// Begin returns a forward iterator to the first live element (half A
// in slot order, then half B), or End() if the table is empty.
func (m *Map[K, V]) Begin() Iterator[K, V] { return m.nextOccupied(0, 0) }

// Next returns a forward iterator to the next live element after it.
func (it Iterator[K, V]) Next() Iterator[K, V] {
	if it.End() {
		return it
	}

	return it.m.nextOccupied(it.side, it.index+1)
}

func (m *Map[K, V]) nextOccupied(s, idx int) Iterator[K, V] {
	for side := s; side <= 1; side++ {
		h := m.side(side)

		start := 0
		if side == s {
			start = idx
		}

		for i := start; i < len(h.meta); i++ {
			if h.meta[i].IsOccupied() {
				return Iterator[K, V]{m: m, side: side, index: i, valid: true}
			}
		}
	}

	return Iterator[K, V]{}
}

// All returns a range-over-func iterator over every live (key, value)
// pair, half A first. The order is not stable across a rehash.
func (m *Map[K, V]) All() func(yield func(K, V) bool) {
	return func(yield func(K, V) bool) {
		for _, h := range []*half[K, V]{&m.a, &m.b} {
			for i, md := range h.meta {
				if md.IsOccupied() {
					if !yield(h.keys[i], h.values[i]) {
						return
					}
				}
			}
		}
	}
}
