// Package bytellcore implements BYTELL: a byte-per-slot
// jump-distance-chained hash table. Every slot's metadata byte records
// whether the slot is the head of the chain rooted at its own bucket
// (a direct hit) and, in the low bits, which of eight fixed jump
// distances leads to the next link. Collisions chain through the table
// without Robin-Hood shuffling; erase swaps the chain tail into the
// vacated slot so every remaining jump stays valid.
package bytellcore

import (
	"github.com/benchkit/hashcores/pkg/hashcore"
	"github.com/benchkit/hashcores/pkg/hashpolicy"
)

// jumpDistances is the fixed jump schedule. Stored metadata encodes an
// index into this table, so the eight values are load-bearing: tables
// written with a different schedule would chain to the wrong slots.
var jumpDistances = [8]uint64{1, 2, 3, 4, 9, 16, 32, 64}

// Metadata byte layout: 0xFF is empty; otherwise bit 7 is the
// direct-hit flag and the low nibble holds the jump index, where 0
// means end-of-chain and k in 1..8 means "next link lives
// jumpDistances[k-1] slots ahead".
const (
	metaEmpty     = byte(0xFF)
	metaDirectHit = byte(0x80)
	metaJumpMask  = byte(0x0F)
	metaEndOfList = byte(0x00)
)

func isEmpty(meta byte) bool     { return meta == metaEmpty }
func isDirectHit(meta byte) bool { return meta != metaEmpty && meta&metaDirectHit != 0 }
func jumpIndex(meta byte) int    { return int(meta & metaJumpMask) }

// withJump keeps a slot's direct-hit flag and points it at jump index
// j (0 for end-of-chain).
func withJump(meta byte, j int) byte {
	return (meta &^ metaJumpMask) | byte(j)
}

// Map is BYTELL's map container.
type Map[K comparable, V any] struct {
	hasher   hashcore.Hasher[K]
	equal    hashcore.Equal[K]
	onInsert hashcore.OnInsert[K, V]
	policy   hashpolicy.Policy

	meta   []byte
	keys   []K
	values []V

	numElements   uint64
	maxLoadFactor float64
}

// Iterator identifies a slot in a Map. The zero Iterator is the end()
// iterator. An Iterator is invalidated by any Insert that triggers
// growth, by Erase of any element in the same chain, and by
// Clear/Rehash.
type Iterator[K comparable, V any] struct {
	m     *Map[K, V]
	index int
	valid bool
}

// End reports whether the iterator is the end() sentinel.
func (it Iterator[K, V]) End() bool { return !it.valid }

// Key returns the key at the iterator's position.
func (it Iterator[K, V]) Key() K { return it.m.keys[it.index] }

// Value returns the value at the iterator's position.
func (it Iterator[K, V]) Value() V { return it.m.values[it.index] }

// New constructs an empty BYTELL map using the given policy (nil
// selects hashpolicy.PowerOfTwo), hasher, and equality functor (nil
// selects the defaults from pkg/hashcore).
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

// SetOnInsert installs the OnInsert hook.
func (m *Map[K, V]) SetOnInsert(fn hashcore.OnInsert[K, V]) { m.onInsert = fn }

// Len returns the number of live elements.
func (m *Map[K, V]) Len() int { return int(m.numElements) }

// Empty reports whether the map has no elements.
func (m *Map[K, V]) Empty() bool { return m.numElements == 0 }

// BucketCount returns the current capacity.
func (m *Map[K, V]) BucketCount() int { return len(m.keys) }

// LoadFactor returns the current load factor, 0 for an unallocated
// table.
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
		m.meta[i] = metaEmpty
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

// findSlot walks the chain rooted at key's ideal bucket. A head slot
// that is empty, or occupied by a link of some other chain, is a proof
// of absence.
func (m *Map[K, V]) findSlot(key K) (int, bool) {
	if len(m.keys) == 0 {
		return 0, false
	}

	capacity := uint64(len(m.keys))
	idx := m.policy.IndexForHash(m.hasher(key))
	meta := m.meta[idx]

	if !isDirectHit(meta) {
		return 0, false
	}

	for {
		if m.equal(m.keys[idx], key) {
			return int(idx), true
		}

		j := jumpIndex(meta)
		if j == 0 {
			return 0, false
		}

		idx = (idx + jumpDistances[j-1]) % capacity
		meta = m.meta[idx]
	}
}

// findWithPredecessor is findSlot plus the chain predecessor of the
// found slot (-1 when the found slot is the chain head). Erase needs
// the predecessor to splice or truncate.
func (m *Map[K, V]) findWithPredecessor(key K) (idx, prev int, found bool) {
	if len(m.keys) == 0 {
		return 0, -1, false
	}

	capacity := uint64(len(m.keys))
	cur := m.policy.IndexForHash(m.hasher(key))
	meta := m.meta[cur]

	if !isDirectHit(meta) {
		return 0, -1, false
	}

	prev = -1

	for {
		if m.equal(m.keys[cur], key) {
			return int(cur), prev, true
		}

		j := jumpIndex(meta)
		if j == 0 {
			return 0, -1, false
		}

		prev = int(cur)
		cur = (cur + jumpDistances[j-1]) % capacity
		meta = m.meta[cur]
	}
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

	for {
		idx, ok, err := m.tryInsert(key, value, true)
		if err != nil {
			return Iterator[K, V]{}, false, err
		}

		if ok {
			return Iterator[K, V]{m: m, index: idx, valid: true}, true, nil
		}

		if err := m.grow(nil); err != nil {
			return Iterator[K, V]{}, false, err
		}
	}
}

// tryInsert attempts one insert against the current table,
// incrementing numElements on success. ok is false when no reachable
// free slot exists for some link, meaning the caller must grow and
// retry.
//
// growOnDisplaceFail selects what happens when a displacement strands
// detached foreign-chain links with no reachable free slot: the
// top-level insert path grows with the stranded links carried as
// pending elements (the insert is then already complete on the bigger
// table); the rehash path reports !ok instead, because its caller
// rebuilds from an untouched snapshot anyway and nesting a
// pending-carrying grow inside a rehash would lose that snapshot's
// pending on retry.
func (m *Map[K, V]) tryInsert(key K, value V, growOnDisplaceFail bool) (int, bool, error) {
	capacity := uint64(len(m.keys))
	head := m.policy.IndexForHash(m.hasher(key))
	meta := m.meta[head]

	if isEmpty(meta) {
		m.meta[head] = metaDirectHit | metaEndOfList
		m.keys[head] = key
		m.values[head] = value
		m.numElements++

		return int(head), true, nil
	}

	if isDirectHit(meta) {
		// Append to the chain rooted here: walk to the tail, then link
		// a free slot reachable by one of the eight jump distances.
		tail := head
		for j := jumpIndex(m.meta[tail]); j != 0; j = jumpIndex(m.meta[tail]) {
			tail = (tail + jumpDistances[j-1]) % capacity
		}

		free, jump, ok := m.freeSlotNear(tail)
		if !ok {
			return 0, false, nil
		}

		m.meta[free] = metaEndOfList
		m.keys[free] = key
		m.values[free] = value
		m.meta[tail] = withJump(m.meta[tail], jump)
		m.numElements++

		return int(free), true, nil
	}

	// The head slot is occupied by a link of a chain rooted elsewhere.
	// Detach that link and everything after it, hand the head slot to
	// the new element, then re-append the detached links to their own
	// chain. Re-appending only ever appends (the foreign chain's head
	// still exists), so there is no recursive displacement.
	root := m.policy.IndexForHash(m.hasher(m.keys[head]))

	prev := root
	for {
		j := jumpIndex(m.meta[prev])
		next := (prev + jumpDistances[j-1]) % capacity

		if next == head {
			break
		}

		prev = next
	}

	detached := m.detachFrom(head)
	m.meta[prev] = withJump(m.meta[prev], 0)

	m.meta[head] = metaDirectHit | metaEndOfList
	m.keys[head] = key
	m.values[head] = value
	m.numElements++

	for i, kv := range detached {
		if ok := m.appendDetached(root, kv.key, kv.value); !ok {
			if !growOnDisplaceFail {
				return 0, false, nil
			}

			// Grow with the not-yet-reinserted remainder carried as
			// pending elements so nothing is lost mid-displacement.
			// The new element is already in the table, so after the
			// rehash the insert is complete.
			if err := m.grow(detached[i:]); err != nil {
				return 0, false, err
			}

			idx, found := m.findSlot(key)
			if !found {
				return 0, false, hashcore.ErrAllocationFailed
			}

			return idx, true, nil
		}
	}

	return int(head), true, nil
}

type pendingKV[K comparable, V any] struct {
	key   K
	value V
}

// detachFrom unlinks slot idx and every later link of its chain,
// returning their elements in chain order and marking the slots empty.
func (m *Map[K, V]) detachFrom(idx uint64) []pendingKV[K, V] {
	capacity := uint64(len(m.keys))

	var out []pendingKV[K, V]

	var zeroK K

	var zeroV V

	for {
		meta := m.meta[idx]
		out = append(out, pendingKV[K, V]{key: m.keys[idx], value: m.values[idx]})

		m.meta[idx] = metaEmpty
		m.keys[idx] = zeroK
		m.values[idx] = zeroV

		j := jumpIndex(meta)
		if j == 0 {
			return out
		}

		idx = (idx + jumpDistances[j-1]) % capacity
	}
}

// appendDetached re-links one detached element onto the chain rooted
// at root. It never displaces; false means no reachable free slot.
func (m *Map[K, V]) appendDetached(root uint64, key K, value V) bool {
	capacity := uint64(len(m.keys))

	tail := root
	for j := jumpIndex(m.meta[tail]); j != 0; j = jumpIndex(m.meta[tail]) {
		tail = (tail + jumpDistances[j-1]) % capacity
	}

	free, jump, ok := m.freeSlotNear(tail)
	if !ok {
		return false
	}

	m.meta[free] = metaEndOfList
	m.keys[free] = key
	m.values[free] = value
	m.meta[tail] = withJump(m.meta[tail], jump)

	return true
}

// freeSlotNear scans the eight jump distances from tail for an empty
// slot, returning the slot and the 1-based jump index that reaches it.
func (m *Map[K, V]) freeSlotNear(tail uint64) (uint64, int, bool) {
	capacity := uint64(len(m.keys))

	for k, dist := range jumpDistances {
		cand := (tail + dist) % capacity
		if cand != tail && isEmpty(m.meta[cand]) {
			return cand, k + 1, true
		}
	}

	return 0, 0, false
}

// ensureCapacityForInsert grows before an insert that would exceed the
// max load factor, and allocates on first insert.
func (m *Map[K, V]) ensureCapacityForInsert() error {
	if len(m.keys) == 0 {
		return m.Reserve(1)
	}

	if float64(m.numElements+1) > m.maxLoadFactor*float64(len(m.keys)) {
		return m.grow(nil)
	}

	return nil
}

func (m *Map[K, V]) grow(pending []pendingKV[K, V]) error {
	requested := uint64(len(m.keys)) * 2
	if requested == 0 {
		requested = 4
	}

	return m.rehashTo(requested, pending)
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
// elements detached by an in-flight displacement. If some chain cannot
// be laid out at the chosen size, the size is doubled and the whole
// pass redone from the untouched old arrays.
func (m *Map[K, V]) rehashTo(requested uint64, pending []pendingKV[K, V]) error {
	oldKeys, oldValues, oldMeta := m.keys, m.values, m.meta
	oldNumElements := m.numElements

	// A retry pass has already replaced the live arrays and committed
	// a candidate size into the policy, so every error return after
	// the first Commit must put the old table back: allocation failure
	// leaves the table in its pre-call state.
	restore := func(err error) error {
		m.keys, m.values, m.meta = oldKeys, oldValues, oldMeta
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
		if err := slotCountOK(newCapacity); err != nil {
			return restore(err)
		}

		m.policy.Commit(tok)
		m.keys = make([]K, newCapacity)
		m.values = make([]V, newCapacity)
		m.meta = make([]byte, newCapacity)

		for i := range m.meta {
			m.meta[i] = metaEmpty
		}

		m.numElements = 0

		fits := true

		reinsert := func(key K, value V) bool {
			_, ok, _ := m.tryInsert(key, value, false)

			return ok
		}

		for i, md := range oldMeta {
			if isEmpty(md) {
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

func slotCountOK(n uint64) error {
	if n == 0 || n > hashcore.MaxBucketCount {
		return hashcore.ErrAllocationFailed
	}

	return nil
}

// Erase removes key if present, returning the number of elements
// removed (0 or 1). Rather than splicing mid-chain (which could leave
// a predecessor with no encodable jump to its new successor), the
// chain's tail element is moved into the vacated slot; every other
// link keeps its jump byte.
func (m *Map[K, V]) Erase(key K) int {
	idx, prev, found := m.findWithPredecessor(key)
	if !found {
		return 0
	}

	m.eraseAt(idx, prev)

	return 1
}

// EraseIterator removes the element at it and returns an iterator to
// the next live element in slot order.
func (m *Map[K, V]) EraseIterator(it Iterator[K, V]) Iterator[K, V] {
	if it.End() {
		return it
	}

	idx := it.index
	_, prev, found := m.findWithPredecessor(m.keys[idx])

	if !found {
		return Iterator[K, V]{}
	}

	m.eraseAt(idx, prev)

	return m.nextOccupied(idx)
}

// EraseRange removes every element in the half-open forward range
// [first, last) and returns last. Keys are collected before any
// removal because the tail swap relocates elements mid-traversal.
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

// eraseAt removes the element at idx whose chain predecessor is prev
// (-1 when idx is the chain head).
func (m *Map[K, V]) eraseAt(idx, prev int) {
	capacity := uint64(len(m.keys))

	var zeroK K

	var zeroV V

	if jumpIndex(m.meta[idx]) == 0 {
		// Tail (or singleton head): unlink and empty the slot.
		if prev >= 0 {
			m.meta[prev] = withJump(m.meta[prev], 0)
		}

		m.meta[idx] = metaEmpty
		m.keys[idx] = zeroK
		m.values[idx] = zeroV
		m.numElements--

		return
	}

	// Interior or head: walk to the tail, move the tail's element into
	// idx (its metadata byte stays, so the chain shape is unchanged),
	// then drop the tail slot.
	tailPrev := idx
	tail := idx

	for j := jumpIndex(m.meta[tail]); j != 0; j = jumpIndex(m.meta[tail]) {
		tailPrev = tail
		tail = int((uint64(tail) + jumpDistances[j-1]) % capacity)
	}

	m.keys[idx] = m.keys[tail]
	m.values[idx] = m.values[tail]

	m.meta[tailPrev] = withJump(m.meta[tailPrev], 0)
	m.meta[tail] = metaEmpty
	m.keys[tail] = zeroK
	m.values[tail] = zeroV
	m.numElements--
}

// Clone returns a deep copy of m by full reconstruction.
func (m *Map[K, V]) Clone() *Map[K, V] {
	out := New[K, V](hashpolicy.CloneEmpty(m.policy), m.hasher, m.equal)
	out.maxLoadFactor = m.maxLoadFactor
	out.onInsert = m.onInsert

	if len(m.keys) == 0 {
		return out
	}

	_ = out.Reserve(int(m.numElements))

	for i, md := range m.meta {
		if !isEmpty(md) {
			_, _, _ = out.Insert(m.keys[i], m.values[i])
		}
	}

	return out
}

// Begin returns a forward iterator to the first live element in slot
// order, or End() if the table is empty.
func (m *Map[K, V]) Begin() Iterator[K, V] { return m.nextOccupied(0) }

// Next returns a forward iterator to the next live element after it.
func (it Iterator[K, V]) Next() Iterator[K, V] {
	if it.End() {
		return it
	}

	return it.m.nextOccupied(it.index + 1)
}

func (m *Map[K, V]) nextOccupied(idx int) Iterator[K, V] {
	for i := idx; i < len(m.meta); i++ {
		if !isEmpty(m.meta[i]) {
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
			if !isEmpty(md) {
				if !yield(m.keys[i], m.values[i]) {
					return
				}
			}
		}
	}
}
