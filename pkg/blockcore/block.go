// Package blockcore implements BLOCK: slots are grouped into 16-lane
// blocks whose metadata bytes are compared 16 at a time. Each lane's
// byte packs the entry's block-probe distance with five bits of its
// hash (bits 27..31), so one compare rejects almost every non-matching lane
// before any key is touched. Displacement is Robin-Hood over lanes,
// probing block by block.
package blockcore

import (
	"math/bits"

	"github.com/benchkit/hashcores/pkg/hashcore"
	"github.com/benchkit/hashcores/pkg/hashpolicy"
	"github.com/benchkit/hashcores/pkg/slotlayout"
)

const (
	blockLanes = 16

	// laneSpecialBit distinguishes the sentinels from occupied lanes:
	// an occupied lane's byte is (distance<<5)|tag and always stays
	// below 0x80.
	laneSpecialBit = byte(0x80)
	laneEmpty      = byte(0x80)

	// The trailing guard block's bytes record whether the buffer was
	// allocated 16-byte aligned or shifted by one slot to become so,
	// so teardown can undo the shift.
	guardAligned    = byte(0x81)
	guardMisaligned = byte(0x82)

	// maxBlockDistance is the largest encodable block-probe distance;
	// an insert pushed further triggers growth. Two bits of the lane
	// byte hold it, the low five hold the hash tag.
	maxBlockDistance = uint8(3)
)

func laneByte(distance, tag uint8) byte { return distance<<5 | tag&0x1F }
func laneDistance(b byte) uint8         { return (b >> 5) & 0x3 }

// Map is BLOCK's map container.
type Map[K comparable, V any] struct {
	hasher   hashcore.Hasher[K]
	equal    hashcore.Equal[K]
	onInsert hashcore.OnInsert[K, V]
	policy   hashpolicy.Policy

	// meta holds numBlocks*16 lane bytes followed by one 16-byte guard
	// block; keys/values hold numBlocks*16 entries.
	meta   []byte
	keys   []K
	values []V

	numBlocks     uint64
	numElements   uint64
	maxLoadFactor float64
}

// Iterator identifies a lane in a Map. The zero Iterator is the end()
// iterator. An Iterator is invalidated by any Insert that triggers
// growth, by Erase (the backshift relocates lanes), and by
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

// New constructs an empty BLOCK map using the given policy (nil
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

// BucketCount returns the current capacity in lanes.
func (m *Map[K, V]) BucketCount() int { return int(m.numBlocks) * blockLanes }

// LoadFactor returns the current load factor over lanes, 0 for an
// unallocated table.
func (m *Map[K, V]) LoadFactor() float64 {
	if m.numBlocks == 0 {
		return 0
	}

	return float64(m.numElements) / float64(m.numBlocks*blockLanes)
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
	for i := 0; i < int(m.numBlocks)*blockLanes; i++ {
		m.meta[i] = laneEmpty
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

// findSlot probes block by block. One 16-lane compare yields the
// candidate mask for this block; an empty lane or any lane displaced
// less far than the probe is a proof of absence.
func (m *Map[K, V]) findSlot(key K) (int, bool) {
	if m.numBlocks == 0 {
		return 0, false
	}

	hash := m.hasher(key)
	b0 := m.policy.IndexForHash(hash)
	tag := m.policy.ExtraBitsForHash(hash)

	for d := uint8(0); d <= maxBlockDistance; d++ {
		blk := (b0 + uint64(d)) % m.numBlocks
		base := int(blk) * blockLanes
		lanes := m.meta[base : base+blockLanes]

		mask := match16(lanes, laneByte(d, tag))
		for mask != 0 {
			lane := bits.TrailingZeros16(mask)
			if m.equal(m.keys[base+lane], key) {
				return base + lane, true
			}

			mask &= mask - 1
		}

		if match16(lanes, laneEmpty) != 0 {
			return 0, false
		}

		if anyDistanceBelow(lanes, d) {
			return 0, false
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

type pendingKV[K comparable, V any] struct {
	key   K
	value V
}

// robinHoodInsert places (key, value), growing when the displacement
// walk runs out of encodable distance. A failed walk holds a displaced
// occupant in hand; the grow folds it into the rehash as a pending
// element, which recounts every element (counted reports that).
func (m *Map[K, V]) robinHoodInsert(key K, value V) (idx int, counted bool, err error) {
	landedAt, carriedKey, carriedValue, ok := m.tryInsert(key, value)
	if ok {
		return landedAt, false, nil
	}

	pending := []pendingKV[K, V]{{key: carriedKey, value: carriedValue}}
	if err := m.rehashTo(m.numBlocks*2, pending); err != nil {
		return 0, false, err
	}

	found, ok := m.findSlot(key)
	if !ok {
		return 0, false, hashcore.ErrAllocationFailed
	}

	return found, true, nil
}

// tryInsert attempts one displacement walk over the current table.
// ok is false when the carried element would need a distance beyond
// maxBlockDistance; the carried tuple is whatever the walk was holding
// (the caller's own pair if nothing was placed yet).
func (m *Map[K, V]) tryInsert(key K, value V) (landedAt int, carriedKey K, carriedValue V, ok bool) {
	hash := m.hasher(key)
	b0 := m.policy.IndexForHash(hash)
	tag := m.policy.ExtraBitsForHash(hash)
	d := uint8(0)
	landedAt = -1

	for {
		if d > maxBlockDistance {
			return landedAt, key, value, false
		}

		blk := (b0 + uint64(d)) % m.numBlocks
		base := int(blk) * blockLanes
		lanes := m.meta[base : base+blockLanes]

		if mask := match16(lanes, laneEmpty); mask != 0 {
			lane := bits.TrailingZeros16(mask)
			m.meta[base+lane] = laneByte(d, tag)
			m.keys[base+lane] = key
			m.values[base+lane] = value

			if landedAt == -1 {
				landedAt = base + lane
			}

			return landedAt, key, value, true
		}

		lane, minDist, occupied := minDistanceLane(lanes)
		if occupied && minDist < d {
			// Robin Hood over lanes: the incoming element takes the
			// least-displaced lane, and its occupant carries on.
			occupantKey := m.keys[base+lane]
			occupantValue := m.values[base+lane]
			occupantTag := m.meta[base+lane] & 0x1F

			m.meta[base+lane] = laneByte(d, tag)
			m.keys[base+lane] = key
			m.values[base+lane] = value

			if landedAt == -1 {
				landedAt = base + lane
			}

			key, value, tag = occupantKey, occupantValue, occupantTag
			d = minDist
			b0 = (blk + m.numBlocks - uint64(minDist)) % m.numBlocks
		}

		d++
	}
}

// ensureCapacityForInsert grows before an insert that would exceed the
// max load factor, and allocates on first insert.
func (m *Map[K, V]) ensureCapacityForInsert() error {
	if m.numBlocks == 0 {
		return m.Reserve(1)
	}

	if float64(m.numElements+1) > m.maxLoadFactor*float64(m.numBlocks*blockLanes) {
		return m.rehashTo(m.numBlocks*2, nil)
	}

	return nil
}

// Reserve ensures the table can hold at least n elements without
// triggering growth before the next n inserts.
func (m *Map[K, V]) Reserve(n int) error {
	if n < 0 {
		return hashcore.ErrInvalidInput
	}

	lanes := uint64(float64(n) / m.maxLoadFactor)

	blocks := (lanes + blockLanes - 1) / blockLanes
	if blocks < 1 {
		blocks = 1
	}

	if blocks <= m.numBlocks {
		return nil
	}

	return m.rehashTo(blocks, nil)
}

// Rehash resizes to the policy's next size at-or-over the requested
// lane count, re-inserting every element.
func (m *Map[K, V]) Rehash(buckets int) error {
	if buckets < 0 {
		return hashcore.ErrInvalidInput
	}

	minLanes := uint64(float64(m.numElements) / m.maxLoadFactor)
	lanes := uint64(buckets)

	if lanes < minLanes {
		lanes = minLanes
	}

	blocks := (lanes + blockLanes - 1) / blockLanes
	if blocks < 1 {
		blocks = 1
	}

	return m.rehashTo(blocks, nil)
}

// rehashTo rebuilds the table with the policy's next block count
// at-or-over requestedBlocks, re-inserting every live element plus any
// pending elements a failed displacement walk was still carrying. If
// some element cannot be laid out within the distance limit at the
// chosen size, the size is doubled and the whole pass redone from the
// untouched old arrays.
func (m *Map[K, V]) rehashTo(requestedBlocks uint64, pending []pendingKV[K, V]) error {
	oldKeys, oldValues, oldMeta, oldBlocks := m.keys, m.values, m.meta, m.numBlocks
	oldNumElements := m.numElements

	// A retry pass has already replaced the live arrays and committed
	// a candidate block count into the policy, so every error return
	// after the first Commit must put the old table back: allocation
	// failure leaves the table in its pre-call state.
	restore := func(err error) error {
		m.keys, m.values, m.meta = oldKeys, oldValues, oldMeta
		m.numBlocks = oldBlocks
		m.numElements = oldNumElements

		if oldBlocks == 0 {
			m.policy.Reset()
		} else if tok, tokErr := m.policy.NextSizeOver(oldBlocks); tokErr == nil {
			m.policy.Commit(tok)
		}

		return err
	}

	tok, err := m.policy.NextSizeOver(requestedBlocks)
	if err != nil {
		return err
	}

	for {
		newBlocks := tok.Capacity()
		if err := slotlayout.CheckBucketCount(newBlocks * blockLanes); err != nil {
			return restore(err)
		}

		m.policy.Commit(tok)
		m.numBlocks = newBlocks
		m.keys = make([]K, newBlocks*blockLanes)
		m.values = make([]V, newBlocks*blockLanes)
		m.meta = make([]byte, (newBlocks+1)*blockLanes)

		lanes := int(newBlocks) * blockLanes
		for i := 0; i < lanes; i++ {
			m.meta[i] = laneEmpty
		}

		guard := guardAligned
		if slotlayout.BlockAlignShift(false) != 0 {
			guard = guardMisaligned
		}

		for i := lanes; i < lanes+blockLanes; i++ {
			m.meta[i] = guard
		}

		m.numElements = 0

		fits := true

		reinsert := func(key K, value V) bool {
			_, _, _, ok := m.tryInsert(key, value)
			if !ok {
				return false
			}

			m.numElements++

			return true
		}

		for i := 0; i < int(oldBlocks)*blockLanes; i++ {
			if oldMeta[i]&laneSpecialBit != 0 {
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

		tok, err = m.policy.NextSizeOver(newBlocks * 2)
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
// the next live element in lane order.
func (m *Map[K, V]) EraseIterator(it Iterator[K, V]) Iterator[K, V] {
	if it.End() {
		return it
	}

	idx := it.index
	m.eraseAt(idx)

	return m.nextOccupied(idx)
}

// EraseRange removes every element in the half-open forward range
// [first, last) and returns last. Keys are collected before any
// removal because the backshift relocates lanes mid-traversal.
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

// eraseAt empties the lane at idx, then restores the Robin-Hood block
// invariant: as long as the following block still holds an element
// displaced at least one block, pull its farthest-displaced lane back
// into the vacated lane (one block closer to its ideal), and continue
// from the lane that pull vacated.
func (m *Map[K, V]) eraseAt(idx int) {
	var zeroK K

	var zeroV V

	cur := idx

	for {
		blk := uint64(cur / blockLanes)
		next := (blk + 1) % m.numBlocks
		nextBase := int(next) * blockLanes

		lane, dist, ok := maxDistanceLane(m.meta[nextBase : nextBase+blockLanes])
		if !ok {
			m.meta[cur] = laneEmpty
			m.keys[cur] = zeroK
			m.values[cur] = zeroV

			break
		}

		from := nextBase + lane
		m.meta[cur] = laneByte(dist-1, m.meta[from]&0x1F)
		m.keys[cur] = m.keys[from]
		m.values[cur] = m.values[from]

		cur = from
	}

	m.numElements--
}

// Clone returns a deep copy of m by full reconstruction.
func (m *Map[K, V]) Clone() *Map[K, V] {
	out := New[K, V](hashpolicy.CloneEmpty(m.policy), m.hasher, m.equal)
	out.maxLoadFactor = m.maxLoadFactor
	out.onInsert = m.onInsert

	if m.numBlocks == 0 {
		return out
	}

	_ = out.Reserve(int(m.numElements))

	for i := 0; i < int(m.numBlocks)*blockLanes; i++ {
		if m.meta[i]&laneSpecialBit == 0 {
			_, _, _ = out.Insert(m.keys[i], m.values[i])
		}
	}

	return out
}

// Begin returns a forward iterator to the first live element in lane
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
	for i := idx; i < int(m.numBlocks)*blockLanes; i++ {
		if m.meta[i]&laneSpecialBit == 0 {
			return Iterator[K, V]{m: m, index: i, valid: true}
		}
	}

	return Iterator[K, V]{}
}

// All returns a range-over-func iterator over every live (key, value)
// pair, in lane order. The order is not stable across a rehash.
func (m *Map[K, V]) All() func(yield func(K, V) bool) {
	return func(yield func(K, V) bool) {
		for i := 0; i < int(m.numBlocks)*blockLanes; i++ {
			if m.meta[i]&laneSpecialBit == 0 {
				if !yield(m.keys[i], m.values[i]) {
					return
				}
			}
		}
	}
}
