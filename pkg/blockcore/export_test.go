package blockcore

import "fmt"

// Index exposes the iterator's lane index to tests.
func (it Iterator[K, V]) Index() int { return it.index }

// Match16 exposes the lane-mask compare to tests.
func Match16(meta []byte, want byte) uint16 { return match16(meta, want) }

// SetWideCompare forces the SWAR or byte-loop compare path and returns
// the previous setting, so tests can cover both.
func SetWideCompare(on bool) bool {
	prev := wideCompare
	wideCompare = on

	return prev
}

// DebugCheckInvariants walks the whole table and verifies the
// block-probing structural invariants:
//
//   - every occupied lane's byte re-derives from its key: ideal block
//     plus recorded distance lands on its actual block, and the tag
//     bits equal the hash's extra bits;
//   - for every occupied lane at distance d, each earlier block of its
//     probe is full with no lane displaced less than the probe
//     distance there (the absence proof stays sound);
//   - the guard block is intact;
//   - the element count matches the number of occupied lanes.
//
// Failures mean: an insert, displacement, or erase corrupted metadata.
func (m *Map[K, V]) DebugCheckInvariants() error {
	if m.numBlocks == 0 {
		if m.numElements != 0 {
			return fmt.Errorf("unallocated table reports %d elements", m.numElements)
		}

		return nil
	}

	occupied := uint64(0)
	lanes := int(m.numBlocks) * blockLanes

	for i := 0; i < lanes; i++ {
		b := m.meta[i]
		if b&laneSpecialBit != 0 {
			if b != laneEmpty {
				return fmt.Errorf("lane %d: sentinel %#x inside the table", i, b)
			}

			continue
		}

		occupied++

		hash := m.hasher(m.keys[i])
		ideal := m.policy.IndexForHash(hash)
		dist := laneDistance(b)
		blk := uint64(i / blockLanes)

		if want := (ideal + uint64(dist)) % m.numBlocks; want != blk {
			return fmt.Errorf("lane %d: ideal block %d + distance %d lands at block %d, stored in %d", i, ideal, dist, want, blk)
		}

		if tag := m.policy.ExtraBitsForHash(hash) & 0x1F; tag != b&0x1F {
			return fmt.Errorf("lane %d: tag %#x, want %#x", i, b&0x1F, tag)
		}

		for d := uint8(0); d < dist; d++ {
			eb := (ideal + uint64(d)) % m.numBlocks
			ebase := int(eb) * blockLanes
			en := m.meta[ebase : ebase+blockLanes]

			if match16(en, laneEmpty) != 0 {
				return fmt.Errorf("lane %d at distance %d: en-route block %d has an empty lane", i, dist, eb)
			}

			if anyDistanceBelow(en, d) {
				return fmt.Errorf("lane %d at distance %d: en-route block %d holds a lane below probe distance %d", i, dist, eb, d)
			}
		}
	}

	for i := lanes; i < lanes+blockLanes; i++ {
		if b := m.meta[i]; b != guardAligned && b != guardMisaligned {
			return fmt.Errorf("guard lane %d: %#x", i, b)
		}
	}

	if occupied != m.numElements {
		return fmt.Errorf("count mismatch: %d occupied lanes, numElements %d", occupied, m.numElements)
	}

	return nil
}
