package flatcore

import "fmt"

// MaxLookups exposes the current probe-distance ceiling to tests.
func (m *Map[K, V]) MaxLookups() int { return m.maxLookups }

// Index exposes the iterator's slot index to tests.
func (it Iterator[K, V]) Index() int { return it.index }

// DebugCheckInvariants walks the whole table and verifies the
// Robin-Hood structural invariants:
//
//   - every occupied slot's recorded distance equals its actual
//     position minus its ideal bucket (mod capacity);
//   - no recorded distance reaches the probe ceiling;
//   - the element count matches the number of occupied slots.
//
// Failures mean: a probe walk corrupted metadata.
func (m *Map[K, V]) DebugCheckInvariants() error {
	occupied := uint64(0)
	capacity := uint64(len(m.keys))

	for i, md := range m.meta {
		if !md.IsOccupied() {
			continue
		}

		occupied++

		if int(md.Distance) >= m.maxLookups {
			return fmt.Errorf("slot %d: distance %d >= max lookups %d", i, md.Distance, m.maxLookups)
		}

		ideal := m.policy.IndexForHash(m.hasher(m.keys[i]))

		want := (ideal + uint64(md.Distance)) % capacity
		if want != uint64(i) {
			return fmt.Errorf("slot %d: ideal %d + distance %d lands at %d", i, ideal, md.Distance, want)
		}
	}

	if occupied != m.numElements {
		return fmt.Errorf("count mismatch: %d occupied slots, numElements %d", occupied, m.numElements)
	}

	return nil
}
