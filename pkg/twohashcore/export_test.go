package twohashcore

import "fmt"

// Side and Index expose the iterator's position to tests.
func (it Iterator[K, V]) Side() int  { return it.side }
func (it Iterator[K, V]) Index() int { return it.index }

// HalfLens exposes the per-half element counts to tests.
func (m *Map[K, V]) HalfLens() (a, b int) { return int(m.a.elements), int(m.b.elements) }

// MaxLookups exposes the current per-half probe-distance ceiling.
func (m *Map[K, V]) MaxLookups() int { return m.a.maxLookups }

// DebugCheckInvariants verifies the Robin-Hood structural invariants
// independently in each half: every occupied slot's recorded distance
// equals its actual position minus its ideal bucket, and per-half
// element counts match occupied slots.
//
// Failures mean: a probe walk corrupted metadata.
func (m *Map[K, V]) DebugCheckInvariants() error {
	for sideNo, h := range []*half[K, V]{&m.a, &m.b} {
		occupied := uint64(0)
		capacity := h.capacity()

		for i, md := range h.meta {
			if !md.IsOccupied() {
				continue
			}

			occupied++

			if int(md.Distance) >= h.maxLookups {
				return fmt.Errorf("half %d slot %d: distance %d >= max lookups %d", sideNo, i, md.Distance, h.maxLookups)
			}

			ideal := h.index(m.hasher(h.keys[i]))

			want := (ideal + uint64(md.Distance)) % capacity
			if want != uint64(i) {
				return fmt.Errorf("half %d slot %d: ideal %d + distance %d lands at %d", sideNo, i, ideal, md.Distance, want)
			}
		}

		if occupied != h.elements {
			return fmt.Errorf("half %d count mismatch: %d occupied slots, elements %d", sideNo, occupied, h.elements)
		}
	}

	return nil
}
