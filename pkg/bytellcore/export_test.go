package bytellcore

import "fmt"

// JumpDistances exposes the fixed jump schedule to tests.
func JumpDistances() [8]uint64 { return jumpDistances }

// Index exposes the iterator's slot index to tests.
func (it Iterator[K, V]) Index() int { return it.index }

// DebugCheckInvariants walks the whole table and verifies the chain
// structural invariants:
//
//   - every chain head sits at its own ideal bucket and is marked a
//     direct hit;
//   - following jumps from any head terminates within bucket-count
//     steps with no slot revisited (acyclicity);
//   - every chain member's ideal bucket is the chain's root;
//   - every occupied non-head slot belongs to exactly one chain;
//   - the element count matches the number of occupied slots.
//
// Failures mean: an insert, displacement, or erase corrupted a chain.
func (m *Map[K, V]) DebugCheckInvariants() error {
	capacity := uint64(len(m.keys))
	reached := make(map[uint64]bool)
	occupied := uint64(0)

	for i := range m.meta {
		if !isEmpty(m.meta[i]) {
			occupied++
		}
	}

	if occupied != m.numElements {
		return fmt.Errorf("count mismatch: %d occupied slots, numElements %d", occupied, m.numElements)
	}

	for i := uint64(0); i < capacity; i++ {
		if !isDirectHit(m.meta[i]) {
			continue
		}

		root := m.policy.IndexForHash(m.hasher(m.keys[i]))
		if root != i {
			return fmt.Errorf("slot %d: direct hit but ideal bucket is %d", i, root)
		}

		cur := i

		for steps := uint64(0); ; steps++ {
			if steps > capacity {
				return fmt.Errorf("chain at %d exceeds %d steps", i, capacity)
			}

			if reached[cur] {
				return fmt.Errorf("slot %d reached twice (cycle or shared link)", cur)
			}

			reached[cur] = true

			if memberRoot := m.policy.IndexForHash(m.hasher(m.keys[cur])); memberRoot != i {
				return fmt.Errorf("slot %d in chain %d has ideal bucket %d", cur, i, memberRoot)
			}

			j := jumpIndex(m.meta[cur])
			if j == 0 {
				break
			}

			next := (cur + jumpDistances[j-1]) % capacity
			if isEmpty(m.meta[next]) || isDirectHit(m.meta[next]) {
				return fmt.Errorf("slot %d jumps to %d which is not a list entry", cur, next)
			}

			cur = next
		}
	}

	for i := uint64(0); i < capacity; i++ {
		if !isEmpty(m.meta[i]) && !reached[i] {
			return fmt.Errorf("slot %d occupied but unreachable from any chain head", i)
		}
	}

	return nil
}
