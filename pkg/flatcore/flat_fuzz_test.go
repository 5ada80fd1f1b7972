// Fuzz tests comparing the FLAT core against an in-memory reference
// model, plus a checked-in adversarial key list regression.
//
// Failures mean: the API returned wrong results for some op sequence.

package flatcore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benchkit/hashcores/pkg/flatcore"
	"github.com/benchkit/hashcores/pkg/hashpolicy"
)

// adversarialKeys is a 160-key regression list that historically
// produced pathological clustering: a fixed arithmetic walk through
// the negative ints, starting at -16774656 with step 33065.
func adversarialKeys() []int {
	keys := make([]int, 160)

	k := -16774656
	for i := range keys {
		keys[i] = k
		k += 33065
	}

	return keys
}

func Test_Adversarial_Key_List_Survives_Interleaved_Range_Erases(t *testing.T) {
	t.Parallel()

	m := flatcore.New[int, int](&hashpolicy.PowerOfTwo{}, nil, nil)

	checkIteratorsResolve := func() {
		t.Helper()

		n := 0

		for it := m.Begin(); !it.End(); it = it.Next() {
			found, ok := m.Find(it.Key())
			require.True(t, ok)
			require.Equal(t, it.Index(), found.Index(), "key %d resolves to a different slot", it.Key())
			n++
		}

		require.Equal(t, m.Len(), n)
	}

	for i, k := range adversarialKeys() {
		_, inserted, err := m.Insert(k, i+1)
		require.NoError(t, err)
		require.True(t, inserted)
		checkIteratorsResolve()
	}

	// Interleaved range erases: drop a window out of the middle, then
	// re-check every surviving iterator after each round.
	for round := 0; round < 6 && m.Len() > 10; round++ {
		var order []int

		m.All()(func(k, _ int) bool {
			order = append(order, k)

			return true
		})

		lo := len(order) / 4
		hi := lo + len(order)/3

		first, ok := m.Find(order[lo])
		require.True(t, ok)
		last, ok := m.Find(order[hi])
		require.True(t, ok)

		m.EraseRange(first, last)
		checkIteratorsResolve()
		require.NoError(t, m.DebugCheckInvariants())
	}
}

// opInsert..opClear are the opcodes the fuzz decoder consumes.
const (
	opInsert = iota
	opErase
	opFind
	opClear
	opCount
)

func FuzzFlat_Matches_Model_When_Random_Ops_Applied(f *testing.F) {
	f.Add([]byte{0x00, 0x01, 0x02})
	f.Add([]byte{0xFF, 0xFE, 0xFD})
	f.Add([]byte("flatcore-ops"))
	f.Add(make([]byte, 64))

	// Seed the corpus with the adversarial walk, one insert per key
	// (the fuzz table's keys are bytes, so each key's low byte).
	seed := make([]byte, 0, 320)
	for _, k := range adversarialKeys() {
		seed = append(seed, byte(opInsert), byte(k))
	}

	f.Add(seed)

	f.Fuzz(func(t *testing.T, fuzzBytes []byte) {
		m := flatcore.New[byte, int](&hashpolicy.Fibonacci{}, nil, nil)
		oracle := make(map[byte]int)

		for i := 0; i+1 < len(fuzzBytes); i += 2 {
			op := int(fuzzBytes[i]) % opCount
			key := fuzzBytes[i+1]

			switch op {
			case opInsert:
				_, inserted, err := m.Insert(key, i)
				require.NoError(t, err)

				_, existed := oracle[key]
				require.Equal(t, !existed, inserted)

				if !existed {
					oracle[key] = i
				}
			case opErase:
				removed := m.Erase(key)
				_, existed := oracle[key]
				delete(oracle, key)

				want := 0
				if existed {
					want = 1
				}

				require.Equal(t, want, removed)
			case opFind:
				it, found := m.Find(key)
				value, existed := oracle[key]
				require.Equal(t, existed, found)

				if found {
					require.Equal(t, value, it.Value())
				}
			case opClear:
				m.Clear()
				clear(oracle)
			}

			require.Equal(t, len(oracle), m.Len())
		}

		require.NoError(t, m.DebugCheckInvariants())
	})
}
