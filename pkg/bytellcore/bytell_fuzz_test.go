// Fuzz test comparing the BYTELL core against an in-memory reference
// model.
//
// Failures mean: the API returned wrong results for some op sequence.

package bytellcore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benchkit/hashcores/pkg/bytellcore"
	"github.com/benchkit/hashcores/pkg/hashpolicy"
)

const (
	opInsert = iota
	opErase
	opFind
	opClear
	opCount
)

func FuzzBytell_Matches_Model_When_Random_Ops_Applied(f *testing.F) {
	f.Add([]byte{0x00, 0x01, 0x02})
	f.Add([]byte{0xFF, 0xFE, 0xFD})
	f.Add([]byte("bytellcore-ops"))
	f.Add(make([]byte, 64))

	f.Fuzz(func(t *testing.T, fuzzBytes []byte) {
		// The identity hash makes the fuzzer's byte keys collide hard
		// under small capacities, reaching the displacement and
		// tail-swap paths quickly.
		identity := func(k byte) uint64 { return uint64(k) }
		m := bytellcore.New[byte, int](&hashpolicy.PowerOfTwo{}, identity, nil)
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
