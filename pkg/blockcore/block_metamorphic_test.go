// Metamorphic and fuzz tests comparing the BLOCK core against a
// map[K]V oracle.
//
// Failures mean: a semantic invariant was violated.

package blockcore_test

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/benchkit/hashcores/pkg/blockcore"
	"github.com/benchkit/hashcores/pkg/hashpolicy"
)

func tableContents(m *blockcore.Map[uint64, uint64]) map[uint64]uint64 {
	out := make(map[uint64]uint64, m.Len())
	m.All()(func(k, v uint64) bool {
		out[k] = v

		return true
	})

	return out
}

func Test_Block_Matches_Model_When_Seeded_Random_Ops_Applied(t *testing.T) {
	t.Parallel()

	seedCount := 20
	if testing.Short() {
		seedCount = 3
	}

	for name, newPolicy := range allPolicies() {
		for i := 0; i < seedCount; i++ {
			seed := uint64(500 + i)

			t.Run(fmt.Sprintf("%s/seed=%d", name, seed), func(t *testing.T) {
				t.Parallel()

				rng := rand.New(rand.NewPCG(seed, 0))
				m := blockcore.New[uint64, uint64](newPolicy(), nil, nil)
				oracle := make(map[uint64]uint64)

				for op := 0; op < 2000; op++ {
					key := rng.Uint64N(512)

					switch rng.UintN(4) {
					case 0, 1:
						value := rng.Uint64()

						_, inserted, err := m.Insert(key, value)
						require.NoError(t, err)

						_, existed := oracle[key]
						require.Equal(t, !existed, inserted)

						if !existed {
							oracle[key] = value
						}
					case 2:
						removed := m.Erase(key)
						_, existed := oracle[key]
						delete(oracle, key)

						want := 0
						if existed {
							want = 1
						}

						require.Equal(t, want, removed)
					case 3:
						it, found := m.Find(key)
						value, existed := oracle[key]
						require.Equal(t, existed, found)

						if found {
							require.Equal(t, value, it.Value())
						}
					}

					require.Equal(t, len(oracle), m.Len())

					if op%250 == 0 {
						require.NoError(t, m.DebugCheckInvariants())

						if diff := cmp.Diff(oracle, tableContents(m)); diff != "" {
							t.Fatalf("table diverged from oracle (-want +got):\n%s", diff)
						}
					}
				}

				require.NoError(t, m.DebugCheckInvariants())

				if diff := cmp.Diff(oracle, tableContents(m)); diff != "" {
					t.Fatalf("final state diverged from oracle (-want +got):\n%s", diff)
				}
			})
		}
	}
}

const (
	opInsert = iota
	opErase
	opFind
	opClear
	opCount
)

func FuzzBlock_Matches_Model_When_Random_Ops_Applied(f *testing.F) {
	f.Add([]byte{0x00, 0x01, 0x02})
	f.Add([]byte{0xFF, 0xFE, 0xFD})
	f.Add([]byte("blockcore-ops"))
	f.Add(make([]byte, 64))

	f.Fuzz(func(t *testing.T, fuzzBytes []byte) {
		m := blockcore.New[byte, int](&hashpolicy.Fibonacci{}, nil, nil)
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
