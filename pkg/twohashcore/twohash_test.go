// Behavior tests for the TWO-HASH core: container contract, two-choice
// placement, per-half Robin-Hood invariants, and the lookup
// instrumentation.
//
// Failures mean: the container API returned wrong results.

package twohashcore_test

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchkit/hashcores/pkg/hashcore"
	"github.com/benchkit/hashcores/pkg/twohashcore"
)

func Test_Find_Returns_Inserted_Pairs_And_Misses_Absent_Keys(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[int, int](nil, nil)

	for i := 0; i < 50; i++ {
		_, inserted, err := m.Insert(2*i, 4*i)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	for i := 0; i < 50; i++ {
		it, found := m.Find(2 * i)
		require.True(t, found, "key %d", 2*i)
		assert.Equal(t, 4*i, it.Value())

		_, found = m.Find(2*i + 1)
		assert.False(t, found, "key %d", 2*i+1)
	}

	require.NoError(t, m.DebugCheckInvariants())
}

func Test_Insert_Is_Idempotent_For_Existing_Keys(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[string, int](nil, nil)

	_, inserted, err := m.Insert("a", 1)
	require.NoError(t, err)
	require.True(t, inserted)

	it, inserted, err := m.Insert("a", 99)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 1, it.Value())
	assert.Equal(t, 1, m.Len())
}

func Test_Random_Keys_Stay_Findable_Under_Load(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 0))
	m := twohashcore.New[uint64, uint64](nil, nil)

	keys := make(map[uint64]uint64, 13000)

	for len(keys) < 13000 {
		k := rng.Uint64()
		if _, dup := keys[k]; dup {
			continue
		}

		keys[k] = k * 3

		_, _, err := m.Insert(k, k*3)
		require.NoError(t, err)
	}

	require.Equal(t, 13000, m.Len())
	assert.LessOrEqual(t, m.LoadFactor(), m.MaxLoadFactor())

	for k, v := range keys {
		it, found := m.Find(k)
		require.True(t, found, "key %d", k)
		require.Equal(t, v, it.Value())
	}

	require.NoError(t, m.DebugCheckInvariants())
}

func Test_Two_Choice_Placement_Balances_Halves(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[uint64, uint64](nil, nil)

	for i := uint64(0); i < 10000; i++ {
		_, _, err := m.Insert(i, i)
		require.NoError(t, err)
	}

	a, b := m.HalfLens()
	require.Equal(t, 10000, a+b)

	// Two-choice hashing keeps the halves close; a lopsided split
	// means the placement scan is broken.
	ratio := float64(a) / float64(a+b)
	assert.InDelta(t, 0.5, ratio, 0.1, "half split %d/%d", a, b)
}

func Test_NumLookups_Stays_Bounded(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[uint64, uint64](nil, nil)

	for i := uint64(0); i < 50000; i++ {
		_, _, err := m.Insert(i*2654435761, i)
		require.NoError(t, err)
	}

	// Both halves are probed in lock-step, so a lookup visits at most
	// two slots per probe distance.
	for i := uint64(0); i < 50000; i += 111 {
		n := m.NumLookups(i * 2654435761)
		require.Greater(t, n, 0)
		require.LessOrEqual(t, n, 2*m.MaxLookups())
	}
}

func Test_Erase_By_Key_Iterator_And_Range(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[int, int](nil, nil)
	for i := 0; i < 100; i++ {
		_, _, err := m.Insert(i, i*10)
		require.NoError(t, err)
	}

	var order []int
	m.All()(func(k, _ int) bool {
		order = append(order, k)

		return true
	})

	first, found := m.Find(order[10])
	require.True(t, found)
	last, found := m.Find(order[90])
	require.True(t, found)

	m.EraseRange(first, last)
	require.Equal(t, 20, m.Len())

	expect := make(map[int]bool, 20)
	for _, k := range append(append([]int{}, order[:10]...), order[90:]...) {
		expect[k] = true
	}

	for i := 0; i < 100; i++ {
		_, found := m.Find(i)
		assert.Equal(t, expect[i], found, "key %d", i)
	}

	require.NoError(t, m.DebugCheckInvariants())

	// Erase-by-iterator removes for real, like erase-by-key.
	it, found := m.Find(order[0])
	require.True(t, found)

	next := m.EraseIterator(it)
	require.Equal(t, 19, m.Len())

	_, found = m.Find(order[0])
	require.False(t, found)

	if !next.End() {
		_, stillThere := m.Find(next.Key())
		require.True(t, stillThere)
	}

	require.NoError(t, m.DebugCheckInvariants())
}

func Test_Erase_Backshift_Under_Collisions(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[int, int](nil, nil)
	for i := 0; i < 2000; i++ {
		_, _, err := m.Insert(i, i)
		require.NoError(t, err)
	}

	rng := rand.New(rand.NewPCG(21, 0))

	for n, i := range rng.Perm(2000) {
		require.Equal(t, 1, m.Erase(i))
		require.Equal(t, 0, m.Erase(i))

		if n%200 == 0 {
			require.NoError(t, m.DebugCheckInvariants())
		}
	}

	assert.Equal(t, 0, m.Len())
}

func Test_Rehash_Keeps_Every_Mapping(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[int, string](nil, nil)
	for i := 0; i < 300; i++ {
		_, _, err := m.Insert(i, fmt.Sprintf("v%d", i))
		require.NoError(t, err)
	}

	for _, buckets := range []int{512, 1024, 4096} {
		require.NoError(t, m.Rehash(buckets))
		require.GreaterOrEqual(t, m.BucketCount(), buckets)

		for i := 0; i < 300; i++ {
			it, found := m.Find(i)
			require.True(t, found, "key %d lost after rehash to %d", i, buckets)
			require.Equal(t, fmt.Sprintf("v%d", i), it.Value())
		}

		require.NoError(t, m.DebugCheckInvariants())
	}
}

func Test_Failed_Growth_Leaves_Table_Unchanged(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[int, int](nil, nil)
	for i := 0; i < 10; i++ {
		_, _, err := m.Insert(i, i)
		require.NoError(t, err)
	}

	before := m.BucketCount()

	err := m.Rehash(int(hashcore.MaxBucketCount))
	require.ErrorIs(t, err, hashcore.ErrAllocationFailed)

	assert.Equal(t, before, m.BucketCount())
	assert.Equal(t, 10, m.Len())

	for i := 0; i < 10; i++ {
		it, found := m.Find(i)
		require.True(t, found)
		require.Equal(t, i, it.Value())
	}
}

func Test_OnInsert_Rejection_Aborts_Insert(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[int, int](nil, nil)
	m.SetOnInsert(func(k, _ int) error {
		if k < 0 {
			return fmt.Errorf("negative key %d", k)
		}

		return nil
	})

	_, _, err := m.Insert(-5, 1)
	require.ErrorIs(t, err, hashcore.ErrValueConstructionFailed)
	assert.Equal(t, 0, m.Len())
}

func Test_Clear_Clone_And_Set(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[int, int](nil, nil)
	for i := 0; i < 200; i++ {
		_, _, err := m.Insert(i, i)
		require.NoError(t, err)
	}

	c := m.Clone()
	require.Equal(t, 200, c.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.True(t, m.Begin().End())

	for i := 0; i < 200; i++ {
		it, found := c.Find(i)
		require.True(t, found, "clone lost key %d", i)
		require.Equal(t, i, it.Value())
	}

	s := twohashcore.NewSet[string](nil, nil)

	inserted, err := s.Insert("x")
	require.NoError(t, err)
	require.True(t, inserted)
	assert.True(t, s.Contains("x"))
	assert.Greater(t, s.NumLookups("x"), 0)
	assert.Equal(t, 1, s.Erase("x"))
	assert.True(t, s.Empty())
}

func Test_Zero_Allocation_Before_First_Insert(t *testing.T) {
	t.Parallel()

	m := twohashcore.New[int, int](nil, nil)

	assert.Equal(t, 0, m.BucketCount())
	assert.Equal(t, 0, m.NumLookups(42))

	_, found := m.Find(42)
	assert.False(t, found)
	assert.Equal(t, 0, m.Erase(42))
	assert.True(t, m.Begin().End())
}
