// Package hashpolicy maps a raw 64-bit hash to a bucket index and owns
// the growth schedule a core follows when it needs more buckets. The
// concrete policies are PowerOfTwo, PowerOfTwoOtherBits, Prime,
// LibdividePrime, SwitchPrime, Fibonacci, and CRC32.
package hashpolicy

import "github.com/benchkit/hashcores/pkg/hashcore"

// Policy is the shared contract every bucket-index scheme implements.
//
// Growth is two-phase: NextSizeOver computes and returns the chosen
// capacity as a Token without mutating the policy; Commit applies it.
// A failed allocation between the two calls therefore leaves the
// policy (and the table using it) unchanged.
type Policy interface {
	// IndexForHash maps a raw hash to a bucket index in
	// [0, BucketCount()). Undefined on an empty (BucketCount() == 0)
	// policy.
	IndexForHash(hash uint64) uint64

	// ExtraBitsForHash returns the small tag BLOCK stores alongside
	// the probe distance to reject non-matching entries without
	// touching the value.
	ExtraBitsForHash(hash uint64) uint8

	// BucketCount returns the current bucket count. Zero means the
	// policy has never been committed to a size (the empty-table
	// state).
	BucketCount() uint64

	// NextSizeOver returns the capacity (and an opaque Token able to
	// commit it) this policy would grow to in order to hold at least
	// requested elements' worth of buckets. It does not mutate the
	// policy.
	NextSizeOver(requested uint64) (Token, error)

	// Commit applies a Token previously returned by NextSizeOver.
	// Committing a stale or foreign Token is a programming error.
	Commit(Token)

	// Reset returns the policy to its empty state (BucketCount() == 0).
	Reset()
}

// Token is the result of a two-phase growth computation. It carries
// enough state for Commit to apply it without recomputation.
type Token struct {
	capacity uint64
	// primeIndex is the index into the shared prime table; -1 for
	// power-of-two-family policies that don't use it.
	primeIndex int
}

// Capacity returns the bucket count a Token would commit.
func (t Token) Capacity() uint64 { return t.capacity }

// extraBitsForHash is shared by every policy: bits 27..31 of the
// hash, stored alongside a BLOCK core's per-lane distance byte.
func extraBitsForHash(hash uint64) uint8 {
	return uint8((hash >> 27) & 0x1F)
}

func nextPowerOfTwo(n uint64) uint64 {
	if n < hashcore.MinBucketCount {
		return hashcore.MinBucketCount
	}

	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32

	return n + 1
}

func checkCapacity(n uint64) error {
	if n > hashcore.MaxBucketCount {
		return hashcore.ErrAllocationFailed
	}

	return nil
}
