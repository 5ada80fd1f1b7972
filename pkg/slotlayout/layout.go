// Package slotlayout provides the byte-level conventions shared by
// every core: the probe-distance sum type, trailing end-guard sizing,
// and the 16-byte block alignment BLOCK needs for its SIMD loads.
//
// Instead of an aliased-global "empty sentinel buffer", every core
// treats its zero value as the unallocated empty state and checks it
// before probing; construction and destruction of empty tables stay
// allocation-free either way.
package slotlayout

import "github.com/benchkit/hashcores/pkg/hashcore"

// Tag is the sum-type discriminant for a slot's probe-distance
// metadata: {Empty, Distance, End}, never a reused -1 sentinel.
type Tag uint8

const (
	// TagEmpty marks an unoccupied slot.
	TagEmpty Tag = iota
	// TagDistance marks an occupied slot with a valid probe distance.
	TagDistance
	// TagEnd marks a trailing end-guard slot.
	TagEnd
)

// Meta is one slot's probe-distance metadata for FLAT and TWO-HASH.
// BLOCK packs its lane metadata into raw bytes instead.
type Meta struct {
	Tag      Tag
	Distance uint8 // valid only when Tag == TagDistance
}

// Empty returns the metadata value for an unoccupied slot.
func Empty() Meta { return Meta{Tag: TagEmpty} }

// EndGuard returns the metadata value for a trailing guard slot.
func EndGuard() Meta { return Meta{Tag: TagEnd} }

// WithDistance returns the metadata value for an occupied slot at the
// given probe distance.
func WithDistance(d uint8) Meta { return Meta{Tag: TagDistance, Distance: d} }

// IsEmpty reports whether the slot is unoccupied.
func (m Meta) IsEmpty() bool { return m.Tag == TagEmpty }

// IsEnd reports whether the slot is a trailing guard sentinel.
func (m Meta) IsEnd() bool { return m.Tag == TagEnd }

// IsOccupied reports whether the slot holds a live value.
func (m Meta) IsOccupied() bool { return m.Tag == TagDistance }

// GuardSize returns the number of trailing sentinel slots a buffer
// must carry so that probing past the logical end of the table always
// lands on a defined terminator without bounds checks: one guard slot
// per allowed lookup. A maxLookups below 1 is clamped to 1.
func GuardSize(maxLookups int) int {
	if maxLookups < 1 {
		return 1
	}

	return maxLookups
}

// DefaultMaxLookups returns the probe-distance ceiling for a table
// with the given bucket count: max(4, log2(bucketCount)/2).
func DefaultMaxLookups(bucketCount uint64) int {
	if bucketCount == 0 {
		return 4
	}

	log2 := 0
	for n := bucketCount; n > 1; n >>= 1 {
		log2++
	}

	if v := log2 / 2; v > 4 {
		return v
	}

	return 4
}

// BlockAlignShift returns how many slots a BLOCK buffer's first block
// must be shifted by to reach 16-byte alignment, given the allocator
// returned a buffer whose address has the given 8-byte-granular
// misalignment (0 if already 16-byte aligned, 1 otherwise). An
// allocator may hand back 8-byte-aligned memory; shifting one slot
// restores 16-byte alignment and the terminator records which case
// applied so deallocation can undo the shift. Go slices are always at
// least pointer-aligned, so in practice this is 0, but the hook gives
// BlockCore's aligned-vs-misaligned terminator a concrete producer to
// test against.
func BlockAlignShift(misaligned bool) int {
	if misaligned {
		return 1
	}

	return 0
}

// CheckBucketCount validates a policy-chosen bucket count is usable
// (non-zero, within hashcore.MaxBucketCount). Cores call this after
// Policy.NextSizeOver to decide whether to proceed with allocation.
func CheckBucketCount(n uint64) error {
	if n == 0 || n > hashcore.MaxBucketCount {
		return hashcore.ErrAllocationFailed
	}

	return nil
}
