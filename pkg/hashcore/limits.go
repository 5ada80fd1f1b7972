package hashcore

// Hardcoded implementation limits.
//
// These exist to keep bucket-count arithmetic safely inside int and to
// give Reserve/Rehash a concrete ceiling to reject rather than
// silently overflowing.
const (
	// MaxBucketCount is the largest bucket count any policy or core
	// will allocate. Requests above this return ErrAllocationFailed.
	MaxBucketCount = 1 << 40

	// DefaultMaxLoadFactor is the default max_load_factor for every
	// core.
	DefaultMaxLoadFactor = 0.9375

	// MinBucketCount is the smallest bucket count a non-empty table
	// allocates.
	MinBucketCount = 4
)
