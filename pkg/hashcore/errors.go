// Package hashcore holds the contracts shared by every open-addressing
// core in this repository: the error taxonomy, the hasher/equality
// functor types, and the default hash function.
package hashcore

import "errors"

// Error classification sentinels.
//
// Callers MUST classify errors returned by the cores using errors.Is.
// Implementations may wrap these with fmt.Errorf("...: %w", ...).
var (
	// ErrAllocationFailed is returned by Reserve/Rehash/growth when the
	// requested capacity cannot be satisfied. The table is left
	// unchanged.
	ErrAllocationFailed = errors.New("hashcore: allocation failed")

	// ErrAtMissingKey is returned by At when the key is absent. Find
	// never returns an error for a missing key; it reports absence via
	// its bool return instead.
	ErrAtMissingKey = errors.New("hashcore: key not found")

	// ErrValueConstructionFailed is returned when a user-supplied
	// OnInsert hook rejects a value during Insert. Rehashing does not
	// run the hook.
	ErrValueConstructionFailed = errors.New("hashcore: value construction failed")

	// ErrInvalidInput is returned for malformed arguments (negative
	// sizes, out-of-range load factors, ...).
	ErrInvalidInput = errors.New("hashcore: invalid input")
)
