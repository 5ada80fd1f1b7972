package twohashcore

import "github.com/benchkit/hashcores/pkg/hashcore"

// Set is TWO-HASH's set container: the same twin tables with
// value_type = K.
type Set[K comparable] struct {
	m Map[K, struct{}]
}

// NewSet constructs an empty TWO-HASH set. Nil hasher/equal select the
// same defaults as New.
func NewSet[K comparable](hasher hashcore.Hasher[K], equal hashcore.Equal[K]) *Set[K] {
	return &Set[K]{m: *New[K, struct{}](hasher, equal)}
}

// Len returns the number of live elements.
func (s *Set[K]) Len() int { return s.m.Len() }

// Empty reports whether the set has no elements.
func (s *Set[K]) Empty() bool { return s.m.Empty() }

// BucketCount returns the combined capacity of both halves.
func (s *Set[K]) BucketCount() int { return s.m.BucketCount() }

// LoadFactor returns the current load factor.
func (s *Set[K]) LoadFactor() float64 { return s.m.LoadFactor() }

// MaxLoadFactor returns the configured maximum load factor.
func (s *Set[K]) MaxLoadFactor() float64 { return s.m.MaxLoadFactor() }

// SetMaxLoadFactor sets the maximum load factor; f must be in (0, 1].
func (s *Set[K]) SetMaxLoadFactor(f float64) error { return s.m.SetMaxLoadFactor(f) }

// Contains reports whether key is in the set.
func (s *Set[K]) Contains(key K) bool {
	_, found := s.m.Find(key)

	return found
}

// Insert adds key if absent; inserted is false if it was already
// present.
func (s *Set[K]) Insert(key K) (inserted bool, err error) {
	_, inserted, err = s.m.Insert(key, struct{}{})

	return inserted, err
}

// Erase removes key if present, returning the number removed (0 or 1).
func (s *Set[K]) Erase(key K) int { return s.m.Erase(key) }

// Reserve ensures capacity for at least n elements.
func (s *Set[K]) Reserve(n int) error { return s.m.Reserve(n) }

// Rehash resizes so the combined bucket count is at least buckets.
func (s *Set[K]) Rehash(buckets int) error { return s.m.Rehash(buckets) }

// Clear removes every element without shrinking capacity.
func (s *Set[K]) Clear() { s.m.Clear() }

// NumLookups reports how many slots a lookup for key would visit
// across both halves.
func (s *Set[K]) NumLookups(key K) int { return s.m.NumLookups(key) }

// All returns a range-over-func iterator over every element.
func (s *Set[K]) All() func(yield func(K) bool) {
	return func(yield func(K) bool) {
		s.m.All()(func(k K, _ struct{}) bool { return yield(k) })
	}
}
