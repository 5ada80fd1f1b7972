package hashpolicy

import (
	"math/bits"

	"github.com/benchkit/hashcores/pkg/hashcore"
)

// primeTable is the fixed growth schedule for the prime-modulus
// family of policies (Prime, LibdividePrime, SwitchPrime), in the
// tradition of libstdc++'s unordered_map prime list: consecutive
// primes grow by about a factor of 1.26 (three steps per doubling), so
// a core that asks for double its capacity lands on a prime close to
// that request and grows like the power-of-two policies, but the modulus
// scrambles correlated low bits that a mask would pass straight
// through.
var primeTable = []uint64{
	2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 37, 47, 59, 73, 97, 127, 151,
	197, 251, 313, 397, 499, 631, 797, 1009, 1259, 1597, 2011, 2539,
	3203, 4027, 5087, 6421, 8089, 10193, 12853, 16193, 20399, 25717,
	32401, 40823, 51437, 64811, 81649, 102877, 129631, 163307, 205759,
	259229, 326617, 411527, 518509, 653267, 823117, 1037059, 1306601,
	1646237, 2074129, 2613229, 3292489, 4148279, 5226491, 6584983,
	8296553, 10453007, 13169977, 16593127, 20906033, 26339969, 33186281,
	41812097, 52679969, 66372617, 83624237, 105359939, 132745199,
	167248483, 210719881, 265490441, 334496971, 421439783, 530980861,
	668993977, 842879579, 1037059159, 1346559107, 1777986907, 2147483423,
	4294967291,
}

func primeIndexAtLeast(requested uint64) int {
	for i, p := range primeTable {
		if p >= requested {
			return i
		}
	}

	return len(primeTable) - 1
}

func nextSizeOverPrime(requested uint64) (Token, error) {
	if requested > primeTable[len(primeTable)-1] {
		return Token{}, hashcore.ErrAllocationFailed
	}

	idx := primeIndexAtLeast(requested)

	return Token{capacity: primeTable[idx], primeIndex: idx}, nil
}

// Prime maps hash%p to a bucket index, where p is drawn from
// primeTable. Integer modulus by a runtime-unknown prime costs roughly
// 25 cycles on most hardware; Prime is the straightforward baseline
// the other two prime-family policies optimize.
type Prime struct {
	primeIndex int // -1 means empty
	p          uint64
}

var _ Policy = (*Prime)(nil)

// NewPrime returns an empty Prime policy. The zero value of Prime is
// not usable: its primeIndex must start at -1, not 0 (which would
// otherwise look like "committed to primeTable[0]").
func NewPrime() *Prime { return &Prime{primeIndex: -1} }

func (pr *Prime) IndexForHash(hash uint64) uint64    { return hash % pr.p }
func (pr *Prime) ExtraBitsForHash(hash uint64) uint8 { return extraBitsForHash(hash) }

func (pr *Prime) BucketCount() uint64 {
	if pr.primeIndex < 0 {
		return 0
	}

	return pr.p
}

func (pr *Prime) NextSizeOver(requested uint64) (Token, error) { return nextSizeOverPrime(requested) }

func (pr *Prime) Commit(t Token) {
	pr.primeIndex = t.primeIndex
	pr.p = t.capacity
}

func (pr *Prime) Reset() {
	pr.primeIndex = -1
	pr.p = 0
}

// SwitchPrime computes the same modulus as Prime, but through a
// switch statement over the most common table sizes so the compiler
// can specialize the division for each case individually. Sizes
// outside the switch's coverage fall back to a runtime modulus,
// identical to Prime.
type SwitchPrime struct {
	Prime
}

var _ Policy = (*SwitchPrime)(nil)

// NewSwitchPrime returns an empty SwitchPrime policy.
func NewSwitchPrime() *SwitchPrime { return &SwitchPrime{Prime{primeIndex: -1}} }

func (s *SwitchPrime) IndexForHash(hash uint64) uint64 {
	switch s.p {
	case 2:
		return hash % 2
	case 5:
		return hash % 5
	case 11:
		return hash % 11
	case 23:
		return hash % 23
	case 47:
		return hash % 47
	case 97:
		return hash % 97
	case 197:
		return hash % 197
	case 397:
		return hash % 397
	case 797:
		return hash % 797
	case 1597:
		return hash % 1597
	case 3203:
		return hash % 3203
	case 6421:
		return hash % 6421
	case 12853:
		return hash % 12853
	case 25717:
		return hash % 25717
	case 51437:
		return hash % 51437
	case 102877:
		return hash % 102877
	default:
		return hash % s.p
	}
}

// LibdividePrime computes the same modulus as Prime, but via a
// precomputed branch-free multiplier instead of a division instruction
// on every lookup. This is the fastmod construction: with
// magic = floor(2^128 / p) + 1, the remainder of any 64-bit hash is
// hi128(lo128(magic * hash) * p), four 64-bit multiplies and a few adds instead
// of a ~25-cycle divide. The magic is split across two words because
// the hash is a full 64 bits.
type LibdividePrime struct {
	primeIndex int // -1 means empty
	p          uint64
	magicHi    uint64
	magicLo    uint64
}

var _ Policy = (*LibdividePrime)(nil)

// NewLibdividePrime returns an empty LibdividePrime policy.
func NewLibdividePrime() *LibdividePrime { return &LibdividePrime{primeIndex: -1} }

func (l *LibdividePrime) IndexForHash(hash uint64) uint64 {
	// lowbits = (magic * hash) mod 2^128.
	pHi, pLo := bits.Mul64(l.magicLo, hash)
	lbHi := pHi + l.magicHi*hash
	lbLo := pLo

	// remainder = floor(lowbits * p / 2^128).
	sHi, sLo := bits.Mul64(lbHi, l.p)
	tHi, _ := bits.Mul64(lbLo, l.p)
	_, carry := bits.Add64(sLo, tHi, 0)

	return sHi + carry
}

func (l *LibdividePrime) ExtraBitsForHash(hash uint64) uint8 { return extraBitsForHash(hash) }

func (l *LibdividePrime) BucketCount() uint64 {
	if l.primeIndex < 0 {
		return 0
	}

	return l.p
}

func (l *LibdividePrime) NextSizeOver(requested uint64) (Token, error) {
	return nextSizeOverPrime(requested)
}

func (l *LibdividePrime) Commit(t Token) {
	l.primeIndex = t.primeIndex
	l.p = t.capacity

	// magic = floor(2^128 / p) + 1, long division one word at a time.
	q1, r1 := bits.Div64(1, 0, l.p)
	q2, _ := bits.Div64(r1, 0, l.p)

	var carry uint64
	l.magicLo, carry = bits.Add64(q2, 1, 0)
	l.magicHi = q1 + carry
}

func (l *LibdividePrime) Reset() {
	l.primeIndex = -1
	l.p = 0
	l.magicHi = 0
	l.magicLo = 0
}
