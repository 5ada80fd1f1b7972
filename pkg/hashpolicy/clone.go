package hashpolicy

// CloneEmpty returns a fresh, uncommitted policy of the same kind as
// p. Containers use it when deep-copying: the clone re-runs the growth
// schedule from scratch instead of sharing mutable policy state.
func CloneEmpty(p Policy) Policy {
	switch q := p.(type) {
	case *PowerOfTwoOtherBits:
		return &PowerOfTwoOtherBits{shift: q.shift}
	case *PowerOfTwo:
		return &PowerOfTwo{}
	case *Fibonacci:
		return &Fibonacci{}
	case *CRC32:
		return &CRC32{}
	case *Prime:
		return NewPrime()
	case *LibdividePrime:
		return NewLibdividePrime()
	case *SwitchPrime:
		return NewSwitchPrime()
	default:
		return &PowerOfTwo{}
	}
}
