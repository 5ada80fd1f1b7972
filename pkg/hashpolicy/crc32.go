package hashpolicy

import "hash/crc32"

// CRC32 runs the hash through a CRC32 checksum before masking,
// scrambling hashes whose low bits are correlated.
type CRC32 struct {
	mask uint64
	size uint64
}

var _ Policy = (*CRC32)(nil)

func (c *CRC32) IndexForHash(hash uint64) uint64 {
	var buf [8]byte
	putUint64(&buf, hash)

	return uint64(crc32.ChecksumIEEE(buf[:])) & c.mask
}

func (c *CRC32) ExtraBitsForHash(hash uint64) uint8 { return extraBitsForHash(hash) }
func (c *CRC32) BucketCount() uint64                { return c.size }

func (c *CRC32) NextSizeOver(requested uint64) (Token, error) {
	capacity := nextPowerOfTwo(requested)
	if err := checkCapacity(capacity); err != nil {
		return Token{}, err
	}

	return Token{capacity: capacity, primeIndex: -1}, nil
}

func (c *CRC32) Commit(t Token) {
	c.size = t.capacity
	c.mask = t.capacity - 1
}

func (c *CRC32) Reset() {
	c.size = 0
	c.mask = 0
}

func putUint64(buf *[8]byte, v uint64) {
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
}
