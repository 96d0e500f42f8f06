package token

import "math/bits"

func init() {
	Register("murmur3", func(cfg Config) Partitioner {
		sc := cfg.ShardCount
		if sc <= 0 {
			sc = 1
		}
		return &Murmur3Partitioner{shardCount: sc, ignoreMSB: cfg.IgnoreMSB}
	})
}

// Murmur3Partitioner hashes partition keys with 128-bit murmur3 (seed 0)
// and keeps the first 64 bits as a signed token value. The signed value is
// stored as an unsigned big-endian fraction by flipping its sign bit, so
// that the generic byte-lexicographic Token.Compare/Midpoint machinery
// orders and bisects it identically to ordinary key tokens: 0x80... (hash
// == 0) is the ring's 0.5 point.
type Murmur3Partitioner struct {
	shardCount int
	ignoreMSB  int
}

var _ Partitioner = (*Murmur3Partitioner)(nil)

func (p *Murmur3Partitioner) Name() string { return "murmur3" }

// TokenOf hashes partitionKey with murmur3_128 seeded at 0 and keeps the
// low 64 bits of the first half as the signed token value.
func (p *Murmur3Partitioner) TokenOf(partitionKey []byte) Token {
	h1, _ := murmur3Sum128(partitionKey, 0)
	return TokenFromSigned(int64(h1))
}

// TokenFromSigned builds a murmur3-style token from its signed 64-bit
// value, encoding it as the unsigned big-endian fraction used by the
// generic ring machinery.
func TokenFromSigned(v int64) Token {
	biased := uint64(v) ^ 0x8000000000000000
	data := make([]byte, 8)
	for i := 0; i < 8; i++ {
		data[7-i] = byte(biased)
		biased >>= 8
	}
	return Token{Kind: Key, Data: data}
}

// SignedValue recovers the signed 64-bit hash value of a murmur3 token.
func SignedValue(t Token) int64 {
	var biased uint64
	for i := 0; i < len(t.Data) && i < 8; i++ {
		biased = (biased << 8) | uint64(t.Data[i])
	}
	return int64(biased ^ 0x8000000000000000)
}

func (p *Murmur3Partitioner) Midpoint(a, b Token) Token { return Midpoint(a, b) }

func (p *Murmur3Partitioner) Compare(a, b Token) int { return Compare(a, b) }

func (p *Murmur3Partitioner) ShardCount() int { return p.shardCount }

func (p *Murmur3Partitioner) ShardOfMinimumToken() int { return 0 }

// ShardOf maps a token to a shard id using a multiply-high projection of
// the biased token value onto [0, shardCount), after discarding the top
// IgnoreMSB bits so that neighboring tokens whose high bits merely reflect
// vnode seeding still co-locate on a shard.
func (p *Murmur3Partitioner) ShardOf(t Token) int {
	if t.Kind != Key {
		return p.ShardOfMinimumToken()
	}
	shifted := p.shiftedValue(t)
	hi, _ := bits.Mul64(shifted, uint64(p.shardCount))
	return int(hi)
}

// TokenForNextShard returns the smallest token whose shard differs from
// shard_of(t), used to walk shard boundaries in ascending ring order.
func (p *Murmur3Partitioner) TokenForNextShard(t Token) Token {
	shard := p.ShardOf(t)
	next := shard + 1
	if next >= p.shardCount {
		return Maximum()
	}
	// Find the smallest shifted value whose multiply-high projects to
	// `next`: ceil(next * 2^64 / shardCount).
	boundary := ceilDiv128(uint64(next), p.shardCount)
	biased := boundary >> uint(p.ignoreMSB)
	return biasedToToken(biased)
}

func (p *Murmur3Partitioner) shiftedValue(t Token) uint64 {
	var biased uint64
	for i := 0; i < len(t.Data) && i < 8; i++ {
		biased = (biased << 8) | uint64(t.Data[i])
	}
	return biased << uint(p.ignoreMSB)
}

func biasedToToken(biased uint64) Token {
	data := make([]byte, 8)
	v := biased
	for i := 0; i < 8; i++ {
		data[7-i] = byte(v)
		v >>= 8
	}
	return Token{Kind: Key, Data: data}
}

// ceilDiv128 computes ceil(numerator * 2^64 / denominator), where numerator
// is always < denominator at call sites, so the 128-bit dividend is simply
// numerator*2^64 + 0 and bits.Div64 can take it directly.
func ceilDiv128(numerator uint64, denominator int) uint64 {
	if denominator <= 0 {
		return 0
	}
	quotient, rem := bits.Div64(numerator, 0, uint64(denominator))
	if rem != 0 {
		quotient++
	}
	return quotient
}

func (p *Murmur3Partitioner) DescribeOwnership(sorted []Token) []Ownership {
	return describeOwnership(sorted, func(t Token) float64 {
		biased := p.shiftedValue(t) >> uint(p.ignoreMSB)
		return float64(biased) / 18446744073709551616.0 // 2^64
	})
}

// murmur3Sum128 is the standard 128-bit x64 murmur3 hash (Appleby),
// returning (h1, h2) as the two 64-bit halves.
func murmur3Sum128(data []byte, seed uint64) (h1, h2 uint64) {
	const c1 = 0x87c37b91114253d5
	const c2 = 0x4cf5ad432745937f

	h1, h2 = seed, seed
	nblocks := len(data) / 16

	for i := 0; i < nblocks; i++ {
		block := data[i*16 : i*16+16]
		k1 := le64(block[0:8])
		k2 := le64(block[8:16])

		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1

		h1 = bits.RotateLeft64(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2

		h2 = bits.RotateLeft64(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := data[nblocks*16:]
	var k1, k2 uint64
	// l counts one past the tail length: a guard `l > n` below fires
	// exactly when tail[n-1] exists.
	l := len(tail) + 1
	if l > 15 {
		k2 ^= uint64(tail[14]) << 48
	}
	if l > 14 {
		k2 ^= uint64(tail[13]) << 40
	}
	if l > 13 {
		k2 ^= uint64(tail[12]) << 32
	}
	if l > 12 {
		k2 ^= uint64(tail[11]) << 24
	}
	if l > 11 {
		k2 ^= uint64(tail[10]) << 16
	}
	if l > 10 {
		k2 ^= uint64(tail[9]) << 8
	}
	if l > 9 {
		k2 ^= uint64(tail[8])
	}
	if l > 9 {
		k2 *= c2
		k2 = bits.RotateLeft64(k2, 33)
		k2 *= c1
		h2 ^= k2
	}

	if l > 8 {
		k1 ^= uint64(tail[7]) << 56
	}
	if l > 7 {
		k1 ^= uint64(tail[6]) << 48
	}
	if l > 6 {
		k1 ^= uint64(tail[5]) << 40
	}
	if l > 5 {
		k1 ^= uint64(tail[4]) << 32
	}
	if l > 4 {
		k1 ^= uint64(tail[3]) << 24
	}
	if l > 3 {
		k1 ^= uint64(tail[2]) << 16
	}
	if l > 2 {
		k1 ^= uint64(tail[1]) << 8
	}
	if l > 1 {
		k1 ^= uint64(tail[0])
	}
	if l > 0 {
		k1 *= c1
		k1 = bits.RotateLeft64(k1, 31)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint64(len(data))
	h2 ^= uint64(len(data))

	h1 += h2
	h2 += h1
	h1 = fmix64(h1)
	h2 = fmix64(h2)
	h1 += h2
	h2 += h1

	return h1, h2
}

func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

func le64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
