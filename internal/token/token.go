/*
Package token implements the consistent-hash ring primitives: the Token
variant, ring positions and ranges, and the partitioner contract that maps
partition keys onto the ring.

Tokens come in three kinds — a sentinel preceding every key, an opaque byte
string, and a sentinel following every key — so that range boundaries can be
expressed without a special-cased "wrap" flag on every comparison.
*/
package token

import "bytes"

// Kind distinguishes the two sentinel token values from an ordinary key
// token. Kind dominates every comparison: a before_all_keys token compares
// less than every key token, which in turn compares less than every
// after_all_keys token.
type Kind uint8

const (
	BeforeAllKeys Kind = iota
	Key
	AfterAllKeys
)

// Token is a position on the ring. Data is interpreted as an unsigned
// big-endian binary fraction in [0,1): the empty slice is 0.0, and
// 0x80 is 0.5. Only Key tokens carry data; the two sentinel kinds ignore it.
type Token struct {
	Kind Kind
	Data []byte
}

// Minimum returns the sentinel token ordered before every key.
func Minimum() Token { return Token{Kind: BeforeAllKeys} }

// Maximum returns the sentinel token ordered after every key.
func Maximum() Token { return Token{Kind: AfterAllKeys} }

// FromBytes builds a Key token from its big-endian fraction representation.
func FromBytes(data []byte) Token {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Token{Kind: Key, Data: cp}
}

// IsMinimum reports whether t is the before_all_keys sentinel.
func (t Token) IsMinimum() bool { return t.Kind == BeforeAllKeys }

// IsMaximum reports whether t is the after_all_keys sentinel.
func (t Token) IsMaximum() bool { return t.Kind == AfterAllKeys }

// Compare returns -1, 0 or +1 per the ring's total order: kind dominates,
// and Key tokens fall back to a lexicographic comparison of their data.
func Compare(a, b Token) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	if a.Kind != Key {
		return 0
	}
	return bytes.Compare(a.Data, b.Data)
}

// Less reports whether t sorts strictly before o.
func (t Token) Less(o Token) bool { return Compare(t, o) < 0 }

// Equal reports whether t and o occupy the same ring position.
func (t Token) Equal(o Token) bool { return Compare(t, o) == 0 }

// Bytes returns the token's wire representation: a one-byte kind tag
// followed by the key data, if any. Round-tripping through Bytes/FromWire
// is the identity for any token produced by a partitioner.
func (t Token) Bytes() []byte {
	out := make([]byte, 1+len(t.Data))
	out[0] = byte(t.Kind)
	copy(out[1:], t.Data)
	return out
}

// FromWire parses the representation produced by Bytes.
func FromWire(b []byte) Token {
	if len(b) == 0 {
		return Minimum()
	}
	k := Kind(b[0])
	if k != Key {
		return Token{Kind: k}
	}
	return FromBytes(b[1:])
}

// Midpoint computes the approximate midpoint of the ring arc from a to b,
// per the byte-level add-and-shift rule: the sentinel after_all_keys is
// treated as an implicit 1.0 in the addition, and wrap-around (detected by
// a sorting after b) adds 0.5 modulo 1 to the result.
func Midpoint(a, b Token) Token {
	if a.Kind == AfterAllKeys && b.Kind == AfterAllKeys {
		return a
	}
	c1 := a.Kind == AfterAllKeys
	c2 := b.Kind == AfterAllKeys

	sum, overflow := addBytes(a.Data, b.Data)
	carry := overflow || c1 || c2
	avg := shiftRight(carry, sum)

	if Compare(a, b) > 0 && len(avg) > 0 {
		avg[0] ^= 0x80
	}
	return Token{Kind: Key, Data: avg}
}

// addBytes adds two big-endian byte strings of possibly different lengths,
// as if each were left-padded with zeros to the longer length, and reports
// whether the addition overflowed past the most significant byte.
func addBytes(b1, b2 []byte) ([]byte, bool) {
	sz := len(b1)
	if len(b2) > sz {
		sz = len(b2)
	}
	out := make([]byte, sz)
	var carry uint16
	for i := 0; i < sz; i++ {
		idx := sz - i - 1
		var v1, v2 byte
		if off := len(b1) - i - 1; off >= 0 {
			v1 = b1[off]
		}
		if off := len(b2) - i - 1; off >= 0 {
			v2 = b2[off]
		}
		carry += uint16(v1) + uint16(v2)
		out[idx] = byte(carry)
		carry >>= 8
	}
	return out, carry != 0
}

// shiftRight shifts a big-endian byte string right by one bit, shifting
// carryIn into the most significant bit.
func shiftRight(carryIn bool, b []byte) []byte {
	out := make([]byte, len(b))
	tmp := byte(0)
	if carryIn {
		tmp = 1
	}
	for i := 0; i < len(b); i++ {
		lsb := b[i] & 1
		out[i] = (tmp << 7) | (b[i] >> 1)
		tmp = lsb
	}
	return out
}
