package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMurmur3FromRegistry(t *testing.T) {
	p, err := New("murmur3", Config{ShardCount: 4})
	require.NoError(t, err)
	assert.Equal(t, "murmur3", p.Name())
	assert.Equal(t, 4, p.ShardCount())
}

func TestUnknownPartitioner(t *testing.T) {
	_, err := New("does-not-exist", Config{})
	assert.Error(t, err)
}

func TestTokenOfIsDeterministic(t *testing.T) {
	p, err := New("murmur3", Config{ShardCount: 1})
	require.NoError(t, err)

	a := p.TokenOf([]byte("row-key-1"))
	b := p.TokenOf([]byte("row-key-1"))
	assert.True(t, a.Equal(b))

	c := p.TokenOf([]byte("row-key-2"))
	assert.False(t, a.Equal(c), "distinct keys should overwhelmingly hash to distinct tokens")
}

func TestSignedValueRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 1 << 62, -(1 << 62), 1<<63 - 1, -(1 << 63)}
	for _, v := range values {
		tok := TokenFromSigned(v)
		assert.Equal(t, v, SignedValue(tok), "round trip for %d", v)
	}
}

func TestZeroHashIsRingMidpoint(t *testing.T) {
	tok := TokenFromSigned(0)
	assert.Equal(t, []byte{0x80, 0, 0, 0, 0, 0, 0, 0}, tok.Data)
}

func TestShardOfWithinRange(t *testing.T) {
	p, err := New("murmur3", Config{ShardCount: 7})
	require.NoError(t, err)

	for _, key := range [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), []byte("dddd")} {
		shard := p.ShardOf(p.TokenOf(key))
		assert.GreaterOrEqual(t, shard, 0)
		assert.Less(t, shard, 7)
	}
}

func TestShardOfSingleShardAlwaysZero(t *testing.T) {
	p, err := New("murmur3", Config{ShardCount: 1})
	require.NoError(t, err)
	mp := p.(*Murmur3Partitioner)
	assert.Equal(t, 0, mp.ShardOf(TokenFromSigned(1234)))
	assert.Equal(t, 0, mp.ShardOf(TokenFromSigned(-1234)))
}

func TestShardAffinityIsMonotonicAcrossIgnoreMSB(t *testing.T) {
	// Two tokens that differ only below the ignored high bits must land on
	// the same shard, matching the "consecutive tokens co-locate on a
	// shard" guarantee from an ignore_msb configuration.
	p, err := New("murmur3", Config{ShardCount: 4, IgnoreMSB: 12})
	require.NoError(t, err)
	mp := p.(*Murmur3Partitioner)

	base := TokenFromSigned(1 << 40)
	near := TokenFromSigned((1 << 40) + 1)

	assert.Equal(t, mp.ShardOf(base), mp.ShardOf(near))
}

func TestTokenForNextShardAdvancesShard(t *testing.T) {
	p, err := New("murmur3", Config{ShardCount: 4})
	require.NoError(t, err)
	mp := p.(*Murmur3Partitioner)

	minTok := TokenFromSigned(-(1 << 63))
	shard0 := mp.ShardOf(minTok)
	boundary := mp.TokenForNextShard(minTok)
	if !boundary.IsMaximum() {
		assert.NotEqual(t, shard0, mp.ShardOf(boundary))
	}
}

func TestDescribeOwnershipSumsToOne(t *testing.T) {
	p, err := New("murmur3", Config{ShardCount: 1})
	require.NoError(t, err)

	toks := []Token{
		TokenFromSigned(-1 << 40),
		TokenFromSigned(0),
		TokenFromSigned(1 << 40),
	}
	owned := p.DescribeOwnership(toks)
	require.Len(t, owned, 3)

	var total float64
	for _, o := range owned {
		assert.Greater(t, o.Fraction, 0.0)
		total += o.Fraction
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}
