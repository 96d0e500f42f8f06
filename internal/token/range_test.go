package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tok(b byte) Token { return FromBytes([]byte{b}) }

func TestComparePositionsBareTokenBounds(t *testing.T) {
	t1 := tok(0x50)
	start := NewBound(t1, Start)
	end := NewBound(t1, End)
	keyed := NewKeyed(t1, []byte("row"))

	assert.Less(t, ComparePositions(start, keyed), 0)
	assert.Greater(t, ComparePositions(end, keyed), 0)
	assert.Equal(t, 0, ComparePositions(start, start))
}

func TestComparePositionsKeyOrdering(t *testing.T) {
	t1 := tok(0x50)
	a := NewKeyed(t1, []byte("a"))
	b := NewKeyed(t1, []byte("b"))
	assert.Less(t, ComparePositions(a, b), 0)
}

func TestIsWrapAround(t *testing.T) {
	left := tok(0x90)
	right := tok(0x10)
	r := NewTokenRange(&left, false, &right, true)
	assert.True(t, r.IsWrapAround())

	left2 := tok(0x10)
	right2 := tok(0x90)
	r2 := NewTokenRange(&left2, false, &right2, true)
	assert.False(t, r2.IsWrapAround())
}

func TestUnwrapSplitsAtMaximum(t *testing.T) {
	left := tok(0x90)
	right := tok(0x10)
	r := NewTokenRange(&left, false, &right, true)

	parts := r.Unwrap()
	require.Len(t, parts, 2)
	assert.True(t, parts[0].Right.IsMaximum())
	assert.True(t, parts[1].Left.IsMinimum())
	assert.True(t, parts[0].RightInclusive)
}

func TestContainsNonWrapping(t *testing.T) {
	left := tok(0x10)
	right := tok(0x90)
	r := NewTokenRange(&left, false, &right, true)

	assert.False(t, r.Contains(tok(0x10)))
	assert.True(t, r.Contains(tok(0x50)))
	assert.True(t, r.Contains(tok(0x90)))
	assert.False(t, r.Contains(tok(0x91)))
}

func TestIntersectionOverlap(t *testing.T) {
	l1, r1 := tok(0x10), tok(0x60)
	l2, r2 := tok(0x40), tok(0x90)
	a := NewTokenRange(&l1, false, &r1, true)
	b := NewTokenRange(&l2, false, &r2, true)

	got, ok := Intersection(a, b)
	require.True(t, ok)
	assert.True(t, got.Left.Equal(tok(0x40)))
	assert.True(t, got.Right.Equal(tok(0x60)))
}

func TestIntersectionDisjoint(t *testing.T) {
	l1, r1 := tok(0x10), tok(0x20)
	l2, r2 := tok(0x30), tok(0x40)
	a := NewTokenRange(&l1, false, &r1, true)
	b := NewTokenRange(&l2, false, &r2, true)

	_, ok := Intersection(a, b)
	assert.False(t, ok)
}

func TestSubtractMiddle(t *testing.T) {
	l1, r1 := tok(0x10), tok(0x90)
	l2, r2 := tok(0x40), tok(0x60)
	a := NewTokenRange(&l1, false, &r1, true)
	b := NewTokenRange(&l2, false, &r2, true)

	out := Subtract(a, b)
	require.Len(t, out, 2)
	assert.True(t, out[0].Left.Equal(tok(0x10)))
	assert.True(t, out[0].Right.Equal(tok(0x40)))
	assert.True(t, out[1].Left.Equal(tok(0x60)))
	assert.True(t, out[1].Right.Equal(tok(0x90)))
}

func TestSubtractNoOverlap(t *testing.T) {
	l1, r1 := tok(0x10), tok(0x20)
	l2, r2 := tok(0x30), tok(0x40)
	a := NewTokenRange(&l1, false, &r1, true)
	b := NewTokenRange(&l2, false, &r2, true)

	out := Subtract(a, b)
	require.Len(t, out, 1)
	assert.True(t, out[0].Left.Equal(l1))
	assert.True(t, out[0].Right.Equal(r1))
}
