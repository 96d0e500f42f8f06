package ring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ringcoord/internal/token"
)

func tok(b byte) token.Token { return token.FromBytes([]byte{b}) }

func TestUpdateNormalTokensAssignsOwner(t *testing.T) {
	tm := New(SimpleStrategy{RF: 1})
	tm.UpdateNormalTokens([]token.Token{tok(0x10), tok(0x80)}, "ep1")

	snap := tm.Current()
	ep, ok := snap.GetEndpoint(tok(0x10))
	require.True(t, ok)
	assert.Equal(t, "ep1", ep)

	// A token between two owned tokens resolves to the next one clockwise.
	ep, ok = snap.GetEndpoint(tok(0x50))
	require.True(t, ok)
	assert.Equal(t, "ep1", ep)

	// Past the last token wraps to the first.
	ep, ok = snap.GetEndpoint(tok(0xF0))
	require.True(t, ok)
	assert.Equal(t, "ep1", ep)
}

func TestBootstrapThenNormalClearsReservation(t *testing.T) {
	tm := New(SimpleStrategy{RF: 1})
	tm.AddBootstrapTokens([]token.Token{tok(0x40)}, "joiner")
	tm.UpdateNormalTokens([]token.Token{tok(0x40)}, "joiner")

	snap := tm.Current()
	assert.Empty(t, snap.bootstrapping)
	ep, ok := snap.GetEndpoint(tok(0x40))
	require.True(t, ok)
	assert.Equal(t, "joiner", ep)
}

func TestRemoveEndpointClearsNormalButKeepsHostID(t *testing.T) {
	tm := New(SimpleStrategy{RF: 1})
	tm.UpdateNormalTokens([]token.Token{tok(0x20)}, "ep1")
	id := uuid.New()
	tm.UpdateHostID(id, "ep1", 1)

	tm.RemoveEndpoint("ep1")

	snap := tm.Current()
	_, ok := snap.GetEndpoint(tok(0x20))
	assert.False(t, ok, "no owner remains once ep1's only token is removed")
	gotEp, ok := snap.EndpointForHostID(id)
	assert.True(t, ok)
	assert.Equal(t, "ep1", gotEp)
}

func TestUpdateHostIDLaterGenerationWins(t *testing.T) {
	tm := New(SimpleStrategy{RF: 1})
	id := uuid.New()

	tm.UpdateHostID(id, "old-ep", 5)
	tm.UpdateHostID(id, "new-ep", 10)

	snap := tm.Current()
	ep, ok := snap.EndpointForHostID(id)
	require.True(t, ok)
	assert.Equal(t, "new-ep", ep)
	_, stillBound := snap.HostID("old-ep")
	assert.False(t, stillBound)
}

func TestUpdateHostIDEarlierGenerationLoses(t *testing.T) {
	tm := New(SimpleStrategy{RF: 1})
	id := uuid.New()

	tm.UpdateHostID(id, "current-ep", 10)
	tm.UpdateHostID(id, "stale-ep", 3)

	snap := tm.Current()
	ep, ok := snap.EndpointForHostID(id)
	require.True(t, ok)
	assert.Equal(t, "current-ep", ep)
}

func TestCloneAfterAllLeftRemovesLeavingTokens(t *testing.T) {
	tm := New(SimpleStrategy{RF: 1})
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "staying")
	tm.UpdateNormalTokens([]token.Token{tok(0x90)}, "leaving-ep")
	tm.AddLeavingEndpoint("leaving-ep")

	settled := tm.CloneAfterAllLeft()
	_, ok := settled.GetEndpoint(tok(0x90))
	// With leaving-ep's token gone, the only remaining token (0x10) owns
	// the whole ring, including what used to be 0x90's position.
	require.True(t, ok)
	ep, _ := settled.GetEndpoint(tok(0x90))
	assert.Equal(t, "staying", ep)
}

func TestPendingRangesPopulatedDuringBootstrap(t *testing.T) {
	tm := New(SimpleStrategy{RF: 1})
	tm.RegisterKeyspace("ks1", SimpleStrategy{RF: 1})
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "ep1")

	tm.AddBootstrapTokens([]token.Token{tok(0x80)}, "ep2")

	snap := tm.Current()
	pending := snap.GetPendingRanges("ks1", "ep2")
	assert.NotEmpty(t, pending, "ep2 should have a pending range once it settles in as owner of 0x80")
}

func TestTokensOfReturnsSortedOwnedTokens(t *testing.T) {
	tm := New(SimpleStrategy{RF: 1})
	tm.UpdateNormalTokens([]token.Token{tok(0x90), tok(0x10)}, "ep1")

	toks := tm.Current().TokensOf("ep1")
	require.Len(t, toks, 2)
	assert.True(t, toks[0].Equal(tok(0x10)))
	assert.True(t, toks[1].Equal(tok(0x90)))
}
