package localstate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ringcoord/internal/token"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadLocalOnFreshStoreReportsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.LoadLocal()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveThenLoadLocalRoundTrips(t *testing.T) {
	s := openTestStore(t)
	rec := Record{
		ClusterName:     "test-cluster",
		PartitionerName: "murmur3",
		HostID:          uuid.New(),
		Generation:      1234,
		Tokens:          []token.Token{token.FromBytes([]byte{0x10}), token.FromBytes([]byte{0x80, 0x01})},
		BootstrapState:  BootstrapCompleted,
		Datacenter:      "dc1",
		Rack:            "rack1",
	}
	require.NoError(t, s.SaveLocal(rec))

	got, ok, err := s.LoadLocal()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.ClusterName, got.ClusterName)
	assert.Equal(t, rec.PartitionerName, got.PartitionerName)
	assert.Equal(t, rec.HostID, got.HostID)
	assert.Equal(t, rec.Generation, got.Generation)
	assert.Equal(t, rec.BootstrapState, got.BootstrapState)
	assert.Equal(t, rec.Datacenter, got.Datacenter)
	assert.Equal(t, rec.Rack, got.Rack)
	require.Len(t, got.Tokens, len(rec.Tokens))
	for i := range rec.Tokens {
		assert.True(t, rec.Tokens[i].Equal(got.Tokens[i]))
	}
}

func TestSaveBootstrapStateUpdatesOnlyThatField(t *testing.T) {
	s := openTestStore(t)
	rec := Record{
		ClusterName:    "test-cluster",
		HostID:         uuid.New(),
		Generation:     1,
		Tokens:         []token.Token{token.FromBytes([]byte{0x40})},
		BootstrapState: BootstrapNeeded,
	}
	require.NoError(t, s.SaveLocal(rec))
	require.NoError(t, s.SaveBootstrapState(BootstrapInProgress))

	got, ok, err := s.LoadLocal()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, BootstrapInProgress, got.BootstrapState)
	assert.Equal(t, rec.HostID, got.HostID)
	require.Len(t, got.Tokens, 1)
	assert.True(t, rec.Tokens[0].Equal(got.Tokens[0]))
}

func TestSaveBootstrapStateWithoutExistingRowErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveBootstrapState(BootstrapCompleted)
	assert.Error(t, err)
}

func TestQuarantineRoundTrips(t *testing.T) {
	s := openTestStore(t)
	until := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.SaveQuarantine("dead-peer", until))
	require.NoError(t, s.SaveQuarantine("other-peer", until.Add(time.Hour)))

	got, err := s.LoadQuarantine()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, until, got["dead-peer"])

	require.NoError(t, s.ClearQuarantine("dead-peer"))
	got, err = s.LoadQuarantine()
	require.NoError(t, err)
	assert.Len(t, got, 1)
	_, stillThere := got["dead-peer"]
	assert.False(t, stillThere)
}

func TestReopenStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.SaveLocal(Record{
		ClusterName:    "test-cluster",
		HostID:         id,
		Generation:     42,
		BootstrapState: BootstrapCompleted,
	}))
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.LoadLocal()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got.HostID)
	assert.Equal(t, int64(42), got.Generation)
}
