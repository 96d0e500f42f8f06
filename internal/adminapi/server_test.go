package adminapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ringcoord/internal/control"
	"github.com/cuemby/ringcoord/internal/events"
	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/phi"
	"github.com/cuemby/ringcoord/internal/ring"
	"github.com/cuemby/ringcoord/internal/token"
	"github.com/cuemby/ringcoord/internal/transport"
	"github.com/cuemby/ringcoord/internal/write"
)

func newTestServer(t *testing.T) (*Server, *gossip.Gossiper) {
	t.Helper()
	peers := transport.NewLoopbackCluster("local")
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	gcfg := gossip.Config{
		ClusterName:     "test-cluster",
		PartitionerName: "murmur3",
		LocalAddress:    "local",
		Seeds:           []string{"local"},
		RingDelay:       10 * time.Millisecond,
	}
	g := gossip.New(gcfg, 1000, phi.New(8), broker, peers["local"])
	g.RegisterHandlers()

	tm := ring.New(ring.SimpleStrategy{RF: 1})
	tp, err := token.New("murmur3", token.Config{})
	require.NoError(t, err)

	cfg := control.Config{
		LocalAddress:    "local",
		LocalDatacenter: "dc1",
		RingDelay:       10 * time.Millisecond,
		BatchlogTimeout: 10 * time.Millisecond,
		NumTokens:       1,
	}
	c := control.New(cfg, tm, g, broker, peers["local"], control.NoopStreamer{}, write.NewMemoryHintStore(), tp, write.SingleDatacenterSnitch{Name: "dc1"})
	c.RegisterHandlers()

	return NewServer(c, g), g
}

func TestRingStatusReportsMode(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/ring/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRingStatusRejectsPost(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/ring/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestClientRingStatusRoundTrips(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.RingStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "STARTING", status.Mode)
}

func TestClientMoveRejectsMultiToken(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Move(context.Background(), token.FromBytes([]byte{0x40}), []string{"ks1"})
	assert.Error(t, err)
}

func TestClientGossipStatusReportsLocalEndpoint(t *testing.T) {
	s, g := newTestServer(t)
	g.UpdateLocalState(gossip.StateStatus, "NORMAL")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := NewClient(srv.URL)
	out, err := c.GossipStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Endpoints, 1)
	assert.Equal(t, "local", out.Endpoints[0].Address)
	assert.Equal(t, "NORMAL", out.Endpoints[0].Status)
}

func TestClientRemoveNodeRejectsBadHostID(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/node/remove", "application/json", httpBody(`{"host_id":"not-a-uuid"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func httpBody(s string) io.Reader { return strings.NewReader(s) }
