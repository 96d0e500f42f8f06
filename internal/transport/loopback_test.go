package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackRoundTrip(t *testing.T) {
	peers := NewLoopbackCluster("node-a", "node-b")

	peers["node-b"].RegisterHandler(VerbGossipEcho, func(ctx context.Context, env Envelope) ([]byte, error) {
		return append([]byte("echo:"), env.Payload...), nil
	})

	reply, err := peers["node-a"].Send(context.Background(), "node-b", VerbGossipEcho, Envelope{Payload: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply))
}

func TestLoopbackUnknownTarget(t *testing.T) {
	peers := NewLoopbackCluster("node-a")
	_, err := peers["node-a"].Send(context.Background(), "node-ghost", VerbGossipEcho, Envelope{})
	assert.Error(t, err)
}

func TestLoopbackUnregisteredVerb(t *testing.T) {
	peers := NewLoopbackCluster("node-a", "node-b")
	_, err := peers["node-a"].Send(context.Background(), "node-b", VerbGossipEcho, Envelope{})
	assert.Error(t, err)
}
