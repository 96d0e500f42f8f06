package adminapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/ringcoord/internal/token"
)

// Client dials a Server's HTTP address and exposes one method per
// administrative operation.
type Client struct {
	addr string
	http *http.Client
}

// NewClient wraps addr (a "host:port" or "http://host:port" string) for
// admin requests.
func NewClient(addr string) *Client {
	return &Client{addr: normalizeAddr(addr), http: http.DefaultClient}
}

func normalizeAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// RingStatus fetches the controller's mode and pending-range counters.
func (c *Client) RingStatus(ctx context.Context) (RingStatusResponse, error) {
	var out RingStatusResponse
	err := c.get(ctx, "/v1/ring/status", &out)
	return out, err
}

// Decommission asks the remote node to leave the ring for the given keyspaces.
func (c *Client) Decommission(ctx context.Context, keyspaces []string) error {
	return c.post(ctx, "/v1/ring/decommission", KeyspacesRequest{Keyspaces: keyspaces}, nil)
}

// Move asks the remote node to relocate to tok.
func (c *Client) Move(ctx context.Context, tok token.Token, keyspaces []string) error {
	return c.post(ctx, "/v1/ring/move", MoveRequest{
		Token:     hex.EncodeToString(tok.Bytes()),
		Keyspaces: keyspaces,
	}, nil)
}

// Rebuild asks the remote node to stream data from sourceDC.
func (c *Client) Rebuild(ctx context.Context, sourceDC string, keyspaces []string) error {
	return c.post(ctx, "/v1/ring/rebuild", RebuildRequest{SourceDC: sourceDC, Keyspaces: keyspaces}, nil)
}

// RemoveNode asks the remote node to coordinate removing a dead hostID.
func (c *Client) RemoveNode(ctx context.Context, hostID uuid.UUID, keyspaces []string, force bool) error {
	return c.post(ctx, "/v1/node/remove", RemoveNodeRequest{
		HostID:    hostID.String(),
		Keyspaces: keyspaces,
		Force:     force,
	}, nil)
}

// GossipStatus fetches the remote node's view of every endpoint it knows about.
func (c *Client) GossipStatus(ctx context.Context) (GossipStatusResponse, error) {
	var out GossipStatusResponse
	err := c.get(ctx, "/v1/gossip/status", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var msg bytes.Buffer
		msg.ReadFrom(resp.Body)
		return fmt.Errorf("adminapi: %s: %s", resp.Status, msg.String())
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
