/*
Package adminapi exposes the storage-service controller's lifecycle
operations over plain JSON/HTTP. Generated protobuf stubs are out of
scope here, so the wire format is hand-written request/response structs
rather than a .proto-derived client, but the shape is the usual one for
this kind of admin surface: a thin Server wrapping the core, and a
Client dialing it by address.
*/
package adminapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/cuemby/ringcoord/internal/control"
	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/token"
)

// Server answers ring/node/gossip administrative requests against a
// single controller and gossiper, the same pair cmd/ringctl's serve
// command assembles at startup.
type Server struct {
	ctrl *control.Controller
	g    *gossip.Gossiper
}

// NewServer builds a Server backed by ctrl and g.
func NewServer(ctrl *control.Controller, g *gossip.Gossiper) *Server {
	return &Server{ctrl: ctrl, g: g}
}

// Handler returns the mux routing every admin endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ring/status", s.handleRingStatus)
	mux.HandleFunc("/v1/ring/decommission", s.handleDecommission)
	mux.HandleFunc("/v1/ring/move", s.handleMove)
	mux.HandleFunc("/v1/ring/rebuild", s.handleRebuild)
	mux.HandleFunc("/v1/node/remove", s.handleRemoveNode)
	mux.HandleFunc("/v1/gossip/status", s.handleGossipStatus)
	return mux
}

// RingStatusResponse is the JSON body of GET /v1/ring/status.
type RingStatusResponse struct {
	Mode               string         `json:"mode"`
	EndpointCounts     map[string]int `json:"endpoint_counts"`
	PendingRangeCounts map[string]int `json:"pending_range_counts"`
}

func (s *Server) handleRingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, RingStatusResponse{
		Mode:               s.ctrl.Mode().String(),
		EndpointCounts:     s.ctrl.EndpointCountsByStatus(),
		PendingRangeCounts: s.ctrl.PendingRangeCounts(),
	})
}

// KeyspacesRequest names the keyspaces an operation applies to.
type KeyspacesRequest struct {
	Keyspaces []string `json:"keyspaces"`
}

func (s *Server) handleDecommission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req KeyspacesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.Decommission(r.Context(), req.Keyspaces); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveRequest carries the hex-encoded target token for POST /v1/ring/move.
type MoveRequest struct {
	Token     string   `json:"token"`
	Keyspaces []string `json:"keyspaces"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tok, err := decodeToken(req.Token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.Move(r.Context(), tok, req.Keyspaces); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RebuildRequest names the source datacenter for POST /v1/ring/rebuild.
type RebuildRequest struct {
	SourceDC  string   `json:"source_dc"`
	Keyspaces []string `json:"keyspaces"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.Rebuild(r.Context(), req.SourceDC, req.Keyspaces); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveNodeRequest carries a dead node's host-id for POST /v1/node/remove.
type RemoveNodeRequest struct {
	HostID    string   `json:"host_id"`
	Keyspaces []string `json:"keyspaces"`
	Force     bool     `json:"force"`
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RemoveNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hostID, err := uuid.Parse(req.HostID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.RemoveNode(r.Context(), hostID, req.Keyspaces, req.Force); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GossipStatusResponse is the JSON body of GET /v1/gossip/status.
type GossipStatusResponse struct {
	Endpoints []EndpointStatus `json:"endpoints"`
}

// EndpointStatus summarizes one peer's gossip-visible state.
type EndpointStatus struct {
	Address    string `json:"address"`
	Status     string `json:"status"`
	Alive      bool   `json:"alive"`
	Generation int64  `json:"generation"`
}

func (s *Server) handleGossipStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var out GossipStatusResponse
	for _, ep := range s.g.AllEndpoints() {
		es, ok := s.g.EndpointStateOf(ep)
		if !ok {
			continue
		}
		out.Endpoints = append(out.Endpoints, EndpointStatus{
			Address:    ep,
			Status:     es.Status(),
			Alive:      s.g.IsAlive(ep),
			Generation: es.Heartbeat.Generation,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeToken(s string) (token.Token, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return token.Token{}, err
	}
	return token.FromWire(b), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
