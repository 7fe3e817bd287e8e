package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/soundweave/internal/zone"
)

// zoneRequest is the body of the zone mutation endpoints. Master is taken
// from the URL for join/leave and from the body for create.
type zoneRequest struct {
	Master  string   `json:"master,omitempty"`
	Members []string `json:"members"`
}

// handleGetTopology returns the observed zone groupings across the fleet.
func (s *Server) handleGetTopology(w http.ResponseWriter, _ *http.Request) {
	groups := s.zones.Topology()
	if groups == nil {
		groups = []zone.Group{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// handleCreateZone replaces the master's zone with the requested member set.
// A request matching observed topology is a no-op and still succeeds.
func (s *Server) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.zones.CreateZone(r.Context(), req.Master, req.Members); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"master":  req.Master,
		"members": req.Members,
	})
}

// handleJoinZone adds members to the master's existing zone. Joining an
// ungrouped master creates the zone.
func (s *Server) handleJoinZone(w http.ResponseWriter, r *http.Request) {
	master := chi.URLParam(r, "master")

	var req zoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.zones.JoinZone(r.Context(), master, req.Members); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"master": master,
		"joined": req.Members,
	})
}

// handleLeaveZone detaches members from the master's zone. Members not in
// the zone are skipped; a leave with no departures is a no-op.
func (s *Server) handleLeaveZone(w http.ResponseWriter, r *http.Request) {
	master := chi.URLParam(r, "master")

	var req zoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.zones.LeaveZone(r.Context(), master, req.Members); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"master": master,
		"left":   req.Members,
	})
}
