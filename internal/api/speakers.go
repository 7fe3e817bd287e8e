package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/soundweave/internal/fleet"
	"github.com/nerrad567/soundweave/internal/soundtouch"
)

// speakerSummary is the list representation of one fleet member.
type speakerSummary struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Host      string       `json:"host"`
	Port      int          `json:"port"`
	DeviceID  string       `json:"device_id,omitempty"`
	Model     string       `json:"model,omitempty"`
	Health    fleet.Health `json:"health"`
	LastPoll  *time.Time   `json:"last_poll,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// speakerDetail is the full representation, summary plus latest snapshot.
type speakerDetail struct {
	speakerSummary
	State *soundtouch.Snapshot `json:"state,omitempty"`
}

func summarize(entry *fleet.Entry) speakerSummary {
	record := entry.Record()
	status := entry.Status()

	s := speakerSummary{
		ID:       record.ID,
		Name:     record.Name,
		Host:     record.Host,
		Port:     record.Port,
		DeviceID: record.DeviceID,
		Model:    record.Model,
		Health:   status.Health,
	}
	if !status.LastPoll.IsZero() {
		t := status.LastPoll
		s.LastPoll = &t
	}
	s.LastError = status.LastError
	return s
}

// resolveSpeaker looks up the speaker from the URL, writing the error response
// itself when the speaker is unknown.
func (s *Server) resolveSpeaker(w http.ResponseWriter, r *http.Request) (*fleet.Entry, bool) {
	id := chi.URLParam(r, "id")
	entry, err := s.registry.Resolve(id)
	if err != nil {
		writeNotFound(w, "speaker not found")
		return nil, false
	}
	return entry, true
}

// handleListSpeakers returns all managed speakers with their health summaries.
func (s *Server) handleListSpeakers(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.List()

	speakers := make([]speakerSummary, 0, len(entries))
	for _, entry := range entries {
		speakers = append(speakers, summarize(entry))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"speakers": speakers,
		"count":    len(speakers),
	})
}

// handleGetSpeaker returns a single speaker with its latest snapshot.
// The speaker may be addressed by registry ID or hardware address.
func (s *Server) handleGetSpeaker(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.resolveSpeaker(w, r)
	if !ok {
		return
	}

	detail := speakerDetail{speakerSummary: summarize(entry)}
	if snap, ok := entry.Latest(); ok {
		detail.State = snap
	}

	writeJSON(w, http.StatusOK, detail)
}

// handleGetSpeakerState returns only the latest observed snapshot.
// Before the first successful poll there is no state to serve (409).
func (s *Server) handleGetSpeakerState(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.resolveSpeaker(w, r)
	if !ok {
		return
	}

	snap, ok := entry.Latest()
	if !ok {
		writeConflict(w, "speaker state not yet observed")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleGetSpeakerSources returns the speaker's selectable source catalog.
// This is a live read against the device, not served from the snapshot.
func (s *Server) handleGetSpeakerSources(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.resolveSpeaker(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	sources, err := entry.Sources(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sources": sources,
		"count":   len(sources),
	})
}

// handleRefreshSpeaker schedules an immediate asynchronous poll.
func (s *Server) handleRefreshSpeaker(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.resolveSpeaker(w, r)
	if !ok {
		return
	}

	entry.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"refresh": "scheduled"})
}

// volumeRequest is the body of PUT /speakers/{id}/volume.
type volumeRequest struct {
	Level *int `json:"level"`
}

// handleSetVolume sends an absolute volume command then schedules a refresh
// so observed state converges on the device's actual state.
func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.resolveSpeaker(w, r)
	if !ok {
		return
	}

	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Level == nil {
		writeBadRequest(w, "'level' is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := entry.SetVolume(ctx, *req.Level); err != nil {
		writeDomainError(w, err)
		return
	}

	entry.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"volume": *req.Level})
}

// handlePower toggles the speaker's power state.
func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.resolveSpeaker(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := entry.Power(ctx); err != nil {
		writeDomainError(w, err)
		return
	}

	entry.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"power": "toggled"})
}

// sourceRequest is the body of PUT /speakers/{id}/source.
type sourceRequest struct {
	Source string `json:"source"`
}

// handleSelectSource switches the speaker's input. The request string is
// resolved against the device's source catalog by name, source key, or
// source:account pair; unresolvable requests pass through raw.
func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.resolveSpeaker(w, r)
	if !ok {
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Source == "" {
		writeBadRequest(w, "'source' is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := entry.SelectSource(ctx, req.Source); err != nil {
		writeDomainError(w, err)
		return
	}

	entry.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"source": req.Source})
}
