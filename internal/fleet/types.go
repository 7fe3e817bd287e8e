package fleet

import (
	"strings"
	"time"
)

// Health describes a coordinator's polling state.
type Health string

const (
	// HealthInitializing means no successful poll has completed yet.
	HealthInitializing Health = "initializing"

	// HealthHealthy means the most recent poll succeeded.
	HealthHealthy Health = "healthy"

	// HealthDegraded means the most recent poll failed but an earlier
	// snapshot is still being served.
	HealthDegraded Health = "degraded"
)

// Speaker is the persistent record for a managed speaker. The host and port
// come from configuration; the device ID and model are learned from the
// speaker itself on the first successful identity read and persisted so
// zone membership can be interpreted across restarts.
type Speaker struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	DeviceID  string    `json:"device_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the speaker record is well formed.
func (s *Speaker) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrInvalidSpeaker
	}
	if strings.TrimSpace(s.Host) == "" {
		return ErrInvalidSpeaker
	}
	if s.Port <= 0 || s.Port > 65535 {
		return ErrInvalidSpeaker
	}
	return nil
}

// Status is a point-in-time view of a coordinator for API consumers.
type Status struct {
	Health    Health    `json:"health"`
	LastPoll  time.Time `json:"last_poll,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}
