package mqttbridge

import (
	"time"

	"github.com/nerrad567/soundweave/internal/soundtouch"
	"github.com/nerrad567/soundweave/internal/zone"
)

// StateMessage is published retained to soundweave/state/<id> whenever a
// speaker's observed state changes.
type StateMessage struct {
	// SpeakerID is the registry identifier of the speaker.
	SpeakerID string `json:"speaker_id"`

	// State is the full observed snapshot.
	State *soundtouch.Snapshot `json:"state"`

	// Timestamp is when the bridge published this message (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// TopologyMessage is published retained to soundweave/zones whenever zone
// membership changes.
type TopologyMessage struct {
	// Groups lists the active zones, one per master.
	Groups []zone.Group `json:"groups"`

	// Timestamp is when the bridge published this message (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// commandPayload is the JSON body accepted on command topics. Fields are
// action-specific; absent fields are rejected by the handler that needs them.
type commandPayload struct {
	// Level is the absolute volume for the "volume" action.
	Level *int `json:"level,omitempty"`

	// Source is the source request string for the "source" action.
	Source string `json:"source,omitempty"`
}
