package fleet

import "errors"

// Domain errors for the fleet package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, fleet.ErrSpeakerNotFound) {
//	    // handle not found case
//	}
var (
	// ErrSpeakerNotFound is returned when a speaker ID does not exist.
	ErrSpeakerNotFound = errors.New("fleet: speaker not found")

	// ErrSpeakerExists is returned when creating a speaker with an ID that
	// already exists.
	ErrSpeakerExists = errors.New("fleet: speaker already exists")

	// ErrInvalidSpeaker is returned when speaker validation fails.
	ErrInvalidSpeaker = errors.New("fleet: invalid speaker")

	// ErrRefreshFailed is returned by Coordinator.Refresh when the poll
	// failed. The coordinator keeps its last-known-good snapshot and will
	// retry on the next cycle; this error is informational for on-demand
	// callers.
	ErrRefreshFailed = errors.New("fleet: refresh failed")

	// ErrNoSnapshot is returned when an operation needs a speaker's state
	// before its first successful poll.
	ErrNoSnapshot = errors.New("fleet: no snapshot available yet")
)
