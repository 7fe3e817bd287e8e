package zone

import "errors"

// Domain errors for the zone package.
var (
	// ErrInvalidRequest is returned for malformed zone operations: an empty
	// identifier, an empty member list, or a master grouped with itself.
	ErrInvalidRequest = errors.New("zone: invalid request")

	// ErrUnknownSpeaker is returned when an identifier matches no managed
	// speaker.
	ErrUnknownSpeaker = errors.New("zone: unknown speaker")

	// ErrStateUnavailable is returned when the master has no observed state
	// yet, so the current zone topology cannot be compared against the
	// requested one.
	ErrStateUnavailable = errors.New("zone: speaker state not available yet")
)
