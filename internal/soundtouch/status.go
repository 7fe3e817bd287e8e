package soundtouch

import "strings"

// PlayStatus is the normalized playback status. The device vocabulary
// (PLAY_STATE, PAUSE_STATE, STANDBY, ...) is folded into this fixed set.
type PlayStatus string

// PlayStatus values.
const (
	StatusPlaying   PlayStatus = "PLAYING"
	StatusPaused    PlayStatus = "PAUSED"
	StatusStopped   PlayStatus = "STOPPED"
	StatusBuffering PlayStatus = "BUFFERING"
	StatusIdle      PlayStatus = "IDLE"
	StatusUnknown   PlayStatus = "UNKNOWN"
)

// statusStandby is the raw status a powered-off speaker reports.
const statusStandby = "STANDBY"

// NormalizePlayStatus folds a raw device playback status into the fixed
// PlayStatus set. Matching is deliberately loose: firmware revisions vary
// the exact vocabulary (PLAY_STATE vs PLAYING, BUFFERING_STATE, ...).
func NormalizePlayStatus(raw string) PlayStatus {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case normalized == "":
		return StatusUnknown
	case strings.HasPrefix(normalized, "play"):
		return StatusPlaying
	case strings.Contains(normalized, "pause"):
		return StatusPaused
	case normalized == "standby" || normalized == "stop_state" || normalized == "inactive":
		return StatusStopped
	case strings.Contains(normalized, "buffer"):
		return StatusBuffering
	default:
		return StatusIdle
	}
}

// powerOn derives the power flag from the raw status. Only STANDBY means
// the speaker is off; a stopped speaker is still powered.
func powerOn(raw string) bool {
	return !strings.EqualFold(strings.TrimSpace(raw), statusStandby)
}
