package soundtouch

import (
	"strings"
	"time"
)

// Identity is the immutable identity of a speaker: the hardware address the
// zone protocol references devices by, plus the network address commands are
// sent to. It is fetched once per client lifetime and cached.
type Identity struct {
	// DeviceID is the speaker's hardware (MAC) address.
	DeviceID string

	// Name is the user-assigned speaker name.
	Name string

	// Model is the hardware model string (e.g. "SoundTouch 20").
	Model string

	// ControlAddress is the IP address the speaker reports for itself.
	// Zone commands reference members by this address.
	ControlAddress string
}

// ZoneMember identifies one participant of a playback zone.
type ZoneMember struct {
	IP       string `json:"ip"`
	DeviceID string `json:"device_id"`
}

// ZoneState is a speaker's own view of its zone membership.
// An empty Master means the speaker is not part of any zone.
type ZoneState struct {
	Master  string       `json:"master,omitempty"`
	Members []ZoneMember `json:"members,omitempty"`
}

// SourceSelection describes the currently selected source.
// Source/Account hold the structured pair when the device reports one;
// ContentItem carries the raw payload when present.
type SourceSelection struct {
	Source      string       `json:"source,omitempty"`
	Account     string       `json:"account,omitempty"`
	ContentItem *ContentItem `json:"content_item,omitempty"`
}

// ContentItem is the device protocol's opaque payload identifying a
// playable source or station. It is passed through verbatim when source
// selection cannot be resolved against the catalog.
type ContentItem struct {
	Source     string `json:"source,omitempty"`
	Account    string `json:"account,omitempty"`
	Type       string `json:"type,omitempty"`
	Location   string `json:"location,omitempty"`
	Presetable bool   `json:"presetable,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Snapshot is a point-in-time, immutable view of one speaker's state,
// assembled from one successful poll. Snapshots are replaced wholesale;
// they are never partially mutated.
type Snapshot struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Host     string `json:"host"`

	PowerOn      bool `json:"power_on"`
	Volume       int  `json:"volume"`
	TargetVolume *int `json:"target_volume,omitempty"`
	Muted        bool `json:"muted"`

	Source SourceSelection `json:"source"`
	Status PlayStatus      `json:"status"`
	Zone   ZoneState       `json:"zone"`

	// FetchedAt records when the poll completed. It is excluded from
	// logical equality.
	FetchedAt time.Time `json:"fetched_at"`
}

// normalizeMAC lowers a hardware address for comparison. Device responses
// are inconsistent about casing.
func normalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

// IsMaster reports whether the speaker leads its zone.
func (s *Snapshot) IsMaster() bool {
	return s.Zone.Master != "" && normalizeMAC(s.Zone.Master) == normalizeMAC(s.DeviceID)
}

// MemberSet returns the zone member hardware addresses as a normalized set.
func (z ZoneState) MemberSet() map[string]bool {
	set := make(map[string]bool, len(z.Members))
	for _, m := range z.Members {
		if mac := normalizeMAC(m.DeviceID); mac != "" {
			set[mac] = true
		}
	}
	return set
}

// Equal compares zone membership (master plus member set) order-independently
// and case-insensitively. Member IP addresses are advisory and not compared.
func (z ZoneState) Equal(other ZoneState) bool {
	if normalizeMAC(z.Master) != normalizeMAC(other.Master) {
		return false
	}
	a, b := z.MemberSet(), other.MemberSet()
	if len(a) != len(b) {
		return false
	}
	for mac := range a {
		if !b[mac] {
			return false
		}
	}
	return true
}

// Equal compares the source selections, including any raw content item.
func (s SourceSelection) Equal(other SourceSelection) bool {
	if s.Source != other.Source || s.Account != other.Account {
		return false
	}
	switch {
	case s.ContentItem == nil && other.ContentItem == nil:
		return true
	case s.ContentItem == nil || other.ContentItem == nil:
		return false
	default:
		return *s.ContentItem == *other.ContentItem
	}
}

// Equal compares the logical content of two snapshots. FetchedAt is
// excluded: two polls that observed identical device state are equal.
// The coordinator uses this to suppress duplicate change notifications.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.DeviceID != other.DeviceID ||
		s.Name != other.Name ||
		s.Model != other.Model ||
		s.Host != other.Host ||
		s.PowerOn != other.PowerOn ||
		s.Volume != other.Volume ||
		s.Muted != other.Muted ||
		s.Status != other.Status {
		return false
	}
	if (s.TargetVolume == nil) != (other.TargetVolume == nil) {
		return false
	}
	if s.TargetVolume != nil && *s.TargetVolume != *other.TargetVolume {
		return false
	}
	if !s.Source.Equal(other.Source) {
		return false
	}
	return s.Zone.Equal(other.Zone)
}
