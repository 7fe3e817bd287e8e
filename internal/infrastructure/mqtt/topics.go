package mqtt

import "fmt"

// Topic prefixes for the Soundweave MQTT hierarchy.
//
// State topics are retained so late subscribers see current state; command
// topics are not.
const (
	// TopicPrefix is the base for all Soundweave topics.
	TopicPrefix = "soundweave"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "soundweave/system"
)

// Topics provides builders for Soundweave MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.SpeakerState("kitchen")
//	// Returns: "soundweave/state/kitchen"
type Topics struct{}

// SpeakerState returns the retained state topic for one speaker.
//
// Example: soundweave/state/kitchen
func (Topics) SpeakerState(speakerID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, speakerID)
}

// AllSpeakerStates returns the wildcard pattern matching every speaker's
// state topic.
func (Topics) AllSpeakerStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// SpeakerCommand returns the command topic for one speaker and action.
//
// Example: soundweave/command/kitchen/volume
func (Topics) SpeakerCommand(speakerID, action string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, speakerID, action)
}

// AllSpeakerCommands returns the wildcard pattern matching every speaker
// command topic.
func (Topics) AllSpeakerCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// ZoneTopology returns the retained topic carrying the fleet's observed zone
// groups.
//
// Example: soundweave/zones
func (Topics) ZoneTopology() string {
	return fmt.Sprintf("%s/zones", TopicPrefix)
}

// SystemStatus returns the topic for service online/offline status.
// Used for both graceful status updates and the LWT message.
//
// Example: soundweave/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
