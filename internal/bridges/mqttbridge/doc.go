// Package mqttbridge mirrors speaker fleet state onto an MQTT broker and
// accepts speaker commands published by other systems.
//
// # Architecture
//
// The bridge sits between the fleet registry and the MQTT client:
//
//	fleet registry ──snapshots──▶ bridge ──retained JSON──▶ soundweave/state/<id>
//	soundweave/command/<id>/<action> ──▶ bridge ──▶ speaker client
//
// State messages are published retained so late subscribers immediately see
// the last known state of every speaker. Zone topology is republished on
// every state change, since grouping changes arrive through snapshots.
//
// # Commands
//
// The bridge subscribes to soundweave/command/+/+ and handles:
//
//   - refresh: schedule an immediate poll
//   - volume:  {"level": 35} absolute volume
//   - power:   toggle power
//   - source:  {"source": "BLUETOOTH"} switch input
//
// Mutating commands are followed by a refresh request so the mirrored state
// converges on the device's actual state rather than the commanded one.
//
// # Integration
//
// The Fleet and Speaker interfaces are satisfied by the fleet registry via
// a small adapter in main.go. The MQTTClient interface is satisfied by
// *mqtt.Client directly.
package mqttbridge
