package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/soundweave/internal/infrastructure/mqtt"
	"github.com/nerrad567/soundweave/internal/soundtouch"
	"github.com/nerrad567/soundweave/internal/zone"
)

// Bridge operation constants.
const (
	// commandTopicParts is the expected part count of a command topic
	// (prefix/command/<speaker>/<action>).
	commandTopicParts = 4

	// commandTimeout bounds each device command issued from MQTT.
	commandTimeout = 5 * time.Second

	// commandQoS is the QoS level for command subscriptions.
	commandQoS = 1
)

// MQTTClient is the interface for MQTT operations.
// Satisfied by *mqtt.Client.
type MQTTClient interface {
	// PublishRetained publishes a retained message at QoS 1.
	PublishRetained(topic string, payload []byte) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Speaker is one controllable fleet member.
// Satisfied by *fleet.Entry (via adapter in main.go).
type Speaker interface {
	// SpeakerID returns the registry identifier.
	SpeakerID() string

	// Latest returns the most recent observed snapshot, if any.
	Latest() (*soundtouch.Snapshot, bool)

	// RequestRefresh schedules an asynchronous poll.
	RequestRefresh()

	// SetVolume sends an absolute volume command.
	SetVolume(ctx context.Context, level int) error

	// Power toggles the speaker's power state.
	Power(ctx context.Context) error

	// SelectSource switches the speaker to the named source.
	SelectSource(ctx context.Context, request string) error
}

// Fleet provides access to the speaker registry.
// Satisfied by *fleet.Registry (via adapter in main.go).
type Fleet interface {
	// Resolve looks up a speaker by registry ID or hardware address.
	Resolve(identifier string) (Speaker, error)

	// Speakers returns all registered speakers.
	Speakers() []Speaker

	// SubscribeAll registers a handler invoked for every published snapshot.
	SubscribeAll(handler func(speakerID string, snap *soundtouch.Snapshot))
}

// TopologySource derives the fleet's zone grouping from observed state.
// Satisfied by *zone.Reconciler. Optional - if nil, the bridge does not
// publish topology messages.
type TopologySource interface {
	Topology() []zone.Group
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Fleet is the speaker registry.
	Fleet Fleet

	// Zones is optional zone topology source.
	// If nil, the bridge operates without topology publishing.
	Zones TopologySource

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge mirrors fleet state to MQTT and routes incoming speaker commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt  MQTTClient
	fleet Fleet
	zones TopologySource

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Fleet == nil {
		return nil, fmt.Errorf("fleet is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	// Create bridge-level context for command cancellation on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		mqtt:      opts.MQTTClient,
		fleet:     opts.Fleet,
		zones:     opts.Zones, // May be nil (optional)
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    logger,
	}, nil
}

// Start begins bridge operation.
// This subscribes to command topics, registers the snapshot handler, and
// publishes retained state for every speaker already observed.
func (b *Bridge) Start() error {
	// Subscribe to command topics
	commandTopic := mqtt.Topics{}.AllSpeakerCommands()
	if err := b.mqtt.Subscribe(commandTopic, commandQoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Mirror future snapshots
	b.fleet.SubscribeAll(b.handleSnapshot)

	// Seed retained state for speakers that already have observations
	published := 0
	for _, sp := range b.fleet.Speakers() {
		snap, ok := sp.Latest()
		if !ok {
			continue
		}
		b.publishState(sp.SpeakerID(), snap)
		published++
	}
	if published > 0 {
		b.publishTopology()
	}

	b.logInfo("bridge started", "initial_states", published)
	return nil
}

// Stop shuts down the bridge. In-flight commands are cancelled.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.logInfo("bridge stopped")
	})
}

// handleSnapshot mirrors one published snapshot to the broker.
func (b *Bridge) handleSnapshot(speakerID string, snap *soundtouch.Snapshot) {
	b.publishState(speakerID, snap)
	b.publishTopology()
}

// publishState publishes a retained state message for one speaker.
func (b *Bridge) publishState(speakerID string, snap *soundtouch.Snapshot) {
	msg := StateMessage{
		SpeakerID: speakerID,
		State:     snap,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	topic := mqtt.Topics{}.SpeakerState(speakerID)
	if err := b.mqtt.PublishRetained(topic, payload); err != nil {
		b.logError("failed to publish state", err)
	}
}

// publishTopology publishes the retained zone topology message.
func (b *Bridge) publishTopology() {
	if b.zones == nil {
		return
	}

	groups := b.zones.Topology()
	if groups == nil {
		groups = []zone.Group{}
	}

	msg := TopologyMessage{
		Groups:    groups,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal topology", err)
		return
	}

	topic := mqtt.Topics{}.ZoneTopology()
	if err := b.mqtt.PublishRetained(topic, payload); err != nil {
		b.logError("failed to publish topology", err)
	}
}

// handleCommand routes an incoming command message to the target speaker.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts {
		return fmt.Errorf("invalid command topic: %s", topic)
	}
	speakerID, action := parts[2], parts[3]

	sp, err := b.fleet.Resolve(speakerID)
	if err != nil {
		b.logWarn("command for unknown speaker", "speaker_id", speakerID, "action", action)
		return fmt.Errorf("resolve %s: %w", speakerID, err)
	}

	b.logInfo("received command", "speaker_id", speakerID, "action", action)

	// Derive timeout from bridge context so commands are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	switch action {
	case "refresh":
		sp.RequestRefresh()
		return nil
	case "volume":
		return b.executeVolume(ctx, sp, payload)
	case "power":
		return b.executePower(ctx, sp)
	case "source":
		return b.executeSource(ctx, sp, payload)
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
}

// executeVolume sends an absolute volume command.
func (b *Bridge) executeVolume(ctx context.Context, sp Speaker, payload []byte) error {
	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parse volume command: %w", err)
	}
	if cmd.Level == nil {
		return fmt.Errorf("volume command missing 'level'")
	}

	if err := sp.SetVolume(ctx, *cmd.Level); err != nil {
		b.logError("volume command failed", err)
		return err
	}

	// Converge mirrored state on the device's actual state
	sp.RequestRefresh()
	return nil
}

// executePower toggles the speaker's power state.
func (b *Bridge) executePower(ctx context.Context, sp Speaker) error {
	if err := sp.Power(ctx); err != nil {
		b.logError("power command failed", err)
		return err
	}

	sp.RequestRefresh()
	return nil
}

// executeSource switches the speaker's input source.
func (b *Bridge) executeSource(ctx context.Context, sp Speaker, payload []byte) error {
	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parse source command: %w", err)
	}
	if cmd.Source == "" {
		return fmt.Errorf("source command missing 'source'")
	}

	if err := sp.SelectSource(ctx, cmd.Source); err != nil {
		b.logError("source command failed", err)
		return err
	}

	sp.RequestRefresh()
	return nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	logger.Info(msg, keysAndValues...)
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	logger.Warn(msg, keysAndValues...)
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	logger.Error(msg, "error", err)
}
