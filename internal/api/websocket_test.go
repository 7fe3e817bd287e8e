package api

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/nerrad567/soundweave/internal/infrastructure/config"
	"github.com/nerrad567/soundweave/internal/infrastructure/logging"
	"github.com/nerrad567/soundweave/internal/soundtouch"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "json"}, "test")
	return NewHub(config.WebSocketConfig{}, logger)
}

// drainFrame pops one queued frame from the client and decodes it.
func drainFrame(t *testing.T, c *wsClient) wsFrame {
	t.Helper()

	select {
	case data := <-c.outbox:
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("queued frame is not JSON: %v", err)
		}
		return frame
	default:
		t.Fatal("no frame queued")
		return wsFrame{}
	}
}

func TestSpeakerChannel(t *testing.T) {
	if got := SpeakerChannel("kitchen"); got != "speakers/kitchen" {
		t.Errorf("SpeakerChannel = %q, want speakers/kitchen", got)
	}
}

func TestBroadcastFiltersByChannel(t *testing.T) {
	hub := newTestHub(t)

	all := newWSClient(hub, nil)
	all.channels[ChannelSpeakers] = struct{}{}
	kitchenOnly := newWSClient(hub, nil)
	kitchenOnly.channels[SpeakerChannel("kitchen")] = struct{}{}
	hub.attach(all)
	hub.attach(kitchenOnly)

	hub.broadcast(ChannelSpeakers, StateEvent{SpeakerID: "lounge"})

	frame := drainFrame(t, all)
	if frame.Type != frameEvent || frame.Channel != ChannelSpeakers {
		t.Errorf("frame = %+v, want event on %s", frame, ChannelSpeakers)
	}
	if len(kitchenOnly.outbox) != 0 {
		t.Error("per-speaker subscriber received the fleet-wide channel")
	}

	hub.broadcast(SpeakerChannel("kitchen"), StateEvent{SpeakerID: "kitchen"})

	frame = drainFrame(t, kitchenOnly)
	if frame.Channel != "speakers/kitchen" {
		t.Errorf("channel = %q, want speakers/kitchen", frame.Channel)
	}
	if len(all.outbox) != 0 {
		t.Error("fleet-wide subscriber received a per-speaker channel")
	}
}

func TestBroadcastCarriesStatePayload(t *testing.T) {
	hub := newTestHub(t)
	c := newWSClient(hub, nil)
	c.channels[ChannelSpeakers] = struct{}{}
	hub.attach(c)

	hub.broadcast(ChannelSpeakers, StateEvent{
		SpeakerID: "attic",
		State:     &soundtouch.Snapshot{Volume: 25},
	})

	frame := drainFrame(t, c)
	payload, err := json.Marshal(frame.Payload)
	if err != nil {
		t.Fatalf("re-marshal payload: %v", err)
	}
	var event StateEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if event.SpeakerID != "attic" || event.State == nil || event.State.Volume != 25 {
		t.Errorf("event = %+v", event)
	}
	if frame.At == "" {
		t.Error("event frame missing timestamp")
	}
}

func TestOfferDropsWhenOutboxFull(t *testing.T) {
	c := &wsClient{
		outbox:   make(chan []byte, 1),
		channels: make(map[string]struct{}),
	}
	c.offer([]byte("first"))
	c.offer([]byte("second"))

	if got := len(c.outbox); got != 1 {
		t.Fatalf("outbox length = %d, want 1", got)
	}
	if string(<-c.outbox) != "first" {
		t.Error("full outbox should drop the newest frame, not the oldest")
	}
}

func TestDetachClosesOutboxOnce(t *testing.T) {
	hub := newTestHub(t)
	c := newWSClient(hub, nil)
	hub.attach(c)

	hub.detach(c)
	hub.detach(c) // second detach must not double-close

	if _, open := <-c.outbox; open {
		t.Error("outbox still open after detach")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", hub.ClientCount())
	}

	// Broadcasts after detach are absorbed, not panicking on the closed channel.
	c.channels[ChannelSpeakers] = struct{}{}
	c.offer([]byte("late"))
}

func TestSubscribeUnsubscribeFrames(t *testing.T) {
	hub := newTestHub(t)
	c := newWSClient(hub, nil)
	hub.attach(c)

	c.handleFrame([]byte(`{"type":"subscribe","id":"1","payload":{"channels":["speakers","speakers/kitchen"]}}`))

	ack := drainFrame(t, c)
	if ack.Type != frameAck || ack.ID != "1" {
		t.Errorf("ack = %+v", ack)
	}
	if !c.subscribed("speakers") || !c.subscribed("speakers/kitchen") {
		t.Error("subscribe did not record channels")
	}

	c.handleFrame([]byte(`{"type":"unsubscribe","id":"2","payload":{"channels":["speakers"]}}`))

	ack = drainFrame(t, c)
	if ack.ID != "2" {
		t.Errorf("ack ID = %q, want 2", ack.ID)
	}
	if c.subscribed("speakers") {
		t.Error("unsubscribe left channel in place")
	}
	if !c.subscribed("speakers/kitchen") {
		t.Error("unsubscribe removed an unrelated channel")
	}
}

func TestPingFrame(t *testing.T) {
	hub := newTestHub(t)
	c := newWSClient(hub, nil)

	c.handleFrame([]byte(`{"type":"ping","id":"beat"}`))

	frame := drainFrame(t, c)
	if frame.Type != framePong || frame.ID != "beat" {
		t.Errorf("frame = %+v, want pong echoing id", frame)
	}
}

func TestBadFramesAreRejected(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed json", `{"type":`},
		{"unknown type", `{"type":"teleport","id":"x"}`},
		{"bad channel list", `{"type":"subscribe","id":"x","payload":{"channels":"not-a-list"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newTestHub(t)
			c := newWSClient(hub, nil)

			c.handleFrame([]byte(tt.input))

			frame := drainFrame(t, c)
			if frame.Type != frameError {
				t.Errorf("frame type = %q, want %q", frame.Type, frameError)
			}
		})
	}
}

func TestRunDisconnectsAllClients(t *testing.T) {
	hub := newTestHub(t)
	hub.attach(newWSClient(hub, nil))
	hub.attach(newWSClient(hub, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after shutdown, want 0", hub.ClientCount())
	}
}
