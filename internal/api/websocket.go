package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/soundweave/internal/infrastructure/config"
	"github.com/nerrad567/soundweave/internal/infrastructure/logging"
	"github.com/nerrad567/soundweave/internal/soundtouch"
)

// Frame types exchanged with WebSocket clients.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
	framePong        = "pong"
	frameEvent       = "event"
	frameAck         = "ack"
	frameError       = "error"
)

// ChannelSpeakers receives every speaker state change. A client that only
// cares about one speaker subscribes to SpeakerChannel(id) instead.
const ChannelSpeakers = "speakers"

// SpeakerChannel returns the per-speaker state channel name.
func SpeakerChannel(speakerID string) string {
	return ChannelSpeakers + "/" + speakerID
}

// outboxSize bounds the per-client queue; a client that cannot drain
// this many frames starts losing events rather than stalling broadcasts.
const outboxSize = 256

// wsFrame is the wire format for both directions. Channel is set on
// events, ID echoes the client's request ID on acks and errors.
type wsFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
	At      string `json:"at,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// channelList is the subscribe/unsubscribe payload.
type channelList struct {
	Channels []string `json:"channels"`
}

// StateEvent is the event payload on speaker channels.
type StateEvent struct {
	SpeakerID string               `json:"speaker_id"`
	State     *soundtouch.Snapshot `json:"state"`
}

// Hub tracks connected WebSocket clients and fans events out to them.
// Event delivery is fire-and-forget per client so one slow browser never
// blocks the fleet coordinators publishing state.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.outbox)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

func (h *Hub) attach(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// detach removes the client and closes its outbox. Exactly one caller
// wins the map delete, so the channel is closed once even when the read
// loop and shutdown race.
func (h *Hub) detach(c *wsClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if present {
		close(c.outbox)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// broadcast queues an event frame for every client subscribed to channel.
// The client list is snapshotted first so no client lock is taken while
// the hub lock is held.
func (h *Hub) broadcast(channel string, payload any) {
	data, err := json.Marshal(wsFrame{
		Type:    frameEvent,
		Channel: channel,
		At:      time.Now().UTC().Format(time.RFC3339),
		Payload: payload,
	})
	if err != nil {
		h.logger.Error("websocket event marshal failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.subscribed(channel) {
			c.offer(data)
		}
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// relayFleetEvents forwards registry snapshot publications onto the
// broadcast channels. Coordinators call handlers synchronously, so this
// only ever enqueues onto client outboxes.
func (s *Server) relayFleetEvents() {
	s.registry.SubscribeAll(func(speakerID string, snap *soundtouch.Snapshot) {
		if s.hub == nil {
			return
		}
		event := StateEvent{SpeakerID: speakerID, State: snap}
		s.hub.broadcast(ChannelSpeakers, event)
		s.hub.broadcast(SpeakerChannel(speakerID), event)
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS middleware ahead of the upgrade.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleWebSocket upgrades the request and starts the client's loops.
// Auth has already run; browsers pass the bearer token as a "token"
// query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.attach(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// wsClient is one connected browser or automation client.
type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:      hub,
		conn:     conn,
		outbox:   make(chan []byte, outboxSize),
		channels: make(map[string]struct{}),
	}
}

// readLoop consumes client frames until the connection drops. Any frame
// from the client refreshes the read deadline, so clients that cannot
// answer protocol pings stay alive by talking.
func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	liveness := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(liveness))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(liveness))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(liveness))
		c.handleFrame(data)
	}
}

// writeLoop drains the outbox and keeps the connection alive with
// protocol pings. It owns all writes to the connection.
func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-c.outbox:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error below terminates the loop
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error below terminates the loop
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleFrame(data []byte) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reject("", "malformed frame")
		return
	}

	switch frame.Type {
	case frameSubscribe:
		c.updateChannels(frame, true)
	case frameUnsubscribe:
		c.updateChannels(frame, false)
	case framePing:
		c.reply(frame.ID, framePong, nil)
	default:
		c.reject(frame.ID, "unknown frame type: "+frame.Type)
	}
}

// updateChannels applies a subscribe or unsubscribe request and acks
// with the channels that changed.
func (c *wsClient) updateChannels(frame wsFrame, add bool) {
	raw, err := json.Marshal(frame.Payload)
	if err != nil {
		c.reject(frame.ID, "invalid payload")
		return
	}
	var list channelList
	if err := json.Unmarshal(raw, &list); err != nil {
		c.reject(frame.ID, "invalid channel list")
		return
	}

	c.mu.Lock()
	for _, ch := range list.Channels {
		if add {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	if add {
		c.hub.logger.Info("websocket client subscribed", "channels", list.Channels)
		c.reply(frame.ID, frameAck, map[string]any{"subscribed": list.Channels})
		return
	}
	c.reply(frame.ID, frameAck, map[string]any{"unsubscribed": list.Channels})
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// offer enqueues a frame without blocking. A full outbox drops the
// frame; a closed outbox (client detached mid-broadcast) is absorbed.
func (c *wsClient) offer(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed outbox during shutdown
	}()

	select {
	case c.outbox <- data:
	default:
	}
}

func (c *wsClient) reply(id, frameType string, payload any) {
	data, err := json.Marshal(wsFrame{
		Type:    frameType,
		ID:      id,
		At:      time.Now().UTC().Format(time.RFC3339),
		Payload: payload,
	})
	if err != nil {
		return
	}
	c.offer(data)
}

func (c *wsClient) reject(id, reason string) {
	c.reply(id, frameError, map[string]string{"message": reason})
}
