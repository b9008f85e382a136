// Package notify fans alerts and dashboard events out to websocket clients
// and an optional Kafka topic.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sitewatch/sitewatch/internal/alerts"
	"github.com/sitewatch/sitewatch/internal/logger"
)

// Channel names clients can subscribe to.
const (
	ChannelAlerts    = "alerts"
	ChannelDashboard = "dashboard"
)

// ValidChannel reports whether name is a known subscription channel.
func ValidChannel(name string) bool {
	return name == ChannelAlerts || name == ChannelDashboard
}

const writeTimeout = 10 * time.Second

// Hub manages websocket subscribers grouped by channel.
type Hub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:  log,
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

// Register adds a connection to a channel.
func (h *Hub) Register(channel string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[channel] == nil {
		h.clients[channel] = make(map[*websocket.Conn]bool)
	}
	h.clients[channel][conn] = true
	h.logger.Debug("Websocket client registered", "channel", channel, "total", len(h.clients[channel]))
}

// Unregister removes a connection from a channel.
func (h *Hub) Unregister(channel string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[channel]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, channel)
		}
	}
}

// ClientCount returns the number of connections on a channel.
func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}

// Broadcast sends a message to every client on the channel. Connections
// that fail to accept the write are dropped.
func (h *Hub) Broadcast(channel string, message []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[channel]))
	for conn := range h.clients[channel] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Debug("Dropping dead websocket client", "channel", channel, "error", err)
			h.Unregister(channel, conn)
			conn.Close()
		}
	}
}

// envelope is the wire format for hub messages.
type envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// BroadcastAlert sends an alert to the alerts channel.
func (h *Hub) BroadcastAlert(ctx context.Context, alert *alerts.Alert) error {
	data, err := json.Marshal(envelope{
		Type:      "alert",
		Timestamp: time.Now().UTC(),
		Data:      alert,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert message: %w", err)
	}
	h.Broadcast(ChannelAlerts, data)
	return nil
}

// Name identifies the hub in broadcast logs.
func (h *Hub) Name() string { return "websocket" }

// BroadcastEvent sends an arbitrary event to the dashboard channel.
func (h *Hub) BroadcastEvent(eventType string, payload interface{}) {
	data, err := json.Marshal(envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		h.logger.Warn("Failed to marshal dashboard event", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ChannelDashboard, data)
}

// Serve reads from the connection until it closes, answering ping frames so
// idle dashboards stay connected. It blocks; run it per connection.
func (h *Hub) Serve(channel string, conn *websocket.Conn) {
	defer func() {
		h.Unregister(channel, conn)
		conn.Close()
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.TextMessage && string(payload) == "ping" {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}
