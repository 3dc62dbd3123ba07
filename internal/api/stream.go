package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = pongWait * 9 / 10
	maxClientFrame = 512
	streamBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamTopics are relayed to every alert stream client.
var streamTopics = []string{domain.TopicAlertGenerated, domain.TopicAlertStatus}

// StreamEvent is one frame on the alert stream.
type StreamEvent struct {
	Topic     string             `json:"topic"`
	Event     *domain.AlertEvent `json:"event"`
	Timestamp int64              `json:"timestamp"`
}

type streamClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	trader string
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

// StreamAlerts handles GET /alerts/stream. It upgrades to a WebSocket and
// relays alert creation and status events, optionally for one ?trader=.
func (h *Handler) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "event bus not available",
			Code:  "UNAVAILABLE",
		})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		slog.Warn("alert stream upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		conn:   conn,
		send:   make(chan []byte, streamBuffer),
		done:   make(chan struct{}),
		trader: r.URL.Query().Get("trader"),
	}

	var subs []domain.Subscription
	defer func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				slog.Warn("failed to unsubscribe alert stream", "topic", sub.Topic(), "error", err)
			}
		}
		conn.Close()
	}()

	for _, topic := range streamTopics {
		sub, err := h.bus.Subscribe(r.Context(), topic, c.relay(topic))
		if err != nil {
			slog.Error("alert stream subscribe failed", "topic", topic, "error", err)
			return
		}
		subs = append(subs, sub)
	}

	h.addStream(c)
	defer h.removeStream(c)

	callerID := GetCallerID(r.Context())
	slog.Info("alert stream connected", "caller_id", callerID, "trader", c.trader)

	go c.readLoop()
	c.writeLoop()

	slog.Info("alert stream disconnected", "caller_id", callerID)
}

// relay filters and queues bus events for the client. A lagging client loses
// events rather than blocking the bus.
func (c *streamClient) relay(topic string) domain.MessageHandler {
	return func(_ context.Context, msg *domain.Message) error {
		var event domain.AlertEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return err
		}
		if c.trader != "" && (event.Alert == nil || event.Alert.Trader != c.trader) {
			return nil
		}

		frame, err := json.Marshal(StreamEvent{Topic: topic, Event: &event, Timestamp: msg.Timestamp})
		if err != nil {
			return err
		}

		select {
		case c.send <- frame:
		case <-c.done:
		default:
			slog.Warn("alert stream client lagging, dropping event", "topic", topic, "message_id", msg.ID)
		}
		return nil
	}
}

// readLoop only services control frames; anything the client sends is
// discarded. It ends the stream when the peer goes away.
func (c *streamClient) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamClient) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Handler) addStream(c *streamClient) {
	h.streamMu.Lock()
	h.streams[c] = struct{}{}
	h.streamMu.Unlock()
	metrics.ActiveStreamClients.Inc()
}

func (h *Handler) removeStream(c *streamClient) {
	h.streamMu.Lock()
	delete(h.streams, c)
	h.streamMu.Unlock()
	metrics.ActiveStreamClients.Dec()
}

// closeStreams disconnects every stream client.
func (h *Handler) closeStreams() {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()
	for c := range h.streams {
		c.close()
	}
}
