// Package ws is the realtime event dispatch layer: one websocket per user,
// a JSON event envelope, and a serial per-connection read loop. Named events
// are routed to the chat engine or forwarded point-to-point through the
// registry.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/cashmate/cashmate/internal/chat"
	"github.com/cashmate/cashmate/internal/registry"
)

// origin is the peer an inbound event arrived on. Replies and error events
// go back to the origin only.
type origin interface {
	ID() string
	Send(event string, payload any) error
}

// Hub upgrades websocket connections, binds them to users, and dispatches
// their events.
type Hub struct {
	registry *registry.Registry
	chat     *chat.Engine
	origins  []string
	logger   *zap.Logger
}

// NewHub creates a new dispatch hub. origins are the allowed websocket
// origin patterns.
func NewHub(reg *registry.Registry, chatEngine *chat.Engine, origins []string, logger *zap.Logger) *Hub {
	return &Hub{
		registry: reg,
		chat:     chatEngine,
		origins:  origins,
		logger:   logger,
	}
}

// ServeHTTP handles GET /ws?userId=<id>. The user ID comes from the query
// string; authentication is assumed to have happened upstream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	if userID == "" {
		conn.Close(websocket.StatusPolicyViolation, "missing userId")
		return
	}

	peer := newPeer(userID, conn, h.logger)
	if err := peer.bind(); err != nil {
		conn.Close(websocket.StatusInternalError, "bind failed")
		return
	}

	h.registry.Register(userID, peer)

	snapshot := registry.OnlineUsers{
		Users:     h.registry.Online(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := peer.Send("online-users", snapshot); err != nil {
		h.logger.Warn("initial snapshot push failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	h.readLoop(r.Context(), peer)

	peer.markClosed()
	h.registry.Unregister(userID, peer)
}

// readLoop consumes events until the connection drops. Events from one peer
// are dispatched serially in arrival order; ordering across peers is not
// guaranteed.
func (h *Hub) readLoop(ctx context.Context, peer *Peer) {
	for {
		_, data, err := peer.conn.Read(ctx)
		if err != nil {
			h.logger.Debug("read loop ended",
				zap.String("user_id", peer.ID()), zap.Error(err))
			return
		}
		h.dispatch(peer, data)
	}
}

// dispatch routes one inbound envelope. A malformed frame or an unknown
// event is reported to the sender only; a panicking handler is reported as
// server-error and the connection lives on.
func (h *Hub) dispatch(o origin, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked",
				zap.String("user_id", o.ID()), zap.Any("panic", r))
			h.sendError(o, "server-error", ErrorEvent{Error: "An error occurred"})
		}
	}()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		h.sendError(o, "error", ErrorEvent{Code: "transport-error", Error: "malformed event envelope"})
		return
	}

	switch env.Event {
	case "send-message":
		h.handleSendMessage(o, env.Payload)
	case "mark-read":
		h.handleMarkRead(o, env.Payload)
	case "connection-request":
		h.handleConnectionRequest(o, env.Payload)
	case "accept-connection":
		h.handleAcceptConnection(o, env.Payload)
	case "typing-status":
		h.handleTypingStatus(o, env.Payload)
	default:
		h.sendError(o, "error", ErrorEvent{Code: "transport-error", Error: "unknown event: " + env.Event})
	}
}

func (h *Hub) handleSendMessage(o origin, raw json.RawMessage) {
	var p SendMessage
	if err := json.Unmarshal(raw, &p); err != nil || p.RecipientID == "" || p.Message == "" {
		h.sendError(o, "message-error", ErrorEvent{Error: "Failed to send message"})
		return
	}

	msg, err := h.chat.Send(o.ID(), p.RecipientID, p.Message)
	if err != nil {
		h.logger.Error("send-message failed",
			zap.String("sender_id", o.ID()), zap.Error(err))
		h.sendError(o, "message-error", ErrorEvent{Error: "Failed to send message"})
		return
	}

	if err := o.Send("message-sent", MessageSent{MessageID: msg.ID, Status: msg.Status}); err != nil {
		h.logger.Warn("message-sent ack failed",
			zap.String("sender_id", o.ID()), zap.Error(err))
	}
}

func (h *Hub) handleMarkRead(o origin, raw json.RawMessage) {
	var p MarkRead
	if err := json.Unmarshal(raw, &p); err != nil || p.SenderID == "" {
		h.sendError(o, "error", ErrorEvent{Code: "transport-error", Error: "invalid mark-read payload"})
		return
	}
	if err := h.chat.MarkRead(o.ID(), p.SenderID); err != nil {
		h.logger.Error("mark-read failed",
			zap.String("reader_id", o.ID()), zap.Error(err))
	}
}

func (h *Hub) handleConnectionRequest(o origin, raw json.RawMessage) {
	var p ConnectionRequest
	if err := json.Unmarshal(raw, &p); err != nil || p.RecipientID == "" {
		h.sendError(o, "request-error", ErrorEvent{Error: "invalid connection request"})
		return
	}

	t, ok := h.registry.Lookup(p.RecipientID)
	if !ok {
		h.sendError(o, "request-error", ErrorEvent{
			Error:       "Recipient is offline",
			RecipientID: p.RecipientID,
		})
		return
	}

	forward := ConnectionRequestForward{
		FromUserID:         o.ID(),
		SenderName:         p.SenderName,
		Amount:             p.Amount,
		RequestID:          p.RequestID,
		DeliveryPreference: p.DeliveryPreference,
	}
	if err := t.Send("connection-request", forward); err != nil {
		h.logger.Warn("connection-request forward failed",
			zap.String("recipient_id", p.RecipientID), zap.Error(err))
		h.sendError(o, "request-error", ErrorEvent{
			Error:       "Recipient is offline",
			RecipientID: p.RecipientID,
		})
		return
	}

	if err := o.Send("request-sent", RequestSent{
		RecipientID: p.RecipientID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		h.logger.Warn("request-sent ack failed", zap.String("user_id", o.ID()), zap.Error(err))
	}
}

func (h *Hub) handleAcceptConnection(o origin, raw json.RawMessage) {
	var p AcceptConnection
	if err := json.Unmarshal(raw, &p); err != nil || p.RequesterID == "" {
		h.sendError(o, "accept-error", ErrorEvent{
			Error:     "invalid acceptance",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	t, ok := h.registry.Lookup(p.RequesterID)
	if !ok {
		h.sendError(o, "accept-error", ErrorEvent{
			Error:       "Requester is offline",
			RequesterID: p.RequesterID,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	accepted := ConnectionAccepted{
		FromUserID: o.ID(),
		SenderName: p.SenderName,
		Amount:     p.Amount,
		RequestID:  p.RequestID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := t.Send("connection-accepted", accepted); err != nil {
		h.logger.Warn("connection-accepted forward failed",
			zap.String("requester_id", p.RequesterID), zap.Error(err))
	}
}

func (h *Hub) handleTypingStatus(o origin, raw json.RawMessage) {
	var p TypingStatus
	if err := json.Unmarshal(raw, &p); err != nil || p.RecipientID == "" {
		h.sendError(o, "error", ErrorEvent{Code: "transport-error", Error: "invalid typing-status payload"})
		return
	}

	// Typing indicators are best-effort; an offline recipient is silently
	// dropped.
	t, ok := h.registry.Lookup(p.RecipientID)
	if !ok {
		return
	}
	if err := t.Send("user-typing", UserTyping{
		UserID:    o.ID(),
		IsTyping:  p.IsTyping,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		h.logger.Warn("user-typing forward failed",
			zap.String("recipient_id", p.RecipientID), zap.Error(err))
	}
}

func (h *Hub) sendError(o origin, event string, payload ErrorEvent) {
	if err := o.Send(event, payload); err != nil {
		h.logger.Debug("error push failed",
			zap.String("user_id", o.ID()), zap.String("event", event), zap.Error(err))
	}
}
