// Package client is the Go client for the cashmated realtime endpoint. It
// speaks the daemon's JSON event envelope over a websocket and reconnects
// automatically with exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Envelope is the wire format for every event in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage is pushed when a live message arrives.
type NewMessage struct {
	MessageID   string `json:"messageId"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	Status      string `json:"status"`
}

// MessageSent acknowledges a sent message with its final delivery status.
type MessageSent struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// MessagesRead notifies that the peer read this client's messages.
type MessagesRead struct {
	By        string `json:"by"`
	Timestamp int64  `json:"timestamp"`
}

// Presence announces another user going online or offline.
type Presence struct {
	UserID string `json:"userId"`
}

// OnlineUsers is the snapshot pushed right after connecting.
type OnlineUsers struct {
	Users     []string `json:"users"`
	Timestamp string   `json:"timestamp"`
}

// UserTyping is a forwarded typing indicator.
type UserTyping struct {
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp string `json:"timestamp"`
}

// ConnectionRequest is an inbound cash request notification.
type ConnectionRequest struct {
	FromUserID         string  `json:"fromUserId"`
	SenderName         string  `json:"senderName,omitempty"`
	Amount             float64 `json:"amount,omitempty"`
	RequestID          string  `json:"requestId,omitempty"`
	DeliveryPreference string  `json:"deliveryPreference,omitempty"`
}

// ConnectionAccepted notifies that a connection request was accepted.
type ConnectionAccepted struct {
	FromUserID string  `json:"fromUserId"`
	SenderName string  `json:"senderName,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	RequestID  string  `json:"requestId,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// ErrorPayload is pushed on any of the daemon's error events.
type ErrorPayload struct {
	Code        string `json:"code,omitempty"`
	Error       string `json:"error"`
	RecipientID string `json:"recipientId,omitempty"`
	RequesterID string `json:"requesterId,omitempty"`
}

// errorEvents are the daemon events dispatched to OnError handlers.
var errorEvents = map[string]bool{
	"error":         true,
	"server-error":  true,
	"message-error": true,
	"request-error": true,
	"accept-error":  true,
}

// Config configures the realtime client.
type Config struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
}

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// EventHandler is the generic event callback type.
type EventHandler func(event string, payload json.RawMessage)

type dispatcher struct {
	mu                   sync.RWMutex
	generic              map[string][]EventHandler
	onNewMessage         []func(NewMessage)
	onMessageSent        []func(MessageSent)
	onMessagesRead       []func(MessagesRead)
	onUserOnline         []func(Presence)
	onUserOffline        []func(Presence)
	onOnlineUsers        []func(OnlineUsers)
	onUserTyping         []func(UserTyping)
	onConnectionRequest  []func(ConnectionRequest)
	onConnectionAccepted []func(ConnectionAccepted)
	onError              []func(string, ErrorPayload)
	onConnected          []func()
	onDisconnected       []func(error)
	onReconnecting       []func(int, time.Duration)
}

func newDispatcher() *dispatcher {
	return &dispatcher{generic: make(map[string][]EventHandler)}
}

func (d *dispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Event {
	case "new-message":
		var p NewMessage
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onNewMessage {
				go h(p)
			}
		}
	case "message-sent":
		var p MessageSent
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessageSent {
				go h(p)
			}
		}
	case "messages-read":
		var p MessagesRead
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessagesRead {
				go h(p)
			}
		}
	case "user-online":
		var p Presence
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onUserOnline {
				go h(p)
			}
		}
	case "user-offline":
		var p Presence
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onUserOffline {
				go h(p)
			}
		}
	case "online-users":
		var p OnlineUsers
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onOnlineUsers {
				go h(p)
			}
		}
	case "user-typing":
		var p UserTyping
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onUserTyping {
				go h(p)
			}
		}
	case "connection-request":
		var p ConnectionRequest
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onConnectionRequest {
				go h(p)
			}
		}
	case "connection-accepted":
		var p ConnectionAccepted
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onConnectionAccepted {
				go h(p)
			}
		}
	default:
		if errorEvents[env.Event] {
			var p ErrorPayload
			if json.Unmarshal(env.Payload, &p) == nil {
				for _, h := range d.onError {
					go h(env.Event, p)
				}
			}
		}
	}

	for _, h := range d.generic[env.Event] {
		handler := h
		go handler(env.Event, env.Payload)
	}
}

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg *Config) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// Client is a realtime client bound to one user.
type Client struct {
	baseURL          string
	userID           string
	config           *Config
	conn             *websocket.Conn
	mu               sync.Mutex
	state            State
	intentionalClose bool
	dispatcher       *dispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
}

// New creates a client for the daemon at baseURL (http:// or https://) bound
// to userID.
func New(baseURL, userID string, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		config:     cfg,
		state:      StateDisconnected,
		dispatcher: newDispatcher(),
		recon:      newReconnector(cfg),
	}
}

// OnNewMessage registers a handler for incoming messages.
func (c *Client) OnNewMessage(h func(NewMessage)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onNewMessage = append(c.dispatcher.onNewMessage, h)
	c.dispatcher.mu.Unlock()
}

// OnMessageSent registers a handler for send acknowledgements.
func (c *Client) OnMessageSent(h func(MessageSent)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onMessageSent = append(c.dispatcher.onMessageSent, h)
	c.dispatcher.mu.Unlock()
}

// OnMessagesRead registers a handler for read receipts.
func (c *Client) OnMessagesRead(h func(MessagesRead)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onMessagesRead = append(c.dispatcher.onMessagesRead, h)
	c.dispatcher.mu.Unlock()
}

// OnUserOnline registers a handler for online announcements.
func (c *Client) OnUserOnline(h func(Presence)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onUserOnline = append(c.dispatcher.onUserOnline, h)
	c.dispatcher.mu.Unlock()
}

// OnUserOffline registers a handler for offline announcements.
func (c *Client) OnUserOffline(h func(Presence)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onUserOffline = append(c.dispatcher.onUserOffline, h)
	c.dispatcher.mu.Unlock()
}

// OnOnlineUsers registers a handler for the initial online snapshot.
func (c *Client) OnOnlineUsers(h func(OnlineUsers)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onOnlineUsers = append(c.dispatcher.onOnlineUsers, h)
	c.dispatcher.mu.Unlock()
}

// OnUserTyping registers a handler for typing indicators.
func (c *Client) OnUserTyping(h func(UserTyping)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onUserTyping = append(c.dispatcher.onUserTyping, h)
	c.dispatcher.mu.Unlock()
}

// OnConnectionRequest registers a handler for inbound cash request
// notifications.
func (c *Client) OnConnectionRequest(h func(ConnectionRequest)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onConnectionRequest = append(c.dispatcher.onConnectionRequest, h)
	c.dispatcher.mu.Unlock()
}

// OnConnectionAccepted registers a handler for acceptance notifications.
func (c *Client) OnConnectionAccepted(h func(ConnectionAccepted)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onConnectionAccepted = append(c.dispatcher.onConnectionAccepted, h)
	c.dispatcher.mu.Unlock()
}

// OnError registers a handler for all daemon error events.
func (c *Client) OnError(h func(event string, p ErrorPayload)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onError = append(c.dispatcher.onError, h)
	c.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (c *Client) OnConnected(h func()) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onConnected = append(c.dispatcher.onConnected, h)
	c.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (c *Client) OnDisconnected(h func(err error)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onDisconnected = append(c.dispatcher.onDisconnected, h)
	c.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (c *Client) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onReconnecting = append(c.dispatcher.onReconnecting, h)
	c.dispatcher.mu.Unlock()
}

// On registers a generic event handler.
func (c *Client) On(event string, h EventHandler) {
	c.dispatcher.mu.Lock()
	c.dispatcher.generic[event] = append(c.dispatcher.generic[event], h)
	c.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the websocket connection and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	wsURL := strings.Replace(c.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?userId=" + c.userID

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	c.recon.markConnected()

	c.emitConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelFn = cancel
	c.mu.Unlock()

	go c.readLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// SendMessage delivers a chat message to recipientID.
func (c *Client) SendMessage(ctx context.Context, recipientID, message string) error {
	return c.Send(ctx, "send-message", map[string]string{
		"recipientId": recipientID,
		"message":     message,
	})
}

// MarkRead flips every message from senderID in the shared thread to read.
func (c *Client) MarkRead(ctx context.Context, senderID string) error {
	return c.Send(ctx, "mark-read", map[string]string{"senderId": senderID})
}

// TypingStatus signals a typing start or stop to recipientID.
func (c *Client) TypingStatus(ctx context.Context, recipientID string, isTyping bool) error {
	return c.Send(ctx, "typing-status", map[string]any{
		"recipientId": recipientID,
		"isTyping":    isTyping,
	})
}

// RequestConnection forwards a cash request notification to recipientID.
func (c *Client) RequestConnection(ctx context.Context, recipientID, senderName string, amount float64, requestID string) error {
	return c.Send(ctx, "connection-request", map[string]any{
		"recipientId": recipientID,
		"senderName":  senderName,
		"amount":      amount,
		"requestId":   requestID,
	})
}

// AcceptConnection notifies requesterID that their request was accepted.
func (c *Client) AcceptConnection(ctx context.Context, requesterID, senderName string, amount float64, requestID string) error {
	return c.Send(ctx, "accept-connection", map[string]any{
		"requesterId": requesterID,
		"senderName":  senderName,
		"amount":      amount,
		"requestId":   requestID,
	})
}

// Send writes a raw named event.
func (c *Client) Send(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.mu.Unlock()
			if intentional {
				return
			}

			c.mu.Lock()
			c.state = StateDisconnected
			c.conn = nil
			c.mu.Unlock()

			c.emitDisconnected(err)

			if c.config.AutoReconnect && c.recon.shouldReconnect() {
				c.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.dispatcher.dispatch(env)
	}
}

func (c *Client) scheduleReconnect() {
	delay := c.recon.nextDelay()
	c.mu.Lock()
	c.state = StateReconnecting
	c.mu.Unlock()

	c.emitReconnecting(c.recon.attempt, delay)

	time.Sleep(delay)

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		if c.config.AutoReconnect && c.recon.shouldReconnect() {
			c.scheduleReconnect()
		}
	}
}

func (c *Client) emitConnected() {
	c.dispatcher.mu.RLock()
	handlers := append([]func(){}, c.dispatcher.onConnected...)
	c.dispatcher.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (c *Client) emitDisconnected(err error) {
	c.dispatcher.mu.RLock()
	handlers := append([]func(error){}, c.dispatcher.onDisconnected...)
	c.dispatcher.mu.RUnlock()
	for _, h := range handlers {
		go h(err)
	}
}

func (c *Client) emitReconnecting(attempt int, delay time.Duration) {
	c.dispatcher.mu.RLock()
	handlers := append([]func(int, time.Duration){}, c.dispatcher.onReconnecting...)
	c.dispatcher.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}
