package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// peerState tracks a connection's position in its lifecycle.
type peerState string

const (
	peerConnected peerState = "CONNECTED"
	peerBound     peerState = "BOUND"
	peerClosed    peerState = "CLOSED"
)

// validTransitions defines allowed peer state transitions.
var validTransitions = map[peerState][]peerState{
	peerConnected: {peerBound, peerClosed},
	peerBound:     {peerClosed},
	peerClosed:    {},
}

// Peer wraps one websocket connection and implements registry.Transport.
// Writes are serialized by a mutex; reads happen only on the hub's read loop.
type Peer struct {
	userID string
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu    sync.RWMutex
	state peerState
}

func newPeer(userID string, conn *websocket.Conn, logger *zap.Logger) *Peer {
	return &Peer{
		userID: userID,
		conn:   conn,
		logger: logger,
		state:  peerConnected,
	}
}

// ID returns the bound user ID.
func (p *Peer) ID() string { return p.userID }

func (p *Peer) transition(to peerState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(validTransitions[p.state], to) {
		return fmt.Errorf("invalid peer transition from %s to %s", p.state, to)
	}
	p.state = to
	return nil
}

func (p *Peer) bind() error {
	return p.transition(peerBound)
}

// Send marshals the event into the wire envelope and writes it with a
// bounded timeout. Fire-and-forget: the caller never retries.
func (p *Peer) Send(event string, payload any) error {
	if !p.Alive() {
		return fmt.Errorf("peer %s: connection closed", p.userID)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Alive reports whether the connection has not been closed yet.
func (p *Peer) Alive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state != peerClosed
}

// Close tears the connection down. Safe to call more than once; also called
// by the registry when a newer connection from the same user displaces this
// one.
func (p *Peer) Close() {
	if err := p.transition(peerClosed); err != nil {
		return
	}
	if err := p.conn.Close(websocket.StatusNormalClosure, "connection replaced or shutting down"); err != nil {
		p.logger.Debug("peer close", zap.String("user_id", p.userID), zap.Error(err))
	}
}

// markClosed flips the state without issuing a close frame, for when the
// read loop has already observed the connection gone.
func (p *Peer) markClosed() {
	_ = p.transition(peerClosed)
}
