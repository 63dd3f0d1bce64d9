// Package registry tracks the single live realtime transport per user.
//
// It is the authoritative source for "is this user reachable right now";
// the persisted online flag on users is only an advisory mirror. State is
// process-lifetime only and lost on restart.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cashmate/cashmate/internal/bus"
)

// Transport is one live realtime connection.
type Transport interface {
	// Send pushes a named event to the connection. Fire-and-forget:
	// failures are reported but never retried.
	Send(event string, payload any) error
	// Alive reports whether the underlying connection is still open.
	Alive() bool
	// Close tears the connection down.
	Close()
}

// Presence payloads broadcast to other transports.
type Presence struct {
	UserID string `json:"userId"`
}

// OnlineUsers is the initial snapshot pushed to a newly bound transport.
type OnlineUsers struct {
	Users     []string `json:"users"`
	Timestamp string   `json:"timestamp"`
}

// Registry maps user IDs to their single live transport. Last-connect-wins:
// a new connection from the same user replaces (and closes) the previous one.
// Mutated only by the event dispatch layer; engines may only look up.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Transport
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates an empty registry.
func New(b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Transport),
		bus:    b,
		logger: logger,
	}
}

// Register stores or overwrites the user's transport, closes any displaced
// one, and announces the user online to every other live transport.
func (r *Registry) Register(userID string, t Transport) {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = t
	r.mu.Unlock()

	if prev != nil && prev != t {
		prev.Close()
	}

	r.logger.Info("user connected", zap.String("user_id", userID))
	r.BroadcastExcept(userID, "user-online", Presence{UserID: userID})
	r.bus.Publish(bus.NewEvent("presence.online", userID))
}

// Unregister removes the user's transport and announces the user offline to
// every other live transport. A stale transport (already displaced by a newer
// connection from the same user) is a no-op, so a late disconnect of the old
// socket cannot evict its replacement.
func (r *Registry) Unregister(userID string, t Transport) {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || (t != nil && current != t) {
		r.mu.Unlock()
		return
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	r.logger.Info("user disconnected", zap.String("user_id", userID))
	r.BroadcastExcept(userID, "user-offline", Presence{UserID: userID})
	r.bus.Publish(bus.NewEvent("presence.offline", userID))
}

// Lookup returns the user's live transport, if any.
func (r *Registry) Lookup(userID string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.conns[userID]
	return t, ok
}

// Online returns a snapshot of the currently registered user IDs.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.conns))
	for id := range r.conns {
		users = append(users, id)
	}
	return users
}

// Broadcast pushes an event to every registered transport.
func (r *Registry) Broadcast(event string, payload any) {
	r.BroadcastExcept("", event, payload)
}

// BroadcastExcept pushes an event to every registered transport except the
// named user's own.
func (r *Registry) BroadcastExcept(selfID, event string, payload any) {
	r.mu.RLock()
	targets := make([]Transport, 0, len(r.conns))
	for id, t := range r.conns {
		if id == selfID {
			continue
		}
		targets = append(targets, t)
	}
	r.mu.RUnlock()

	for _, t := range targets {
		if err := t.Send(event, payload); err != nil {
			r.logger.Warn("broadcast push failed", zap.String("event", event), zap.Error(err))
		}
	}
}

// StartSweep begins the periodic liveness sweep: entries whose transport
// reports itself dead are evicted with an offline announcement. This is a
// backstop for missed disconnect events.
func (r *Registry) StartSweep(ctx context.Context, interval time.Duration) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.sweepLoop(ctx, interval)
}

// StopSweep stops the liveness sweep.
func (r *Registry) StopSweep() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Registry) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	var dead []string
	for id, t := range r.conns {
		if !t.Alive() {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, id := range dead {
		r.logger.Info("evicting dead connection", zap.String("user_id", id))
		r.Broadcast("user-offline", Presence{UserID: id})
		r.bus.Publish(bus.NewEvent("presence.offline", id))
	}
}
