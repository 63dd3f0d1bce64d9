// Package presence persists the advisory online flag to the users table.
//
// The registry is authoritative for live reachability; this writer only
// mirrors register/unregister transitions into durable state so that "last
// seen" survives a restart.
package presence

import (
	"context"

	"go.uber.org/zap"

	"github.com/cashmate/cashmate/internal/bus"
	"github.com/cashmate/cashmate/internal/store"
)

// Writer subscribes to presence.* bus events and writes them to the store.
type Writer struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewWriter creates a new presence writer.
func NewWriter(db *store.DB, b *bus.Bus, logger *zap.Logger) *Writer {
	return &Writer{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to presence events on the bus.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ch, unsub := w.bus.Subscribe("presence.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				w.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the writer.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Writer) handleEvent(evt bus.Event) {
	userID, ok := evt.Payload.(string)
	if !ok {
		return
	}

	var online bool
	switch evt.Kind {
	case "presence.online":
		online = true
	case "presence.offline":
		online = false
	default:
		return
	}

	if err := w.db.SetPresence(userID, online); err != nil {
		w.logger.Error("failed to persist presence",
			zap.String("user_id", userID),
			zap.Bool("online", online),
			zap.Error(err))
	}
}
