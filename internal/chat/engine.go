// Package chat implements the message delivery engine: persist first, then
// attempt live delivery to the recipient's transport if one is registered.
package chat

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cashmate/cashmate/internal/bus"
	"github.com/cashmate/cashmate/internal/registry"
	"github.com/cashmate/cashmate/internal/store"
)

// NewMessage is the payload pushed to a live recipient.
type NewMessage struct {
	MessageID   string `json:"messageId"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	Status      string `json:"status"`
}

// ReadReceipt notifies the original author that their messages were read.
type ReadReceipt struct {
	By        string `json:"by"`
	Timestamp int64  `json:"timestamp"`
}

// Engine persists chat messages and pushes them to live recipients.
type Engine struct {
	db       *store.DB
	registry *registry.Registry
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewEngine creates a new chat delivery engine.
func NewEngine(db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		registry: reg,
		bus:      b,
		logger:   logger,
	}
}

// Send persists a message with status 'sent' and, when the recipient has a
// live transport, pushes it and upgrades the status to 'delivered'. A failed
// push is not retried and does not roll anything back: the message stays
// 'sent' and the recipient picks it up from history on next connect. The
// returned message carries the final status.
func (e *Engine) Send(senderID, recipientID, body string) (*store.Message, error) {
	msg, err := e.db.AppendMessage(senderID, recipientID, body)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if t, ok := e.registry.Lookup(recipientID); ok {
		push := NewMessage{
			MessageID:   msg.ID,
			SenderID:    senderID,
			RecipientID: recipientID,
			Message:     msg.Body,
			Timestamp:   msg.Timestamp,
			Status:      store.MessageDelivered,
		}
		if err := t.Send("new-message", push); err != nil {
			e.logger.Warn("live delivery failed, message stays sent",
				zap.String("message_id", msg.ID),
				zap.String("recipient_id", recipientID),
				zap.Error(err))
		} else if err := e.db.UpdateMessageStatus(msg.ID, store.MessageDelivered); err != nil {
			e.logger.Error("failed to upgrade message status",
				zap.String("message_id", msg.ID), zap.Error(err))
		} else {
			msg.Status = store.MessageDelivered
		}
	}

	e.bus.Publish(bus.NewEvent("chat.sent", map[string]string{
		"message_id": msg.ID,
		"sender_id":  senderID,
		"status":     msg.Status,
	}))

	return msg, nil
}

// MarkRead flips every message authored by authorID in the reader/author
// thread to 'read' and, when the author is live, pushes a read receipt.
func (e *Engine) MarkRead(readerID, authorID string) error {
	n, err := e.db.MarkThreadRead(readerID, authorID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n == 0 {
		return nil
	}

	if t, ok := e.registry.Lookup(authorID); ok {
		receipt := ReadReceipt{By: readerID, Timestamp: time.Now().UnixMilli()}
		if err := t.Send("messages-read", receipt); err != nil {
			e.logger.Warn("read receipt push failed",
				zap.String("author_id", authorID), zap.Error(err))
		}
	}

	e.bus.Publish(bus.NewEvent("chat.read", map[string]any{
		"reader_id": readerID,
		"author_id": authorID,
		"count":     n,
	}))
	return nil
}

// History returns all messages between two users in append order. An empty
// slice, not an error, when the pair has no thread yet.
func (e *Engine) History(a, b string) ([]store.Message, error) {
	return e.db.ThreadHistory(a, b)
}
