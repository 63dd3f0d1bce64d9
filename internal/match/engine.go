// Package match mediates the pending→connected transition of a cash request.
package match

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cashmate/cashmate/internal/bus"
	"github.com/cashmate/cashmate/internal/registry"
	"github.com/cashmate/cashmate/internal/store"
)

// ConnectedUsers names the two parties bound by a connect.
type ConnectedUsers struct {
	UserID       string `json:"userId"`
	TargetUserID string `json:"targetUserId"`
}

// RequestConnected is broadcast to every live transport when a request is
// claimed, so browsing clients can drop the now-unavailable request.
type RequestConnected struct {
	RequestID      string             `json:"requestId"`
	ConnectedUsers ConnectedUsers     `json:"connectedUsers"`
	Request        *store.CashRequest `json:"request"`
}

// Engine transitions cash requests to connected and maintains the mutual
// connection lists.
type Engine struct {
	db       *store.DB
	registry *registry.Registry
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewEngine creates a new matching engine.
func NewEngine(db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		registry: reg,
		bus:      b,
		logger:   logger,
	}
}

// Connect binds a pending cash request to the initiator. Exactly one of any
// set of concurrent callers succeeds; the rest observe ErrAlreadyConnected.
// Both parties are added to each other's connection list (idempotent), and
// the updated request is broadcast to all live transports.
//
// The soft-delete flag is deliberately not checked here: filtering deleted
// requests out of the selectable pool is the listing boundary's job.
func (e *Engine) Connect(initiatorID, targetID, requestID string) (*store.CashRequest, error) {
	if _, err := e.db.GetUser(initiatorID); err != nil {
		return nil, fmt.Errorf("initiator: %w", err)
	}
	if _, err := e.db.GetUser(targetID); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	req, err := e.db.ConnectRequest(requestID, initiatorID)
	if err != nil {
		return nil, err
	}

	if err := e.db.AddConnection(initiatorID, targetID); err != nil {
		// The request is already bound; surface the failure rather than
		// pretending the connection lists were updated.
		return nil, fmt.Errorf("add connection: %w", err)
	}

	e.logger.Info("request connected",
		zap.String("request_id", requestID),
		zap.String("initiator_id", initiatorID),
		zap.String("target_id", targetID))

	payload := RequestConnected{
		RequestID: requestID,
		ConnectedUsers: ConnectedUsers{
			UserID:       initiatorID,
			TargetUserID: targetID,
		},
		Request: req,
	}
	e.registry.Broadcast("request-connected", payload)
	e.bus.Publish(bus.NewEvent("request.connected", payload))

	return req, nil
}
