package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cashmate/cashmate/internal/match"
	"github.com/cashmate/cashmate/internal/store"
)

// Handlers exposes the REST handlers.
type Handlers struct {
	logger *zap.Logger
	db     *store.DB
	match  *match.Engine
}

// NewHandlers constructs the REST handler set.
func NewHandlers(db *store.DB, matchEngine *match.Engine, logger *zap.Logger) *Handlers {
	return &Handlers{
		logger: logger,
		db:     db,
		match:  matchEngine,
	}
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("health probe failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// messageView is a history entry with the recipient derived from the thread
// pair, since only the sender is stored per message.
type messageView struct {
	store.Message
	RecipientID string `json:"recipientId"`
}

type createMessageRequest struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
}

// createMessage persists a message without attempting live delivery; the
// recipient picks it up from history.
func (h *Handlers) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SenderID == "" || req.RecipientID == "" || req.Message == "" {
		respondError(w, http.StatusBadRequest, "senderId, recipientId and message are required")
		return
	}
	if req.SenderID == req.RecipientID {
		respondError(w, http.StatusBadRequest, "cannot message yourself")
		return
	}

	msg, err := h.db.AppendMessage(req.SenderID, req.RecipientID, req.Message)
	if err != nil {
		h.logger.Error("failed to store message", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	respondData(w, http.StatusCreated, messageView{Message: *msg, RecipientID: req.RecipientID})
}

func (h *Handlers) messageHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	otherID := r.PathValue("otherUserId")
	if userID == "" || otherID == "" {
		respondError(w, http.StatusBadRequest, "both user IDs are required")
		return
	}

	msgs, err := h.db.ThreadHistory(userID, otherID)
	if err != nil {
		h.logger.Error("failed to fetch history", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		recipient := userID
		if m.SenderID == userID {
			recipient = otherID
		}
		views = append(views, messageView{Message: m, RecipientID: recipient})
	}
	respondData(w, http.StatusOK, views)
}

type markReadRequest struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
}

// markMessagesRead flips every message authored by senderId in the pair's
// thread to read, on behalf of recipientId.
func (h *Handlers) markMessagesRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SenderID == "" || req.RecipientID == "" {
		respondError(w, http.StatusBadRequest, "senderId and recipientId are required")
		return
	}

	n, err := h.db.MarkThreadRead(req.RecipientID, req.SenderID)
	if err != nil {
		h.logger.Error("failed to mark messages read", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update messages")
		return
	}
	respondData(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("show_deleted") == "true"
	reqs, err := h.db.ListRequests(includeDeleted)
	if err != nil {
		h.logger.Error("failed to list cash requests", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch cash requests")
		return
	}
	respondData(w, http.StatusOK, reqs)
}

// requestHistory returns every cash request, deleted ones included.
func (h *Handlers) requestHistory(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.db.ListRequests(true)
	if err != nil {
		h.logger.Error("failed to fetch request history", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch request history")
		return
	}
	respondData(w, http.StatusOK, reqs)
}

func (h *Handlers) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.db.GetRequest(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "cash request not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch cash request", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch cash request")
		return
	}
	respondData(w, http.StatusOK, req)
}

type createRequestRequest struct {
	RequesterID string  `json:"requesterId"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason"`
}

func (h *Handlers) createRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequesterID == "" {
		respondError(w, http.StatusBadRequest, "requesterId is required")
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if _, err := h.db.GetUser(req.RequesterID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "requester not found")
			return
		}
		h.logger.Error("failed to look up requester", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create cash request")
		return
	}

	cr := &store.CashRequest{
		RequesterID: req.RequesterID,
		Amount:      req.Amount,
		Reason:      req.Reason,
	}
	if err := h.db.CreateRequest(cr); err != nil {
		h.logger.Error("failed to create cash request", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create cash request")
		return
	}
	respondData(w, http.StatusCreated, cr)
}

func (h *Handlers) deleteRequest(w http.ResponseWriter, r *http.Request) {
	err := h.db.SoftDeleteRequest(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "cash request not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete cash request", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete cash request")
		return
	}
	respondMessage(w, http.StatusOK, "cash request deleted")
}

type connectRequest struct {
	UserID       string `json:"userId"`
	TargetUserID string `json:"targetUserId"`
	RequestID    string `json:"requestId"`
}

func (h *Handlers) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.TargetUserID == "" || req.RequestID == "" {
		respondError(w, http.StatusBadRequest, "userId, targetUserId and requestId are required")
		return
	}
	if _, err := uuid.Parse(req.RequestID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request ID")
		return
	}

	updated, err := h.match.Connect(req.UserID, req.TargetUserID, req.RequestID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "user or cash request not found")
		return
	case errors.Is(err, store.ErrAlreadyConnected):
		respondError(w, http.StatusConflict, "This request is already connected with another user")
		return
	case err != nil:
		h.logger.Error("connect failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to connect users")
		return
	}
	respondData(w, http.StatusOK, updated)
}

func (h *Handlers) listConnections(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if _, err := h.db.GetUser(userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("failed to look up user", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch connections")
		return
	}

	peerIDs, err := h.db.ListConnections(userID)
	if err != nil {
		h.logger.Error("failed to list connections", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch connections")
		return
	}

	peers := make([]store.User, 0, len(peerIDs))
	for _, id := range peerIDs {
		u, err := h.db.GetUser(id)
		if err != nil {
			// Connection rows outliving their user are skipped, not fatal.
			continue
		}
		peers = append(peers, *u)
	}
	respondData(w, http.StatusOK, peers)
}

type createUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Phone == "" {
		respondError(w, http.StatusBadRequest, "name and phone are required")
		return
	}

	u := &store.User{ID: req.ID, Name: req.Name, Phone: req.Phone}
	if err := h.db.CreateUser(u); err != nil {
		h.logger.Error("failed to create user", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	respondData(w, http.StatusCreated, u)
}

func (h *Handlers) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.db.GetUser(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch user", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}
	respondData(w, http.StatusOK, u)
}
