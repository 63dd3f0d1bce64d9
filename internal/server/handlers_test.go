package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/cashmate/cashmate/internal/bus"
	"github.com/cashmate/cashmate/internal/match"
	"github.com/cashmate/cashmate/internal/registry"
	"github.com/cashmate/cashmate/internal/store"
)

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func testRouter(t *testing.T) (http.Handler, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	reg := registry.New(b, zap.NewNop())
	matchEngine := match.NewEngine(db, reg, b, zap.NewNop())
	handlers := NewHandlers(db, matchEngine, zap.NewNop())
	return NewRouter(handlers, nil, nil, zap.NewNop()), db
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env apiEnvelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func seedUser(t *testing.T, db *store.DB, id string) {
	t.Helper()
	if err := db.CreateUser(&store.User{ID: id, Name: id, Phone: "p-" + id}); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	h, _ := testRouter(t)
	rec, _ := do(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateAndGetUser(t *testing.T) {
	h, _ := testRouter(t)

	rec, env := do(t, h, http.MethodPost, "/users", map[string]string{"name": "Alice", "phone": "111"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, env.Message)
	}
	var u store.User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatal(err)
	}
	if u.ID == "" {
		t.Error("created user has no generated ID")
	}

	rec, env = do(t, h, http.MethodGet, "/users/"+u.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec, _ = do(t, h, http.MethodGet, "/users/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}
}

func TestCreateMessageAndHistory(t *testing.T) {
	h, _ := testRouter(t)

	rec, _ := do(t, h, http.MethodPost, "/messages", map[string]string{
		"senderId": "alice", "recipientId": "bob", "message": "hello",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	rec, _ = do(t, h, http.MethodPost, "/messages", map[string]string{
		"senderId": "bob", "recipientId": "alice", "message": "hi back",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	rec, env := do(t, h, http.MethodGet, "/messages/alice/bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var msgs []messageView
	if err := json.Unmarshal(env.Data, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	// recipientId is derived: the participant who is not the sender.
	if msgs[0].SenderID != "alice" || msgs[0].RecipientID != "bob" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].SenderID != "bob" || msgs[1].RecipientID != "alice" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
}

func TestMessageHistoryEmpty(t *testing.T) {
	h, _ := testRouter(t)
	rec, env := do(t, h, http.MethodGet, "/messages/a/b", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var msgs []messageView
	if err := json.Unmarshal(env.Data, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("history = %v, want empty array", msgs)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	h, _ := testRouter(t)

	rec, _ := do(t, h, http.MethodPost, "/messages", map[string]string{"senderId": "a"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing fields status = %d, want 400", rec.Code)
	}

	rec, _ = do(t, h, http.MethodPost, "/messages", map[string]string{
		"senderId": "a", "recipientId": "a", "message": "hi",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self message status = %d, want 400", rec.Code)
	}
}

func TestMarkMessagesRead(t *testing.T) {
	h, db := testRouter(t)

	if _, err := db.AppendMessage("alice", "bob", "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendMessage("alice", "bob", "two"); err != nil {
		t.Fatal(err)
	}

	rec, env := do(t, h, http.MethodPut, "/messages/read", map[string]string{
		"senderId": "alice", "recipientId": "bob",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result map[string]int64
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatal(err)
	}
	if result["updated"] != 2 {
		t.Errorf("updated = %d, want 2", result["updated"])
	}
}

func TestCashRequestLifecycle(t *testing.T) {
	h, db := testRouter(t)
	seedUser(t, db, "requester")

	rec, env := do(t, h, http.MethodPost, "/cash-requests", map[string]any{
		"requesterId": "requester", "amount": 300.0, "reason": "rent",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, env.Message)
	}
	var cr store.CashRequest
	if err := json.Unmarshal(env.Data, &cr); err != nil {
		t.Fatal(err)
	}
	if cr.Status != store.RequestPending {
		t.Errorf("status = %q, want pending", cr.Status)
	}

	rec, _ = do(t, h, http.MethodGet, "/cash-requests/"+cr.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec, _ = do(t, h, http.MethodDelete, "/cash-requests/"+cr.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	// Deleted requests drop out of the default listing but stay in history.
	_, env = do(t, h, http.MethodGet, "/cash-requests", nil)
	var listed []store.CashRequest
	if err := json.Unmarshal(env.Data, &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Errorf("default listing = %v, want empty", listed)
	}

	_, env = do(t, h, http.MethodGet, "/cash-requests/history", nil)
	if err := json.Unmarshal(env.Data, &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Errorf("history length = %d, want 1", len(listed))
	}
}

func TestCreateRequestValidation(t *testing.T) {
	h, db := testRouter(t)
	seedUser(t, db, "requester")

	rec, _ := do(t, h, http.MethodPost, "/cash-requests", map[string]any{
		"requesterId": "requester", "amount": -5.0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount status = %d, want 400", rec.Code)
	}

	rec, _ = do(t, h, http.MethodPost, "/cash-requests", map[string]any{
		"requesterId": "ghost", "amount": 10.0,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown requester status = %d, want 404", rec.Code)
	}
}

func TestConnect(t *testing.T) {
	h, db := testRouter(t)
	seedUser(t, db, "helper")
	seedUser(t, db, "requester")

	cr := &store.CashRequest{RequesterID: "requester", Amount: 150}
	if err := db.CreateRequest(cr); err != nil {
		t.Fatal(err)
	}

	body := map[string]string{
		"userId": "helper", "targetUserId": "requester", "requestId": cr.ID,
	}
	rec, env := do(t, h, http.MethodPost, "/connections/connect", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d: %s", rec.Code, env.Message)
	}

	// A second taker hits the conflict path.
	body["userId"] = "helper"
	rec, env = do(t, h, http.MethodPost, "/connections/connect", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("repeat connect status = %d, want 409", rec.Code)
	}
	if env.Message != "This request is already connected with another user" {
		t.Errorf("conflict message = %q", env.Message)
	}

	rec, _ = do(t, h, http.MethodPost, "/connections/connect", map[string]string{
		"userId": "helper", "targetUserId": "requester", "requestId": "not-a-uuid",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid ID status = %d, want 400", rec.Code)
	}
}

func TestListConnections(t *testing.T) {
	h, db := testRouter(t)
	seedUser(t, db, "a")
	seedUser(t, db, "b")
	if err := db.AddConnection("a", "b"); err != nil {
		t.Fatal(err)
	}

	rec, env := do(t, h, http.MethodGet, "/connections/a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var peers []store.User
	if err := json.Unmarshal(env.Data, &peers); err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0].ID != "b" {
		t.Errorf("peers = %+v", peers)
	}

	rec, _ = do(t, h, http.MethodGet, "/connections/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}
}
