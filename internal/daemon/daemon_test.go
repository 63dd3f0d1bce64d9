package daemon

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/cashmate/cashmate/internal/bus"
	"github.com/cashmate/cashmate/internal/chat"
	"github.com/cashmate/cashmate/internal/home"
	"github.com/cashmate/cashmate/internal/lock"
	"github.com/cashmate/cashmate/internal/match"
	"github.com/cashmate/cashmate/internal/registry"
	"github.com/cashmate/cashmate/internal/server"
	"github.com/cashmate/cashmate/internal/store"
	"github.com/cashmate/cashmate/internal/ws"
)

func testStack(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	if err := home.EnsureDir(dir); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lk.Release() })

	db, err := store.Open(home.DBPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	reg := registry.New(b, logger)
	chatEngine := chat.NewEngine(db, reg, b, logger)
	matchEngine := match.NewEngine(db, reg, b, logger)
	hub := ws.NewHub(reg, chatEngine, []string{"*"}, logger)
	handlers := server.NewHandlers(db, matchEngine, logger)
	router := server.NewRouter(handlers, hub, nil, logger)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if userID != "" {
		url += "?userId=" + userID
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) ws.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return env
}

func writeEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(ws.Envelope{Event: event, Payload: raw})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// Full path through the HTTP surface and the websocket layer: two users
// connect, see each other's presence, and exchange a live message.
func TestRealtimeEndToEnd(t *testing.T) {
	ts := testStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := dialWS(t, ctx, ts, "alice")
	defer alice.Close(websocket.StatusNormalClosure, "")

	env := readEvent(t, ctx, alice)
	if env.Event != "online-users" {
		t.Fatalf("first event = %q, want online-users", env.Event)
	}
	var snapshot registry.OnlineUsers
	if err := json.Unmarshal(env.Payload, &snapshot); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Users) != 1 || snapshot.Users[0] != "alice" {
		t.Errorf("snapshot = %+v", snapshot)
	}

	bob := dialWS(t, ctx, ts, "bob")
	defer bob.Close(websocket.StatusNormalClosure, "")

	env = readEvent(t, ctx, bob)
	if env.Event != "online-users" {
		t.Fatalf("bob's first event = %q, want online-users", env.Event)
	}

	env = readEvent(t, ctx, alice)
	if env.Event != "user-online" {
		t.Fatalf("alice saw %q, want user-online", env.Event)
	}
	var p registry.Presence
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "bob" {
		t.Errorf("user-online payload = %+v", p)
	}

	writeEvent(t, ctx, bob, "send-message", ws.SendMessage{RecipientID: "alice", Message: "hey"})

	env = readEvent(t, ctx, alice)
	if env.Event != "new-message" {
		t.Fatalf("alice saw %q, want new-message", env.Event)
	}
	var nm chat.NewMessage
	if err := json.Unmarshal(env.Payload, &nm); err != nil {
		t.Fatal(err)
	}
	if nm.SenderID != "bob" || nm.Message != "hey" || nm.Status != store.MessageDelivered {
		t.Errorf("new-message payload = %+v", nm)
	}

	env = readEvent(t, ctx, bob)
	if env.Event != "message-sent" {
		t.Fatalf("bob saw %q, want message-sent", env.Event)
	}
	var ack ws.MessageSent
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != store.MessageDelivered {
		t.Errorf("ack status = %q, want delivered", ack.Status)
	}
}

func TestMissingUserIDRejected(t *testing.T) {
	ts := testStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, "")
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("read succeeded, want policy violation close")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want StatusPolicyViolation", got)
	}
}

// The fx dependency graph must resolve without running the daemon.
func TestFxModuleWiring(t *testing.T) {
	if err := fx.ValidateApp(Module(Params{Home: t.TempDir()})); err != nil {
		t.Fatalf("fx graph invalid: %v", err)
	}
}
