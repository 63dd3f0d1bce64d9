package registry

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cashmate/cashmate/internal/bus"
)

// fakeTransport records pushed events and can be flipped dead.
type fakeTransport struct {
	mu     sync.Mutex
	events []string
	alive  bool
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{alive: true}
}

func (f *fakeTransport) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeTransport) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.alive = false
}

func (f *fakeTransport) received(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestRegistry() (*Registry, *bus.Bus) {
	b := bus.New()
	return New(b, zap.NewNop()), b
}

func TestRegisterAndLookup(t *testing.T) {
	r, _ := newTestRegistry()
	tr := newFakeTransport()

	r.Register("a", tr)

	got, ok := r.Lookup("a")
	if !ok || got != Transport(tr) {
		t.Fatal("Lookup() did not return the registered transport")
	}

	_, ok = r.Lookup("b")
	if ok {
		t.Error("Lookup() found unregistered user")
	}
}

// Last-connect-wins: re-registering replaces the previous transport and
// closes it.
func TestRegisterReplacesPrevious(t *testing.T) {
	r, _ := newTestRegistry()
	t1 := newFakeTransport()
	t2 := newFakeTransport()

	r.Register("a", t1)
	r.Register("a", t2)

	got, ok := r.Lookup("a")
	if !ok || got != Transport(t2) {
		t.Fatal("Lookup() should return the newest transport")
	}
	if !t1.closed {
		t.Error("displaced transport was not closed")
	}

	// A late disconnect of the displaced transport must not evict t2.
	r.Unregister("a", t1)
	if _, ok := r.Lookup("a"); !ok {
		t.Error("stale Unregister() evicted the current transport")
	}

	r.Unregister("a", t2)
	if _, ok := r.Lookup("a"); ok {
		t.Error("current transport still registered after Unregister()")
	}
}

func TestPresenceBroadcastExcludesSelf(t *testing.T) {
	r, _ := newTestRegistry()
	ta := newFakeTransport()
	tb := newFakeTransport()

	r.Register("a", ta)
	r.Register("b", tb)

	// a was already registered, so it hears about b coming online; b does
	// not hear about itself.
	if n := ta.received("user-online"); n != 1 {
		t.Errorf("a received %d user-online events, want 1", n)
	}
	if n := tb.received("user-online"); n != 0 {
		t.Errorf("b received %d user-online events about itself, want 0", n)
	}

	r.Unregister("b", tb)
	if n := ta.received("user-offline"); n != 1 {
		t.Errorf("a received %d user-offline events, want 1", n)
	}
}

func TestOnlineSnapshot(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register("a", newFakeTransport())
	r.Register("b", newFakeTransport())

	users := r.Online()
	if len(users) != 2 {
		t.Fatalf("Online() = %v, want 2 users", users)
	}
	seen := map[string]bool{}
	for _, u := range users {
		seen[u] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("Online() = %v, want a and b", users)
	}
}

func TestBroadcastExcept(t *testing.T) {
	r, _ := newTestRegistry()
	ta := newFakeTransport()
	tb := newFakeTransport()
	tc := newFakeTransport()
	r.Register("a", ta)
	r.Register("b", tb)
	r.Register("c", tc)

	r.BroadcastExcept("a", "request-connected", nil)

	if n := ta.received("request-connected"); n != 0 {
		t.Errorf("a received %d, want 0", n)
	}
	if tb.received("request-connected") != 1 || tc.received("request-connected") != 1 {
		t.Error("b and c should each receive the broadcast once")
	}
}

func TestSweepEvictsDeadTransports(t *testing.T) {
	r, b := newTestRegistry()
	ch, unsub := b.Subscribe("presence.", 16)
	defer unsub()

	ta := newFakeTransport()
	tb := newFakeTransport()
	r.Register("a", ta)
	r.Register("b", tb)

	// Drain the register events.
	<-ch
	<-ch

	tb.Close() // simulate a missed disconnect
	r.sweep()

	if _, ok := r.Lookup("b"); ok {
		t.Error("dead transport not evicted")
	}
	if _, ok := r.Lookup("a"); !ok {
		t.Error("live transport evicted")
	}
	if n := ta.received("user-offline"); n != 1 {
		t.Errorf("a received %d user-offline events, want 1", n)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "presence.offline" || evt.Payload.(string) != "b" {
			t.Errorf("bus event = %+v, want presence.offline for b", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for presence.offline bus event")
	}
}

func TestRegisterUnregisterChurn(t *testing.T) {
	r, _ := newTestRegistry()

	var last *fakeTransport
	for i := 0; i < 10; i++ {
		tr := newFakeTransport()
		r.Register("a", tr)
		if last != nil {
			r.Unregister("a", last) // stale, must be ignored
		}
		last = tr
	}

	got, ok := r.Lookup("a")
	if !ok || got != Transport(last) {
		t.Fatal("Lookup() should reflect only the most recent transport")
	}

	r.Unregister("a", last)
	if _, ok := r.Lookup("a"); ok {
		t.Error("user still registered after final Unregister()")
	}
}
