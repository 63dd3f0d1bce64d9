package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	b.Publish(Event{Kind: "presence.online", Timestamp: time.Now(), Payload: "user-1"})

	select {
	case evt := <-ch:
		if evt.Kind != "presence.online" {
			t.Errorf("got kind %q, want presence.online", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(Event{Kind: "presence.online"})
	b.Publish(Event{Kind: "chat.sent"})

	select {
	case evt := <-ch:
		if evt.Kind != "chat.sent" {
			t.Errorf("got kind %q, want chat.sent", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure presence event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("request.", 10)
	unsub()

	b.Publish(Event{Kind: "request.connected"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestNewEventStampsTimestamp(t *testing.T) {
	evt := NewEvent("chat.sent", nil)
	if evt.Timestamp.IsZero() {
		t.Error("NewEvent() left Timestamp zero")
	}
}

// The bus constructor and the event constructor must coexist; both are used
// by every engine.
func TestPublishConstructedEvent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(NewEvent("chat.sent", "m1"))

	select {
	case evt := <-ch:
		if evt.Kind != "chat.sent" || evt.Payload != "m1" {
			t.Errorf("got %+v", evt)
		}
		if evt.Timestamp.IsZero() {
			t.Error("published event missing timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}
