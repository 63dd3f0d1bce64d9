package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced: "presence.online", "presence.offline",
// "chat.sent", "chat.read", "request.connected".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
