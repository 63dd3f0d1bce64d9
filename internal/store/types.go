package store

// CashRequest statuses. A request is connectable only while pending.
const (
	RequestPending   = "pending"
	RequestConnected = "connected"
	RequestFulfilled = "fulfilled"
	RequestCancelled = "cancelled"
)

// Message delivery statuses.
const (
	MessageSent      = "sent"      // persisted only
	MessageDelivered = "delivered" // pushed to a live recipient
	MessageRead      = "read"      // recipient acknowledged
)

// User represents a registered CashMate user. The online flag is advisory:
// it reflects the last persisted presence write, not live reachability.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"`
}

// CashRequest represents a broadcast cash request.
type CashRequest struct {
	ID          string  `json:"id"`
	RequesterID string  `json:"requesterId"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason"`
	Status      string  `json:"status"`
	ConnectedTo string  `json:"connectedTo,omitempty"`
	Deleted     bool    `json:"deleted"`
	CreatedAt   int64   `json:"createdAt"`
}

// Thread holds the chat between exactly one unordered pair of users,
// addressed by the sorted participant pair.
type Thread struct {
	ID            int64
	ParticipantLo string
	ParticipantHi string
	LastUpdated   int64
}

// Message is one chat message inside a thread.
type Message struct {
	ID        string `json:"messageId"`
	ThreadID  int64  `json:"-"`
	SenderID  string `json:"senderId"`
	Body      string `json:"message"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
