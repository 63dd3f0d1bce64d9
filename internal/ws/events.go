package ws

import "encoding/json"

// Envelope is the wire format for every event in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound payloads.

// SendMessage asks the daemon to deliver a chat message.
type SendMessage struct {
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
}

// MarkRead flips every message from senderId in the shared thread to read.
type MarkRead struct {
	SenderID string `json:"senderId"`
}

// ConnectionRequest is a point-to-point cash request notification.
type ConnectionRequest struct {
	RecipientID        string  `json:"recipientId"`
	SenderName         string  `json:"senderName,omitempty"`
	Amount             float64 `json:"amount,omitempty"`
	RequestID          string  `json:"requestId,omitempty"`
	DeliveryPreference string  `json:"deliveryPreference,omitempty"`
}

// AcceptConnection notifies the original requester that their request was
// accepted.
type AcceptConnection struct {
	RequesterID string  `json:"requesterId"`
	SenderName  string  `json:"senderName,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	RequestID   string  `json:"requestId,omitempty"`
}

// TypingStatus signals that the sender started or stopped typing.
type TypingStatus struct {
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

// Outbound payloads.

// MessageSent acknowledges a send-message back to its sender with the final
// delivery status.
type MessageSent struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// ConnectionRequestForward is the connection-request as seen by the recipient.
type ConnectionRequestForward struct {
	FromUserID         string  `json:"fromUserId"`
	SenderName         string  `json:"senderName,omitempty"`
	Amount             float64 `json:"amount,omitempty"`
	RequestID          string  `json:"requestId,omitempty"`
	DeliveryPreference string  `json:"deliveryPreference,omitempty"`
}

// RequestSent acknowledges a forwarded connection-request.
type RequestSent struct {
	RecipientID string `json:"recipientId"`
	Timestamp   string `json:"timestamp"`
}

// ConnectionAccepted is the acceptance as seen by the original requester.
type ConnectionAccepted struct {
	FromUserID string  `json:"fromUserId"`
	SenderName string  `json:"senderName,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	RequestID  string  `json:"requestId,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// UserTyping is the typing indicator as seen by the recipient.
type UserTyping struct {
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp string `json:"timestamp"`
}

// ErrorEvent reports a failure to the peer that caused it.
type ErrorEvent struct {
	Code        string `json:"code,omitempty"`
	Error       string `json:"error"`
	RecipientID string `json:"recipientId,omitempty"`
	RequesterID string `json:"requesterId,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}
