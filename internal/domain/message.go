package domain

import (
	"encoding/json"
	"time"
)

// Sender identifies who created a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// DeliveryStatus tracks the remote round-trip state of a user message.
// Bot messages and history fetched from the remote service are always
// StatusConfirmed.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusConfirmed DeliveryStatus = "confirmed"
	StatusFailed    DeliveryStatus = "failed"
)

// Message is a single chat message. The ID is assigned by the creator
// (client for user messages, remote service for bot messages) and is
// never reassigned; (ConversationID, ID) is unique in the store.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Sender         Sender          `json:"sender"`
	Text           string          `json:"text"`
	Kind           string          `json:"kind,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         DeliveryStatus  `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}
