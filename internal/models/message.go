package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a message.
type Status string

// Message lifecycle states. A message starts as "sending" (locally or
// store-side before any recipient device acknowledged it), moves to
// "delivered" once a recipient acknowledged receipt, and to "read" once
// every non-sender participant has read it. "failed" only ever exists
// client-side, on an optimistic entry whose write was rejected.
const (
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// TempIDPrefix marks client-generated message ids. A temporary id is
// internal bookkeeping for an in-flight send; it never appears in store
// queries or acknowledgement writes.
const TempIDPrefix = "tmp-"

// NewTempID returns a fresh temporary message id.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// Message is a single chat message, either confirmed by the store or
// still optimistic (client-authored, unconfirmed).
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Text           string         `json:"text"`
	Status         Status         `json:"status"`
	ReadBy         []string       `json:"read_by,omitempty"`
	SentAt         time.Time      `json:"sent_at,omitzero"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Temporary reports whether the message carries a client-generated id,
// i.e. it is an optimistic entry not yet confirmed by the store.
func (m Message) Temporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Resolved reports whether the store has stamped the message's send
// time. Confirmed messages read from a stale cache can arrive before
// the server clock resolves; such messages must not be merged yet.
func (m Message) Resolved() bool {
	return !m.SentAt.IsZero()
}

// ReadByUser reports whether userID appears in the read set.
func (m Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Metadata keys written by the auto-reply subsystem. Everything else in
// Metadata is opaque to the sync engine.
const (
	MetaAutoReply     = "autoReply"     // bool on the generated reply
	MetaAutoReplyTo   = "autoReplyTo"   // trigger message id on the reply
	MetaAutoReplySent = "autoReplySent" // bool on the trigger message
	MetaAutoReplyID   = "autoReplyID"   // reply message id on the trigger
)

// IsAutoReply reports whether the message was generated by the
// auto-reply subsystem rather than typed by a participant.
func (m Message) IsAutoReply() bool {
	v, ok := m.Metadata[MetaAutoReply].(bool)
	return ok && v
}
