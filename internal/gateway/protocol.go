// Package gateway exposes chat sessions over WebSocket plus a small
// REST surface for conversations, health and metrics.
package gateway

import "github.com/raphaelgruber/strand/internal/models"

// Command ops accepted on the chat socket.
const (
	CmdSend      = "send"
	CmdRetry     = "retry"
	CmdLoadOlder = "load_older"
	CmdVisible   = "visible"
)

// Event types pushed to the client.
const (
	EventHello    = "hello"
	EventSnapshot = "snapshot"
	EventError    = "error"
)

// Command is a client-to-server frame on the chat socket.
type Command struct {
	Op        string  `json:"op"`
	Text      string  `json:"text,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
	Fraction  float64 `json:"fraction,omitempty"`
}

// Event is a server-to-client frame on the chat socket. Hello carries
// the conversation and viewer, snapshot the full canonical view, error
// the op that failed. Failed commands never tear the socket down.
type Event struct {
	Type         string               `json:"type"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
	UserID       string               `json:"user_id,omitempty"`
	Messages     []models.Message     `json:"messages,omitempty"`
	HasMore      bool                 `json:"has_more,omitempty"`
	Op           string               `json:"op,omitempty"`
	Error        string               `json:"error,omitempty"`
}
