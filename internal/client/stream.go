package client

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/strand/internal/gateway"
	"github.com/raphaelgruber/strand/internal/models"
)

const (
	handshakeTimeout    = 10 * time.Second
	commandWriteTimeout = 10 * time.Second
)

// ChatStream is a live chat session over the gateway socket. Events()
// carries snapshot and error frames; the hello frame is consumed during
// OpenChat and exposed through accessors.
type ChatStream struct {
	conn   *websocket.Conn
	hello  gateway.Event
	events chan gateway.Event

	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
}

// OpenChat attaches to a conversation and returns the live stream.
func (c *Client) OpenChat(ctx context.Context, conversationID, userID string) (*ChatStream, error) {
	if conversationID == "" || userID == "" {
		return nil, fmt.Errorf("conversation id and user id are required")
	}

	endpoint := c.wsURL("/ws") +
		"?conversation_id=" + url.QueryEscape(conversationID) +
		"&user_id=" + url.QueryEscape(userID)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("connect chat: %s - %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("connect chat: %w", err)
	}

	var hello gateway.Event
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != gateway.EventHello || hello.Conversation == nil {
		conn.Close()
		return nil, fmt.Errorf("expected hello frame, got %q", hello.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &ChatStream{
		conn:   conn,
		hello:  hello,
		events: make(chan gateway.Event, 16),
	}
	go s.readLoop()
	return s, nil
}

// wsURL converts the HTTP base URL to a WebSocket endpoint.
func (c *Client) wsURL(path string) string {
	endpoint := strings.Replace(c.baseURL, "http://", "ws://", 1)
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	return endpoint + path
}

// Conversation returns the conversation from the hello frame.
func (s *ChatStream) Conversation() models.Conversation {
	return *s.hello.Conversation
}

// UserID returns the viewing user.
func (s *ChatStream) UserID() string {
	return s.hello.UserID
}

// HasMore reports whether older history was available at attach time.
// Later snapshot frames carry the current value.
func (s *ChatStream) HasMore() bool {
	return s.hello.HasMore
}

// Events returns the stream of snapshot and error frames. The channel
// closes when the socket does.
func (s *ChatStream) Events() <-chan gateway.Event {
	return s.events
}

// Send submits a new message.
func (s *ChatStream) Send(text string) error {
	return s.writeCommand(gateway.Command{Op: gateway.CmdSend, Text: text})
}

// Retry re-submits a failed message.
func (s *ChatStream) Retry(messageID string) error {
	return s.writeCommand(gateway.Command{Op: gateway.CmdRetry, MessageID: messageID})
}

// LoadOlder requests the next page of history.
func (s *ChatStream) LoadOlder() error {
	return s.writeCommand(gateway.Command{Op: gateway.CmdLoadOlder})
}

// Visible reports how much of a message is on screen.
func (s *ChatStream) Visible(messageID string, fraction float64) error {
	return s.writeCommand(gateway.Command{Op: gateway.CmdVisible, MessageID: messageID, Fraction: fraction})
}

func (s *ChatStream) writeCommand(cmd gateway.Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(commandWriteTimeout))
	if err := s.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Op, err)
	}
	return nil
}

// Close shuts the socket down. Safe to call more than once.
func (s *ChatStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return s.conn.Close()
}

func (s *ChatStream) readLoop() {
	defer close(s.events)
	for {
		var ev gateway.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			return
		}
		s.events <- ev
	}
}
