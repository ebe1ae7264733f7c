package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/strand/internal/chat"
)

const (
	// pongWait must exceed pingInterval or healthy sockets get reaped.
	pingInterval = 10 * time.Second
	pongWait     = 30 * time.Second

	socketWriteTimeout = 10 * time.Second
	loadOlderTimeout   = 15 * time.Second
	maxFrameSize       = 64 << 10
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	userID := r.URL.Query().Get("user_id")
	if conversationID == "" || userID == "" {
		http.Error(w, "conversation_id and user_id are required", http.StatusBadRequest)
		return
	}

	// Attach before upgrading so failures map to plain HTTP statuses.
	sess, err := s.chat.Attach(r.Context(), conversationID, userID)
	if err != nil {
		http.Error(w, err.Error(), attachStatus(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.Close()
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	// run blocks for the socket's lifetime, so presence brackets it.
	s.socketOpened(userID)
	defer s.socketClosed(userID)

	// Short id to tell apart multiple sockets of the same user.
	socketID := uuid.New().String()[:8]
	sock := &socket{
		conn: conn,
		sess: sess,
		log:  s.log.With("socket_id", socketID, "conversation_id", conversationID, "user_id", userID),
		done: make(chan struct{}),
	}
	sock.run()
}

func attachStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrLoadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// socket binds one WebSocket connection to one chat session. Reads run
// on the handler goroutine, snapshot pushes and pings on their own.
type socket struct {
	conn *websocket.Conn
	sess *chat.Session
	log  *slog.Logger
	done chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

func (c *socket) run() {
	defer c.teardown()

	conv := c.sess.Conversation()
	hello := Event{
		Type:         EventHello,
		Conversation: &conv,
		UserID:       c.sess.UserID(),
		HasMore:      c.sess.HasMore(),
	}
	if err := c.writeEvent(hello); err != nil {
		return
	}

	go c.pumpSnapshots()
	go c.ping()

	c.readCommands()
}

func (c *socket) readCommands() {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("socket closed", "error", err)
			}
			return
		}

		if err := c.dispatch(cmd); err != nil {
			c.log.Warn("command failed", "op", cmd.Op, "error", err)
			if werr := c.writeEvent(Event{Type: EventError, Op: cmd.Op, Error: err.Error()}); werr != nil {
				return
			}
		}
	}
}

func (c *socket) dispatch(cmd Command) error {
	switch cmd.Op {
	case CmdSend:
		return c.sess.Send(cmd.Text)

	case CmdRetry:
		return c.sess.Retry(cmd.MessageID)

	case CmdLoadOlder:
		ctx, cancel := context.WithTimeout(context.Background(), loadOlderTimeout)
		defer cancel()
		if err := c.sess.LoadOlder(ctx); err != nil {
			return err
		}
		// An exhausted or empty page publishes no update; push the
		// current view so the client always sees the pager settle.
		return c.writeEvent(Event{
			Type:     EventSnapshot,
			Messages: c.sess.Snapshot(),
			HasMore:  c.sess.HasMore(),
		})

	case CmdVisible:
		c.sess.Visible(cmd.MessageID, cmd.Fraction)
		return nil

	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
}

func (c *socket) pumpSnapshots() {
	for view := range c.sess.Updates() {
		ev := Event{Type: EventSnapshot, Messages: view, HasMore: c.sess.HasMore()}
		if err := c.writeEvent(ev); err != nil {
			c.teardown()
			return
		}
	}
}

func (c *socket) ping() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(socketWriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.teardown()
				return
			}
		}
	}
}

func (c *socket) writeEvent(ev Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return c.conn.WriteJSON(ev)
}

func (c *socket) teardown() {
	c.once.Do(func() {
		close(c.done)
		c.sess.Close()
		_ = c.conn.Close()
	})
}
