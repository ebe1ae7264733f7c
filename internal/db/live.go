package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raphaelgruber/strand/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// Subscribe opens a realtime feed for one conversation. On every change
// it pushes the newest windowSize messages as a full window, not a
// delta; the consumer merges idempotently. The returned function tears
// the feed down; after it returns no further windows are delivered and
// the channel is closed.
//
// The underlying live query spans the message table, so a write in any
// conversation triggers a refresh of this one. Refreshes are filtered
// by conversation in the window query itself, and the downstream merge
// tolerates re-delivery, so the extra refreshes cost a query, never
// correctness.
func (c *Client) Subscribe(ctx context.Context, conversationID string, windowSize int) (<-chan []models.Message, func(), error) {
	liveID, err := surrealdb.Live(ctx, c.db, "message", false)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	notifications, err := c.db.LiveNotifications(liveID.String())
	if err != nil {
		_ = surrealdb.Kill(ctx, c.db, liveID.String())
		return nil, nil, fmt.Errorf("subscribe notifications: %w", err)
	}

	windows := make(chan []models.Message, 1)
	done := make(chan struct{})
	var once sync.Once

	unsubscribe := func() {
		once.Do(func() {
			close(done)
			killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := surrealdb.Kill(killCtx, c.db, liveID.String()); err != nil {
				c.logger.Warn("kill live query failed", "conversation", conversationID, "error", err)
			}
		})
	}

	push := func() {
		fetchCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		window, err := c.Window(fetchCtx, conversationID, windowSize)
		cancel()
		if err != nil {
			c.logger.Warn("window refresh failed", "conversation", conversationID, "error", err)
			return
		}
		// Coalesce: a newer window replaces an unconsumed one.
		for {
			select {
			case windows <- window:
				return
			default:
				select {
				case <-windows:
				default:
				}
			}
		}
	}

	go func() {
		defer close(windows)
		push()
		for {
			select {
			case <-done:
				return
			case _, ok := <-notifications:
				if !ok {
					c.logger.Warn("live notification channel closed", "conversation", conversationID)
					return
				}
				push()
			}
		}
	}()

	return windows, unsubscribe, nil
}
