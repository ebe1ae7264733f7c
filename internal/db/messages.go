// Package db provides SurrealDB query functions for message operations.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/strand/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// messageRow mirrors a message table document.
type messageRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	SenderID       string                 `json:"sender_id"`
	Text           string                 `json:"text"`
	Status         string                 `json:"status"`
	ReadBy         []string               `json:"read_by"`
	SentAt         time.Time              `json:"sent_at"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
}

func (r messageRow) toMessage() models.Message {
	return models.Message{
		ID:             models.MustRecordIDString(r.ID),
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Text:           r.Text,
		Status:         models.Status(r.Status),
		ReadBy:         r.ReadBy,
		SentAt:         r.SentAt,
		Metadata:       r.Metadata,
	}
}

func rowsToMessages(rows []messageRow) []models.Message {
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMessage())
	}
	return out
}

// Append persists a new message and returns the confirmed copy with its
// store-assigned id and server-stamped send time. The message's status
// and send time are set by the store; whatever the caller put there is
// ignored.
func (c *Client) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	defer c.observe(time.Now())

	// Ensure metadata is not nil
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	results, err := surrealdb.Query[[]messageRow](ctx, c.db, `
		CREATE message CONTENT {
			conversation_id: $conversation,
			sender_id: $sender,
			text: $text,
			read_by: [$sender],
			metadata: $metadata
		} RETURN AFTER
	`, map[string]any{
		"conversation": msg.ConversationID,
		"sender":       msg.SenderID,
		"text":         msg.Text,
		"metadata":     metadata,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Message{}, fmt.Errorf("append message: empty result")
	}

	// Bump conversation activity; best-effort, the message is already in.
	if err := c.TouchConversation(ctx, msg.ConversationID); err != nil {
		c.logger.Warn("touch conversation failed", "conversation", msg.ConversationID, "error", err)
	}

	return (*results)[0].Result[0].toMessage(), nil
}

// Window returns the newest n messages of a conversation in ascending
// send-time order.
func (c *Client) Window(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]messageRow](ctx, c.db, `
		SELECT * FROM message
		WHERE conversation_id = $conversation
		ORDER BY sent_at DESC, id DESC
		LIMIT $limit
	`, map[string]any{
		"conversation": conversationID,
		"limit":        n,
	})
	if err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Message{}, nil
	}
	msgs := rowsToMessages((*results)[0].Result)
	reverse(msgs)
	return msgs, nil
}

// Page loads one page of history ending just before the position encoded
// in cursor. An empty cursor loads the newest page. Messages come back
// oldest to newest within the page; nextCursor points at the page's
// oldest message and hasMore is false once the store ran short.
func (c *Client) Page(ctx context.Context, conversationID string, pageSize int, cursor string) ([]models.Message, string, bool, error) {
	defer c.observe(time.Now())

	sql := `
		SELECT * FROM message
		WHERE conversation_id = $conversation
		ORDER BY sent_at DESC, id DESC
		LIMIT $limit
	`
	vars := map[string]any{
		"conversation": conversationID,
		"limit":        pageSize,
	}

	if cursor != "" {
		boundary, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", false, fmt.Errorf("page: %w", err)
		}
		sql = `
			SELECT * FROM message
			WHERE conversation_id = $conversation
			AND (sent_at < $before
				OR (sent_at = $before AND id < type::record("message", $before_id)))
			ORDER BY sent_at DESC, id DESC
			LIMIT $limit
		`
		vars["before"] = boundary.SentAt
		vars["before_id"] = boundary.ID
	}

	results, err := surrealdb.Query[[]messageRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, "", false, fmt.Errorf("page: %w", err)
	}

	var rows []messageRow
	if results != nil && len(*results) > 0 {
		rows = (*results)[0].Result
	}

	hasMore := len(rows) == pageSize
	nextCursor := ""
	if len(rows) > 0 {
		oldest := rows[len(rows)-1]
		nextCursor = encodeCursor(pageCursor{
			SentAt: oldest.SentAt,
			ID:     models.MustRecordIDString(oldest.ID),
		})
	}

	msgs := rowsToMessages(rows)
	reverse(msgs)
	return msgs, nextCursor, hasMore, nil
}

// MarkDelivered advances a message from "sending" to "delivered".
// Idempotent: a message already delivered or read is left alone.
func (c *Client) MarkDelivered(ctx context.Context, conversationID, messageID string) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("message", $id)
		SET status = "delivered"
		WHERE conversation_id = $conversation AND status = "sending"
	`, map[string]any{
		"id":           messageID,
		"conversation": conversationID,
	})
	if err != nil {
		return fmt.Errorf("mark delivered: %w", wrapQueryError(err))
	}
	return nil
}

// MarkRead adds userID to the message's read set and advances status to
// "read" once every non-sender participant has read it. Idempotent.
func (c *Client) MarkRead(ctx context.Context, conversationID, messageID, userID string) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		LET $conv = (SELECT participant_ids FROM ONLY type::record("conversation", $conversation));
		UPDATE type::record("message", $id)
		SET read_by = array::union(read_by, [$user])
		WHERE conversation_id = $conversation;
		UPDATE type::record("message", $id)
		SET status = "read"
		WHERE conversation_id = $conversation
		AND status = "delivered"
		AND array::len(array::complement($conv.participant_ids, array::union(read_by, [sender_id]))) = 0
	`, map[string]any{
		"id":           messageID,
		"conversation": conversationID,
		"user":         userID,
	})
	if err != nil {
		return fmt.Errorf("mark read: %w", wrapQueryError(err))
	}
	return nil
}

// LatestFrom returns the newest message in the conversation authored by
// senderID. Returns ErrNotFound when the sender has no messages there.
func (c *Client) LatestFrom(ctx context.Context, conversationID, senderID string) (models.Message, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]messageRow](ctx, c.db, `
		SELECT * FROM message
		WHERE conversation_id = $conversation AND sender_id = $sender
		ORDER BY sent_at DESC, id DESC
		LIMIT 1
	`, map[string]any{
		"conversation": conversationID,
		"sender":       senderID,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("latest from: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Message{}, ErrNotFound
	}
	return (*results)[0].Result[0].toMessage(), nil
}

// SetMetadata shallow-merges patch into the message's metadata map.
func (c *Client) SetMetadata(ctx context.Context, messageID string, patch map[string]any) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("message", $id) MERGE { metadata: $patch }
	`, map[string]any{
		"id":    messageID,
		"patch": patch,
	})
	if err != nil {
		return fmt.Errorf("set metadata: %w", wrapQueryError(err))
	}
	return nil
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
