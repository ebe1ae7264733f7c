package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/strand/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// conversationRow mirrors a conversation table document.
type conversationRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	Title          string                 `json:"title,omitempty"`
	CreatorID      string                 `json:"creator_id"`
	ParticipantIDs []string               `json:"participant_ids"`
	AutoReply      bool                   `json:"auto_reply"`
	CreatedAt      time.Time              `json:"created_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
}

func (r conversationRow) toConversation() models.Conversation {
	return models.Conversation{
		ID:             models.MustRecordIDString(r.ID),
		Title:          r.Title,
		CreatorID:      r.CreatorID,
		ParticipantIDs: r.ParticipantIDs,
		AutoReply:      r.AutoReply,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
}

// CreateConversation persists a new conversation document.
func (c *Client) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		CREATE conversation CONTENT {
			title: $title,
			creator_id: $creator,
			participant_ids: $participants,
			auto_reply: $auto_reply
		} RETURN AFTER
	`, map[string]any{
		"title":        conv.Title,
		"creator":      conv.CreatorID,
		"participants": conv.ParticipantIDs,
		"auto_reply":   conv.AutoReply,
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Conversation{}, fmt.Errorf("create conversation: empty result")
	}
	return (*results)[0].Result[0].toConversation(), nil
}

// GetConversation retrieves a conversation by id.
// Returns ErrNotFound if it does not exist.
func (c *Client) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		SELECT * FROM type::record("conversation", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Conversation{}, ErrNotFound
	}
	return (*results)[0].Result[0].toConversation(), nil
}

// ListConversations returns the conversations userID takes part in,
// most recently active first.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		SELECT * FROM conversation
		WHERE participant_ids CONTAINS $user
		ORDER BY last_activity_at DESC
	`, map[string]any{"user": userID})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Conversation{}, nil
	}
	out := make([]models.Conversation, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		out = append(out, r.toConversation())
	}
	return out, nil
}

// TouchConversation bumps the conversation's last-activity stamp.
func (c *Client) TouchConversation(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("conversation", $id) SET last_activity_at = time::now()
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
