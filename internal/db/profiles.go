package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/strand/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// profileRow mirrors a profile table document.
type profileRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	UserID      string                 `json:"user_id"`
	DisplayName string                 `json:"display_name"`
	AvatarEmoji string                 `json:"avatar_emoji,omitempty"`
	Online      bool                   `json:"online"`
	LastSeenAt  time.Time              `json:"last_seen_at"`
}

func (r profileRow) toProfile() models.Profile {
	return models.Profile{
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		AvatarEmoji: r.AvatarEmoji,
		Online:      r.Online,
		LastSeenAt:  r.LastSeenAt,
	}
}

// UpsertProfile creates or replaces the user's profile. The record id is
// the user id, so repeated upserts stay one row.
func (c *Client) UpsertProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]profileRow](ctx, c.db, `
		UPSERT type::record("profile", $user) CONTENT {
			user_id: $user,
			display_name: $name,
			avatar_emoji: $emoji,
			online: $online
		} RETURN AFTER
	`, map[string]any{
		"user":   p.UserID,
		"name":   p.DisplayName,
		"emoji":  p.AvatarEmoji,
		"online": p.Online,
	})
	if err != nil {
		return models.Profile{}, fmt.Errorf("upsert profile: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Profile{}, fmt.Errorf("upsert profile: empty result")
	}

	out := (*results)[0].Result[0].toProfile()
	c.profiles.Add(p.UserID, out)
	return out, nil
}

// GetProfile retrieves a user's profile, serving repeated lookups from a
// short-lived cache. Returns ErrNotFound for unknown users.
func (c *Client) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	if p, ok := c.profiles.Get(userID); ok {
		return p, nil
	}

	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]profileRow](ctx, c.db, `
		SELECT * FROM type::record("profile", $user)
	`, map[string]any{"user": userID})
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Profile{}, ErrNotFound
	}

	out := (*results)[0].Result[0].toProfile()
	c.profiles.Add(userID, out)
	return out, nil
}

// SetPresence flips the user's online flag and refreshes last-seen.
func (c *Client) SetPresence(ctx context.Context, userID string, online bool) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("profile", $user)
		SET online = $online, last_seen_at = time::now()
	`, map[string]any{
		"user":   userID,
		"online": online,
	})
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}

	c.profiles.Remove(userID)
	return nil
}
