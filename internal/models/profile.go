package models

import "time"

// Profile is a user's public chat profile.
type Profile struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarEmoji string    `json:"avatar_emoji,omitempty"`
	Online      bool      `json:"online"`
	LastSeenAt  time.Time `json:"last_seen_at,omitzero"`
}

// Label returns the name shown next to the user's messages.
func (p Profile) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}
