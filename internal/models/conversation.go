package models

import "time"

// Conversation is a chat between two or more participants.
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	CreatorID      string    `json:"creator_id"`
	ParticipantIDs []string  `json:"participant_ids"`
	AutoReply      bool      `json:"auto_reply"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	LastActivityAt time.Time `json:"last_activity_at,omitzero"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Recipients returns the participant ids excluding senderID. Used to
// decide when a message has been read by everyone it was sent to.
func (c Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}
