package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/strand/internal/clock"
	"github.com/raphaelgruber/strand/internal/metrics"
	"github.com/raphaelgruber/strand/internal/models"
)

// Service builds sessions. One Service serves every conversation; the
// per-conversation state lives entirely in the Session it hands out.
type Service struct {
	store         Store
	conversations ConversationSource
	clk           clock.Clock
	log           *slog.Logger
	collector     *metrics.Collector

	// WindowSize overrides the subscription window width. Zero means
	// the default.
	WindowSize int

	// ArbiterFor, when set, builds the auto-reply observer for a
	// conversation. recentLocalSend lets the observer see optimistic
	// sends that have not reached the store yet. Only consulted for
	// the conversation creator on auto-reply conversations.
	ArbiterFor func(conv models.Conversation, recentLocalSend func(since time.Time) bool) Observer
}

func NewService(store Store, conversations ConversationSource, clk clock.Clock, log *slog.Logger, collector *metrics.Collector) *Service {
	return &Service{
		store:         store,
		conversations: conversations,
		clk:           clk,
		log:           log,
		collector:     collector,
	}
}

// Attach opens a session for one participant of one conversation: it
// resolves the conversation, wires the auto-reply observer when this
// viewer is the designated replier, and starts the realtime
// subscription. The returned session is ready for Send.
func (s *Service) Attach(ctx context.Context, conversationID, userID string) (*Session, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("attach %s for %s: %w", conversationID, userID, ErrNotFound)
	}

	sess := newSession(conv, userID, s.store, s.clk, s.log, s.collector)
	if s.ArbiterFor != nil && conv.AutoReply && userID == conv.CreatorID {
		if obs := s.ArbiterFor(conv, sess.hasRecentManualSend); obs != nil {
			sess.onConfirmed = obs.Observe
			sess.onClose = obs.Close
		}
	}

	if s.collector != nil {
		s.collector.SessionOpened()
	}
	if err := sess.start(ctx, s.WindowSize); err != nil {
		sess.Close()
		return nil, err
	}

	s.log.Info("Session attached",
		"conversation_id", conversationID,
		"user_id", userID,
		"auto_reply", conv.AutoReply)
	return sess, nil
}
