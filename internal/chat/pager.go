package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/strand/internal/metrics"
)

// pageSize is how many messages a single history load fetches.
const pageSize = 50

// pager walks conversation history backward from the newest loaded
// message. The cursor is opaque; only the store interprets it.
type pager struct {
	cursor   string
	hasMore  bool
	inFlight bool
}

func newPager() *pager {
	return &pager{hasMore: true}
}

// LoadOlder fetches the next older page of history and merges it into
// the canonical view. The first call fetches the newest page; later
// calls continue from the stored cursor. It is a no-op while a load is
// already in flight or once the history is exhausted, so a scroll
// gesture can call it repeatedly without queuing work.
//
// On failure it returns an error wrapping ErrLoadFailed and leaves the
// cursor untouched, so the same gesture can retry the same load.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.ready {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.pager.inFlight || !s.pager.hasMore {
		s.mu.Unlock()
		return nil
	}
	s.pager.inFlight = true
	cursor := s.pager.cursor
	s.mu.Unlock()

	start := time.Now()
	msgs, next, hasMore, err := s.store.Page(ctx, s.conversationID, pageSize, cursor)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pager.inFlight = false

	if err != nil {
		s.log.Warn("History page load failed",
			"conversation_id", s.conversationID,
			"error", err)
		if s.collector != nil {
			s.collector.RecordError(metrics.OpPageLoad)
		}
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	s.pager.cursor = next
	s.pager.hasMore = hasMore
	if added := s.rec.mergePage(msgs); added > 0 {
		s.publishLocked()
	}
	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpPageLoad, time.Since(start))
	}
	return nil
}

// HasMore reports whether older history may remain.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pager.hasMore
}
