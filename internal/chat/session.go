package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/strand/internal/clock"
	"github.com/raphaelgruber/strand/internal/metrics"
	"github.com/raphaelgruber/strand/internal/models"
)

const (
	// defaultWindowSize is how many recent messages the subscription
	// window carries when the service does not override it.
	defaultWindowSize = 50

	// sendTimeout bounds a single persist attempt.
	sendTimeout = 15 * time.Second
)

// Observer receives each confirmed incoming message exactly once, in
// merge order. The auto-reply arbiter attaches through this.
type Observer interface {
	Observe(msg models.Message)
	Close()
}

// Session is the synchronization engine for one open conversation. It
// owns the optimistic buffer, the reconciled confirmed set, the
// pagination cursor, and both acknowledgement trackers; none of that
// state is shared with any other session. All mutation runs under one
// mutex, and every change publishes a fresh canonical view on the
// Updates channel.
type Session struct {
	conversationID string
	userID         string
	conv           models.Conversation

	store     Store
	clk       clock.Clock
	log       *slog.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	ready  bool
	closed bool

	buf   *buffer
	rec   *reconciler
	pager *pager

	delivery *deliveryTracker
	reads    *readTracker

	// onConfirmed and onClose are set by the service before start when
	// an observer is attached. Never changed afterwards.
	onConfirmed func(models.Message)
	onClose     func()

	updates     chan []models.Message
	unsubscribe func()

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSession(conv models.Conversation, userID string, store Store, clk clock.Clock, log *slog.Logger, collector *metrics.Collector) *Session {
	base, cancel := context.WithCancel(context.Background())
	s := &Session{
		conversationID: conv.ID,
		userID:         userID,
		conv:           conv,
		store:          store,
		clk:            clk,
		log:            log,
		collector:      collector,
		buf:            newBuffer(),
		rec:            newReconciler(),
		pager:          newPager(),
		updates:        make(chan []models.Message, 1),
		base:           base,
		cancel:         cancel,
	}
	s.delivery = newDeliveryTracker(conv.ID, store, clk, log, collector)
	s.reads = newReadTracker(conv.ID, userID, store, clk, log, collector)
	return s
}

// start opens the realtime subscription and marks the session ready.
// Sends before start return ErrNotReady.
func (s *Session) start(ctx context.Context, windowSize int) error {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	windows, unsubscribe, err := s.store.Subscribe(ctx, s.conversationID, windowSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return ErrNotReady
	}
	s.unsubscribe = unsubscribe
	s.ready = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.ingest(windows)
	return nil
}

// Send creates an optimistic entry for text and hands the write to the
// store in the background. The entry is visible on the Updates channel
// before the store has confirmed anything; a store rejection turns it
// into a failed entry with a retry affordance rather than an error
// here. Fire-and-forget apart from the readiness guard.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	if !s.ready || s.closed {
		s.mu.Unlock()
		return ErrNotReady
	}

	msg := models.Message{
		ID:             models.NewTempID(),
		ConversationID: s.conversationID,
		SenderID:       s.userID,
		Text:           text,
		Status:         models.StatusSending,
		ReadBy:         []string{s.userID},
		SentAt:         s.clk.Now(),
	}
	s.buf.add(msg)
	s.publishLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	go s.persist(msg)
	return nil
}

// Retry re-issues the write for a failed entry. Unknown ids, and ids
// whose send already resolved, report ErrNotFound without mutating
// anything.
func (s *Session) Retry(messageID string) error {
	s.mu.Lock()
	if !s.ready || s.closed {
		s.mu.Unlock()
		return ErrNotReady
	}
	entry, ok := s.buf.get(messageID)
	if !ok || entry.Status != models.StatusFailed {
		s.mu.Unlock()
		return fmt.Errorf("retry %s: %w", messageID, ErrNotFound)
	}
	s.buf.setStatus(messageID, models.StatusSending)
	s.publishLocked()
	entry.Status = models.StatusSending
	s.wg.Add(1)
	s.mu.Unlock()

	go s.persist(entry)
	return nil
}

// persist is the send-completion path: it is the only place that
// removes an optimistic entry. On failure the entry is kept as a retry
// candidate instead.
func (s *Session) persist(msg models.Message) {
	defer s.wg.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(s.base, sendTimeout)
	defer cancel()
	confirmed, err := s.store.Append(ctx, msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.log.Warn("Send failed",
			"conversation_id", s.conversationID,
			"temp_id", msg.ID,
			"error", fmt.Errorf("%w: %w", ErrSendFailed, err))
		if s.collector != nil {
			s.collector.RecordError(metrics.OpSend)
		}
		if s.buf.setStatus(msg.ID, models.StatusFailed) {
			s.publishLocked()
		}
		return
	}

	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpSend, time.Since(start))
	}
	s.rec.put(confirmed)
	s.buf.remove(msg.ID)
	s.rec.dropShadow(msg.ID)
	s.publishLocked()
}

// Visible reports how much of a message is currently shown in the
// viewport. Feeds the read receipt tracker.
func (s *Session) Visible(messageID string, fraction float64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	msg, ok := s.rec.get(messageID)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.reads.observe(msg, fraction)
}

// ingest consumes subscription windows until the subscription is torn
// down. Each window is merged under the session mutex; tracker and
// observer notification happens after the lock is released.
func (s *Session) ingest(windows <-chan []models.Message) {
	defer s.wg.Done()

	for window := range windows {
		start := time.Now()
		s.mu.Lock()
		fresh, changed := s.rec.mergeWindow(window, s.buf.snapshot())
		if changed {
			s.publishLocked()
		}
		s.mu.Unlock()
		if s.collector != nil {
			s.collector.RecordTiming(metrics.OpMerge, time.Since(start))
		}

		for _, m := range window {
			if m.SenderID != s.userID && m.Status == models.StatusSending && m.Resolved() {
				s.delivery.observe(m.ID)
			}
		}
		if s.onConfirmed != nil {
			for _, m := range fresh {
				if m.SenderID != s.userID {
					s.onConfirmed(m)
				}
			}
		}
	}
}

// publishLocked pushes the current canonical view to the updates
// channel, dropping the previous unconsumed snapshot if the consumer
// is behind. Callers hold s.mu.
func (s *Session) publishLocked() {
	if s.closed {
		return
	}
	view := s.rec.view(s.buf.snapshot())
	for {
		select {
		case s.updates <- view:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// Updates delivers the canonical message view after every change. The
// channel holds only the most recent snapshot and is closed by Close.
func (s *Session) Updates() <-chan []models.Message {
	return s.updates
}

// Snapshot returns the current canonical view.
func (s *Session) Snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.view(s.buf.snapshot())
}

// Conversation returns the conversation this session is attached to.
func (s *Session) Conversation() models.Conversation {
	return s.conv
}

// UserID returns the viewer this session belongs to.
func (s *Session) UserID() string {
	return s.userID
}

// hasRecentManualSend reports whether the viewer has an in-flight
// optimistic send stamped after since. Failed entries never reached
// the stream, so they do not count.
func (s *Session) hasRecentManualSend(since time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.buf.snapshot() {
		if e.Status == models.StatusFailed {
			continue
		}
		if e.SentAt.After(since) {
			return true
		}
	}
	return false
}

// Close tears the session down: unsubscribes from the store, cancels
// every pending debounce and sustain timer, discards failed entries
// without retrying them, and closes the updates channel. Safe to call
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.ready = false
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.delivery.close()
	s.reads.close()
	if s.onClose != nil {
		s.onClose()
	}
	s.wg.Wait()
	close(s.updates)

	if s.collector != nil {
		s.collector.SessionClosed()
	}
}
