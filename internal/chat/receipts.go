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
	// visibleThreshold is the viewport fraction at which a message
	// counts as seen.
	visibleThreshold = 0.5

	// sustainDelay is how long a message must stay above the threshold
	// before its read acknowledgement is written. A message scrolled
	// past never fires.
	sustainDelay = 500 * time.Millisecond
)

// readTracker turns viewport visibility reports into idempotent read
// acknowledgements. A message qualifies once it is at least half
// visible for half a second; the acked set keeps a re-entering message
// from being acknowledged twice within a session. On write failure the
// id leaves the set again so a later re-entry can retry.
type readTracker struct {
	mu      sync.Mutex
	pending map[string]*clock.Timer
	acked   map[string]struct{}
	closed  bool

	conversationID string
	userID         string
	store          Store
	clk            clock.Clock
	log            *slog.Logger
	collector      *metrics.Collector
}

func newReadTracker(conversationID, userID string, store Store, clk clock.Clock, log *slog.Logger, collector *metrics.Collector) *readTracker {
	return &readTracker{
		pending:        make(map[string]*clock.Timer),
		acked:          make(map[string]struct{}),
		conversationID: conversationID,
		userID:         userID,
		store:          store,
		clk:            clk,
		log:            log,
		collector:      collector,
	}
}

// observe processes one visibility report for a message. Crossing the
// threshold arms the sustain timer; dropping below it cancels. Repeat
// reports while visible leave the running timer alone, so the sustain
// window measures continuous visibility rather than report cadence.
func (t *readTracker) observe(msg models.Message, fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	id := msg.ID
	if fraction < visibleThreshold || !t.qualifies(msg) {
		if timer, ok := t.pending[id]; ok {
			timer.Stop()
			delete(t.pending, id)
		}
		return
	}
	if _, ok := t.acked[id]; ok {
		return
	}
	if _, ok := t.pending[id]; ok {
		return
	}
	t.pending[id] = t.clk.AfterFunc(sustainDelay, func() {
		t.fire(id)
	})
}

// qualifies restricts acknowledgements to other people's messages that
// have been delivered but not yet read by this viewer.
func (t *readTracker) qualifies(msg models.Message) bool {
	if msg.SenderID == t.userID || msg.Temporary() {
		return false
	}
	if msg.Status != models.StatusDelivered {
		return false
	}
	return !msg.ReadByUser(t.userID)
}

func (t *readTracker) fire(messageID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.pending, messageID)
	if _, ok := t.acked[messageID]; ok {
		t.mu.Unlock()
		return
	}
	t.acked[messageID] = struct{}{}
	t.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	if err := t.store.MarkRead(ctx, t.conversationID, messageID, t.userID); err != nil {
		t.log.Warn("Read acknowledgement failed",
			"conversation_id", t.conversationID,
			"message_id", messageID,
			"error", fmt.Errorf("%w: %w", ErrAckFailed, err))
		if t.collector != nil {
			t.collector.RecordError(metrics.OpAckRead)
		}
		t.mu.Lock()
		delete(t.acked, messageID)
		t.mu.Unlock()
		return
	}
	if t.collector != nil {
		t.collector.RecordTiming(metrics.OpAckRead, time.Since(start))
	}
}

// close cancels pending timers and drops the idempotency set. The set
// is session-scoped: a new session over the same conversation starts
// clean, which is safe because the store-side acknowledgement is
// itself idempotent.
func (t *readTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for id, timer := range t.pending {
		timer.Stop()
		delete(t.pending, id)
	}
	t.acked = make(map[string]struct{})
}
