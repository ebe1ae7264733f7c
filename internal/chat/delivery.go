package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/strand/internal/clock"
	"github.com/raphaelgruber/strand/internal/metrics"
)

// debounceDelay is how long a message id must go unobserved before its
// delivery acknowledgement is written. Bursts of window refreshes keep
// resetting the timer, so a burst costs one write instead of one per
// refresh.
const debounceDelay = 500 * time.Millisecond

// ackTimeout bounds the store write behind an acknowledgement.
const ackTimeout = 10 * time.Second

// deliveryTracker turns observations of not-yet-acknowledged incoming
// messages into debounced delivered acknowledgements. Failures are
// logged and swallowed; the pending entry is already gone by then, so
// the next observation of the same id simply tries again.
type deliveryTracker struct {
	mu      sync.Mutex
	pending map[string]*clock.Timer
	closed  bool

	conversationID string
	store          Store
	clk            clock.Clock
	log            *slog.Logger
	collector      *metrics.Collector
}

func newDeliveryTracker(conversationID string, store Store, clk clock.Clock, log *slog.Logger, collector *metrics.Collector) *deliveryTracker {
	return &deliveryTracker{
		pending:        make(map[string]*clock.Timer),
		conversationID: conversationID,
		store:          store,
		clk:            clk,
		log:            log,
		collector:      collector,
	}
}

// observe notes that a qualifying message was seen in a window. A first
// observation arms the debounce timer; a repeat pushes it back.
func (t *deliveryTracker) observe(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if timer, ok := t.pending[messageID]; ok {
		timer.Reset(debounceDelay)
		return
	}
	t.pending[messageID] = t.clk.AfterFunc(debounceDelay, func() {
		t.fire(messageID)
	})
}

func (t *deliveryTracker) fire(messageID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.pending, messageID)
	t.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	if err := t.store.MarkDelivered(ctx, t.conversationID, messageID); err != nil {
		t.log.Warn("Delivery acknowledgement failed",
			"conversation_id", t.conversationID,
			"message_id", messageID,
			"error", fmt.Errorf("%w: %w", ErrAckFailed, err))
		if t.collector != nil {
			t.collector.RecordError(metrics.OpAckDelivered)
		}
		return
	}
	if t.collector != nil {
		t.collector.RecordTiming(metrics.OpAckDelivered, time.Since(start))
	}
}

// close cancels every pending timer. Called once on session teardown.
func (t *deliveryTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for id, timer := range t.pending {
		timer.Stop()
		delete(t.pending, id)
	}
}
