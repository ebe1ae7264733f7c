package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/strand/internal/clock"
	"github.com/raphaelgruber/strand/internal/db"
	"github.com/raphaelgruber/strand/internal/metrics"
	"github.com/raphaelgruber/strand/internal/models"
)

const (
	// arbitrationDelay is how long the arbiter waits after a flagged
	// message before deciding. Long enough for a fast human reply to
	// preempt, short enough that the automated one still feels
	// immediate.
	arbitrationDelay = 500 * time.Millisecond

	// overrideWindow anchors the manual-reply check backward from the
	// trigger's timestamp, not from the check time. A manual reply
	// sent up to a second before the trigger was even flagged still
	// counts as the human taking over.
	overrideWindow = time.Second

	// confidenceThreshold gates which matches are worth arbitrating.
	confidenceThreshold = 0.75

	// writeTimeout bounds the store calls behind a decision.
	writeTimeout = 15 * time.Second
)

// ErrAutoReplyFailed wraps any failure inside the arbiter. It is only
// ever logged; a failed arbitration resolves to cancelled, never to a
// user-visible error or a second attempt.
var ErrAutoReplyFailed = errors.New("auto-reply failed")

// Store is the slice of persistence the arbiter needs. A missing
// latest message is reported as db.ErrNotFound.
type Store interface {
	Append(ctx context.Context, msg models.Message) (models.Message, error)
	LatestFrom(ctx context.Context, conversationID, senderID string) (models.Message, error)
	SetMetadata(ctx context.Context, messageID string, patch map[string]any) error
}

// Drafter composes the reply text for a matched rule. Nil is fine; the
// rule's canned answer is used directly.
type Drafter interface {
	Draft(ctx context.Context, trigger models.Message, rule Rule) (string, error)
}

// Arbiter runs the manual-override race for one conversation. Each
// flagged incoming message moves through detected, then after the
// arbitration delay to exactly one of fired or cancelled. Both are
// terminal: a message id is evaluated at most once per session, and a
// trigger already tagged in the store is never evaluated again at all.
type Arbiter struct {
	conv      models.Conversation
	store     Store
	matcher   *Matcher
	drafter   Drafter
	clk       clock.Clock
	log       *slog.Logger
	collector *metrics.Collector

	// LocalActivity, when set, reports manual sends that are still in
	// flight client-side and therefore invisible to LatestFrom. Set
	// before the first Observe call.
	LocalActivity func(since time.Time) bool

	mu        sync.Mutex
	decided   map[string]struct{}
	timers    map[string]*clock.Timer
	startedAt time.Time
	closed    bool
}

func NewArbiter(conv models.Conversation, store Store, matcher *Matcher, drafter Drafter, clk clock.Clock, log *slog.Logger, collector *metrics.Collector) *Arbiter {
	return &Arbiter{
		conv:      conv,
		store:     store,
		matcher:   matcher,
		drafter:   drafter,
		clk:       clk,
		log:       log,
		collector: collector,
		decided:   make(map[string]struct{}),
		timers:    make(map[string]*clock.Timer),
		startedAt: clk.Now(),
	}
}

// Observe evaluates one confirmed incoming message. Non-qualifying
// messages are ignored; a qualifying match starts the arbitration
// timer.
func (a *Arbiter) Observe(msg models.Message) {
	if msg.SenderID == a.conv.CreatorID || !msg.Resolved() || msg.IsAutoReply() {
		return
	}
	// Already answered in an earlier session.
	if sent, _ := msg.Metadata[models.MetaAutoReplySent].(bool); sent {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	// The first window replays recent history; those messages had
	// their chance when they arrived.
	if msg.SentAt.Before(a.startedAt) {
		return
	}
	if _, ok := a.decided[msg.ID]; ok {
		return
	}
	a.decided[msg.ID] = struct{}{}

	match, ok := a.matcher.Match(msg.Text)
	if !ok || match.Confidence < confidenceThreshold {
		return
	}

	trigger := msg
	a.timers[msg.ID] = a.clk.AfterFunc(arbitrationDelay, func() {
		a.arbitrate(trigger, match)
	})
	a.log.Debug("Auto-reply arbitration started",
		"conversation_id", a.conv.ID,
		"trigger_id", msg.ID,
		"rule", match.Rule.Name,
		"confidence", match.Confidence)
}

// arbitrate decides fired or cancelled once the delay has elapsed.
func (a *Arbiter) arbitrate(trigger models.Message, match Match) {
	a.mu.Lock()
	delete(a.timers, trigger.ID)
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	overridden, err := a.manualOverride(ctx, trigger.SentAt)
	if err != nil {
		a.cancel(trigger, match, start, fmt.Errorf("%w: %w", ErrAutoReplyFailed, err))
		return
	}
	if overridden {
		a.cancel(trigger, match, start, nil)
		return
	}
	a.fire(ctx, trigger, match, start)
}

// manualOverride reports whether the replier sent anything inside the
// override window (trigger time minus overrideWindow, up to now].
func (a *Arbiter) manualOverride(ctx context.Context, triggerAt time.Time) (bool, error) {
	since := triggerAt.Add(-overrideWindow)

	if a.LocalActivity != nil && a.LocalActivity(since) {
		return true, nil
	}

	last, err := a.store.LatestFrom(ctx, a.conv.ID, a.conv.CreatorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return last.Resolved() && last.SentAt.After(since), nil
}

func (a *Arbiter) fire(ctx context.Context, trigger models.Message, match Match, start time.Time) {
	text, err := a.draft(ctx, trigger, match)
	if err != nil {
		a.cancel(trigger, match, start, fmt.Errorf("%w: %w", ErrAutoReplyFailed, err))
		return
	}

	reply := models.Message{
		ConversationID: a.conv.ID,
		SenderID:       a.conv.CreatorID,
		Text:           text,
		Status:         models.StatusSending,
		ReadBy:         []string{a.conv.CreatorID},
		Metadata: map[string]any{
			models.MetaAutoReply:   true,
			models.MetaAutoReplyTo: trigger.ID,
		},
	}
	confirmed, err := a.store.Append(ctx, reply)
	if err != nil {
		a.cancel(trigger, match, start, fmt.Errorf("%w: %w", ErrAutoReplyFailed, err))
		return
	}

	if err := a.store.SetMetadata(ctx, trigger.ID, map[string]any{
		models.MetaAutoReplySent: true,
		models.MetaAutoReplyID:   confirmed.ID,
	}); err != nil {
		// The reply is already in the stream; only the trigger's
		// back-reference is lost.
		a.log.Warn("Trigger back-reference update failed",
			"trigger_id", trigger.ID,
			"reply_id", confirmed.ID,
			"error", err)
	}

	if a.collector != nil {
		a.collector.RecordTiming(metrics.OpAutoReplyFired, time.Since(start))
	}
	a.log.Info("Auto-reply fired",
		"conversation_id", a.conv.ID,
		"trigger_id", trigger.ID,
		"reply_id", confirmed.ID,
		"rule", match.Rule.Name)
}

// draft produces the reply text. Drafter failures fall back to the
// rule's canned answer when one exists.
func (a *Arbiter) draft(ctx context.Context, trigger models.Message, match Match) (string, error) {
	if a.drafter == nil {
		return match.Rule.Answer, nil
	}
	text, err := a.drafter.Draft(ctx, trigger, match.Rule)
	if err != nil {
		if match.Rule.Answer != "" {
			a.log.Warn("Draft failed, using the canned answer",
				"rule", match.Rule.Name,
				"error", err)
			return match.Rule.Answer, nil
		}
		return "", err
	}
	return text, nil
}

func (a *Arbiter) cancel(trigger models.Message, match Match, start time.Time, err error) {
	if err != nil {
		a.log.Warn("Auto-reply cancelled",
			"conversation_id", a.conv.ID,
			"trigger_id", trigger.ID,
			"rule", match.Rule.Name,
			"error", err)
		if a.collector != nil {
			a.collector.RecordError(metrics.OpAutoReplyCancelled)
		}
		return
	}
	if a.collector != nil {
		a.collector.RecordTiming(metrics.OpAutoReplyCancelled, time.Since(start))
	}
	a.log.Info("Auto-reply cancelled by manual reply",
		"conversation_id", a.conv.ID,
		"trigger_id", trigger.ID,
		"rule", match.Rule.Name)
}

// Close cancels pending arbitrations. A trigger caught mid-race stays
// unanswered; a later session treats it as history and leaves it alone.
func (a *Arbiter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	for id, timer := range a.timers {
		timer.Stop()
		delete(a.timers, id)
	}
}
