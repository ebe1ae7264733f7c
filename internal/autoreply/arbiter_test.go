package autoreply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/strand/internal/clock"
	"github.com/raphaelgruber/strand/internal/db"
	"github.com/raphaelgruber/strand/internal/models"
)

var arbiterBase = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// arbiterStore is an in-memory Store for arbiter tests.
type arbiterStore struct {
	mu        sync.Mutex
	latest    map[string]models.Message // senderID -> newest message
	latestErr error
	appendErr error

	appended []models.Message
	patches  map[string]map[string]any
	nextID   int
}

func newArbiterStore() *arbiterStore {
	return &arbiterStore{
		latest:  make(map[string]models.Message),
		patches: make(map[string]map[string]any),
	}
}

func (s *arbiterStore) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return models.Message{}, s.appendErr
	}
	s.nextID++
	msg.ID = fmt.Sprintf("reply%d", s.nextID)
	s.appended = append(s.appended, msg)
	return msg, nil
}

func (s *arbiterStore) LatestFrom(ctx context.Context, conversationID, senderID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestErr != nil {
		return models.Message{}, s.latestErr
	}
	m, ok := s.latest[senderID]
	if !ok {
		return models.Message{}, db.ErrNotFound
	}
	return m, nil
}

func (s *arbiterStore) SetMetadata(ctx context.Context, messageID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, ok := s.patches[messageID]
	if !ok {
		merged = make(map[string]any)
		s.patches[messageID] = merged
	}
	for k, v := range patch {
		merged[k] = v
	}
	return nil
}

func (s *arbiterStore) setLatest(senderID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[senderID] = msg
}

func (s *arbiterStore) replies() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.appended))
	copy(out, s.appended)
	return out
}

func (s *arbiterStore) patchFor(messageID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patches[messageID]
}

var testConv = models.Conversation{
	ID:             "conv1",
	CreatorID:      "creator",
	ParticipantIDs: []string{"creator", "customer"},
	AutoReply:      true,
}

func faqRules() []Rule {
	return []Rule{{
		Name:       "faq",
		Patterns:   []string{"refund"},
		Answer:     "Refunds are processed within five business days.",
		Confidence: 0.92,
	}}
}

func newTestArbiter(store Store, clk clock.Clock, rules []Rule) *Arbiter {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArbiter(testConv, store, NewMatcher(rules), nil, clk, log, nil)
}

func incoming(id, text string, at time.Time) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "conv1",
		SenderID:       "customer",
		Text:           text,
		Status:         models.StatusSending,
		ReadBy:         []string{"customer"},
		SentAt:         at,
	}
}

func TestFiresWhenReplierStaysQuiet(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	trigger := incoming("msg1", "How do I get a refund?", arbiterBase)
	arb.Observe(trigger)
	clk.Advance(arbitrationDelay)

	replies := store.replies()
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want the auto-reply", len(replies))
	}
	reply := replies[0]
	if reply.SenderID != "creator" {
		t.Errorf("reply sender = %q, want the conversation creator", reply.SenderID)
	}
	if !reply.IsAutoReply() {
		t.Error("reply is not tagged as automated")
	}
	if reply.Metadata[models.MetaAutoReplyTo] != "msg1" {
		t.Errorf("reply references %v, want msg1", reply.Metadata[models.MetaAutoReplyTo])
	}

	patch := store.patchFor("msg1")
	if sent, _ := patch[models.MetaAutoReplySent].(bool); !sent {
		t.Error("trigger not tagged with autoReplySent")
	}
	if patch[models.MetaAutoReplyID] != "reply1" {
		t.Errorf("trigger references %v, want reply1", patch[models.MetaAutoReplyID])
	}
}

func TestManualReplyDuringDelayCancels(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	trigger := incoming("msg1", "Can I have a refund?", arbiterBase)
	arb.Observe(trigger)

	// The creator answers personally 300ms after the trigger, before
	// the arbitration delay elapses.
	manual := models.Message{
		ID:       "srv9",
		SenderID: "creator",
		Text:     "Let me help personally",
		SentAt:   arbiterBase.Add(300 * time.Millisecond),
	}
	store.setLatest("creator", manual)
	clk.Advance(arbitrationDelay)

	if got := store.replies(); len(got) != 0 {
		t.Errorf("replies = %v, want none after a manual override", got)
	}
	// Terminal: nothing fires later either.
	clk.Advance(10 * time.Second)
	if got := store.replies(); len(got) != 0 {
		t.Errorf("auto-reply fired after cancellation: %v", got)
	}
}

func TestManualReplyJustBeforeTriggerCancels(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	// The creator was already typing: their message landed 700ms
	// before the trigger. The window is anchored at the trigger
	// timestamp, so this still counts.
	store.setLatest("creator", models.Message{
		ID:       "srv9",
		SenderID: "creator",
		Text:     "On it already",
		SentAt:   arbiterBase.Add(-700 * time.Millisecond),
	})

	arb.Observe(incoming("msg1", "refund please", arbiterBase))
	clk.Advance(arbitrationDelay)

	if got := store.replies(); len(got) != 0 {
		t.Errorf("replies = %v, want none", got)
	}
}

func TestStaleManualReplyDoesNotCancel(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	// The creator's last message is well outside the override window.
	store.setLatest("creator", models.Message{
		ID:       "srv9",
		SenderID: "creator",
		Text:     "old reply",
		SentAt:   arbiterBase.Add(-90 * time.Second),
	})

	arb.Observe(incoming("msg1", "refund please", arbiterBase))
	clk.Advance(arbitrationDelay)

	if got := store.replies(); len(got) != 1 {
		t.Errorf("replies = %d, want the auto-reply", len(got))
	}
}

func TestLocalInFlightSendCancels(t *testing.T) {
	store := newArbiterStore()
	store.latestErr = errors.New("must not be queried")
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())
	arb.LocalActivity = func(since time.Time) bool { return true }

	arb.Observe(incoming("msg1", "refund please", arbiterBase))
	clk.Advance(arbitrationDelay)

	if got := store.replies(); len(got) != 0 {
		t.Errorf("replies = %v, want none when a local send is in flight", got)
	}
}

func TestTriggerEvaluatedAtMostOnce(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	trigger := incoming("msg1", "refund please", arbiterBase)
	arb.Observe(trigger)
	arb.Observe(trigger)
	if got := clk.PendingCount(); got != 1 {
		t.Fatalf("%d timers armed for one trigger, want 1", got)
	}

	clk.Advance(arbitrationDelay)
	if got := store.replies(); len(got) != 1 {
		t.Fatalf("replies = %d, want exactly one", len(got))
	}

	// Re-observing the decided trigger changes nothing.
	arb.Observe(trigger)
	clk.Advance(10 * time.Second)
	if got := store.replies(); len(got) != 1 {
		t.Errorf("replies = %d after re-observation, want still one", len(got))
	}
}

func TestBelowThresholdIgnored(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	rules := []Rule{{
		Name:       "vague",
		Patterns:   []string{"maybe"},
		Answer:     "Possibly!",
		Confidence: 0.6,
	}}
	arb := newTestArbiter(store, clk, rules)

	arb.Observe(incoming("msg1", "maybe later", arbiterBase))

	if got := clk.PendingCount(); got != 0 {
		t.Errorf("%d timers armed below the confidence threshold", got)
	}
}

func TestCheckFailureResolvesToCancelled(t *testing.T) {
	store := newArbiterStore()
	store.latestErr = errors.New("store offline")
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	arb.Observe(incoming("msg1", "refund please", arbiterBase))
	clk.Advance(arbitrationDelay)

	if got := store.replies(); len(got) != 0 {
		t.Errorf("replies = %v, want none when the override check fails", got)
	}
}

func TestWriteFailureNeverRetried(t *testing.T) {
	store := newArbiterStore()
	store.appendErr = errors.New("store offline")
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	trigger := incoming("msg1", "refund please", arbiterBase)
	arb.Observe(trigger)
	clk.Advance(arbitrationDelay)

	store.mu.Lock()
	store.appendErr = nil
	store.mu.Unlock()

	// The failed arbitration is terminal; a re-observation is not a
	// second chance.
	arb.Observe(trigger)
	clk.Advance(10 * time.Second)
	if got := store.replies(); len(got) != 0 {
		t.Errorf("replies = %v, want none after a failed attempt", got)
	}
}

func TestNonQualifyingMessagesIgnored(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	own := incoming("msg1", "refund please", arbiterBase)
	own.SenderID = "creator"

	unresolved := incoming("msg2", "refund please", time.Time{})

	answered := incoming("msg3", "refund please", arbiterBase)
	answered.Metadata = map[string]any{models.MetaAutoReplySent: true}

	automated := incoming("msg4", "refund please", arbiterBase)
	automated.Metadata = map[string]any{models.MetaAutoReply: true}

	history := incoming("msg5", "refund please", arbiterBase.Add(-time.Minute))

	for _, m := range []models.Message{own, unresolved, answered, automated, history} {
		arb.Observe(m)
	}

	if got := clk.PendingCount(); got != 0 {
		t.Errorf("%d timers armed for non-qualifying messages", got)
	}
}

func TestCloseCancelsPendingArbitrations(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	arb := newTestArbiter(store, clk, faqRules())

	arb.Observe(incoming("msg1", "refund please", arbiterBase))
	arb.Close()

	if got := clk.PendingCount(); got != 0 {
		t.Errorf("%d timers still armed after Close", got)
	}
	clk.Advance(10 * time.Second)
	if got := store.replies(); len(got) != 0 {
		t.Errorf("replies = %v after Close, want none", got)
	}
}

type stubDrafter struct {
	text string
	err  error
}

func (d *stubDrafter) Draft(ctx context.Context, trigger models.Message, rule Rule) (string, error) {
	return d.text, d.err
}

func TestDrafterComposesReplyText(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	drafter := &stubDrafter{text: "Happy to help with that refund right away."}
	arb := NewArbiter(testConv, store, NewMatcher(faqRules()), drafter, clk, log, nil)

	arb.Observe(incoming("msg1", "refund please", arbiterBase))
	clk.Advance(arbitrationDelay)

	replies := store.replies()
	if len(replies) != 1 || replies[0].Text != drafter.text {
		t.Errorf("replies = %v, want the drafted text", replies)
	}
}

func TestDrafterFailureFallsBackToCannedAnswer(t *testing.T) {
	store := newArbiterStore()
	clk := clock.NewFake(arbiterBase)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	drafter := &stubDrafter{err: errors.New("model unavailable")}
	arb := NewArbiter(testConv, store, NewMatcher(faqRules()), drafter, clk, log, nil)

	arb.Observe(incoming("msg1", "refund please", arbiterBase))
	clk.Advance(arbitrationDelay)

	replies := store.replies()
	if len(replies) != 1 || replies[0].Text != faqRules()[0].Answer {
		t.Errorf("replies = %v, want the canned answer", replies)
	}
}
