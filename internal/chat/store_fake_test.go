package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/strand/internal/models"
)

// fakeStore is an in-memory Store and ConversationSource. Tests push
// subscription windows by hand and can gate or fail individual
// operations.
type fakeStore struct {
	mu      sync.Mutex
	conv    models.Conversation
	history []models.Message // ascending, backs Page
	nextID  int
	stampAt time.Time // overrides the timestamp Append assigns

	sendErr      error
	pageErr      error
	deliveredErr error
	readErr      error
	getConvErr   error

	appendGate chan struct{} // when set, Append blocks until it closes
	pageGate   chan struct{} // when set, Page blocks until it closes

	appendCalls   int
	pageCalls     int
	delivered     []string
	reads         []string // "messageID/userID"
	deliveredFail int
	readFail      int

	windows      chan []models.Message
	unsubscribed bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conv: models.Conversation{
			ID:             "conv1",
			Title:          "support",
			CreatorID:      "creator",
			ParticipantIDs: []string{"creator", "customer"},
			AutoReply:      true,
		},
		windows: make(chan []models.Message, 8),
	}
}

func (f *fakeStore) Subscribe(ctx context.Context, conversationID string, windowSize int) (<-chan []models.Message, func(), error) {
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			f.unsubscribed = true
			f.mu.Unlock()
			close(f.windows)
		})
	}
	return f.windows, unsubscribe, nil
}

// push delivers one full window snapshot to the subscriber.
func (f *fakeStore) push(msgs ...models.Message) {
	f.windows <- msgs
}

func (f *fakeStore) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	f.mu.Lock()
	gate := f.appendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.nextID++
	msg.ID = fmt.Sprintf("srv%d", f.nextID)
	if !f.stampAt.IsZero() {
		msg.SentAt = f.stampAt
	}
	f.history = append(f.history, msg)
	return msg, nil
}

func (f *fakeStore) Page(ctx context.Context, conversationID string, pageSize int, cursor string) ([]models.Message, string, bool, error) {
	f.mu.Lock()
	f.pageCalls++
	gate := f.pageGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return nil, "", false, f.pageErr
	}
	end := len(f.history)
	if cursor != "" {
		end, _ = strconv.Atoi(cursor)
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}
	page := slices.Clone(f.history[start:end])
	return page, strconv.Itoa(start), len(page) == pageSize, nil
}

func (f *fakeStore) MarkDelivered(ctx context.Context, conversationID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliveredErr != nil {
		f.deliveredFail++
		return f.deliveredErr
	}
	f.delivered = append(f.delivered, messageID)
	return nil
}

func (f *fakeStore) MarkRead(ctx context.Context, conversationID, messageID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		f.readFail++
		return f.readErr
	}
	f.reads = append(f.reads, messageID+"/"+userID)
	return nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getConvErr != nil {
		return models.Conversation{}, f.getConvErr
	}
	return f.conv, nil
}

func (f *fakeStore) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeStore) setDeliveredErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveredErr = err
}

func (f *fakeStore) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeStore) deliveredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.delivered)
}

func (f *fakeStore) readCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reads)
}

func (f *fakeStore) pageCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls
}

func (f *fakeStore) appendCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendCalls
}

func (f *fakeStore) wasUnsubscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

// seedHistory fills the pageable history with n messages from sender,
// one second apart, ending at last.
func (f *fakeStore) seedHistory(n int, sender string, last time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.nextID++
		f.history = append(f.history, models.Message{
			ID:             fmt.Sprintf("srv%d", f.nextID),
			ConversationID: f.conv.ID,
			SenderID:       sender,
			Text:           fmt.Sprintf("history %d", i),
			Status:         models.StatusDelivered,
			ReadBy:         []string{sender},
			SentAt:         last.Add(-time.Duration(n-1-i) * time.Second),
		})
	}
}

func (f *fakeStore) historyCopy() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.history)
}

// confirmed builds a store-confirmed message for tests.
func confirmed(id, sender, text string, at time.Time) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "conv1",
		SenderID:       sender,
		Text:           text,
		Status:         models.StatusSending,
		ReadBy:         []string{sender},
		SentAt:         at,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitForView reads snapshots from the session until cond holds.
func waitForView(t *testing.T, sess *Session, cond func([]models.Message) bool) []models.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case view, ok := <-sess.Updates():
			if !ok {
				t.Fatal("updates channel closed while waiting")
			}
			if cond(view) {
				return view
			}
		case <-deadline:
			t.Fatal("session never reached the expected view")
		}
	}
}
