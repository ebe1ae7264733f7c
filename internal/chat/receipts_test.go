package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/raphaelgruber/strand/internal/clock"
	"github.com/raphaelgruber/strand/internal/models"
)

var receiptsBase = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestReadTracker(fs *fakeStore, clk *clock.Fake) *readTracker {
	return newReadTracker("conv1", "creator", fs, clk, discardLogger(), nil)
}

// deliveredFrom builds an incoming message eligible for a read receipt.
func deliveredFrom(id, sender string) models.Message {
	m := confirmed(id, sender, "incoming", receiptsBase)
	m.Status = models.StatusDelivered
	return m
}

func TestReadSustainedVisibilityAcks(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(receiptsBase)
	tr := newTestReadTracker(fs, clk)

	tr.observe(deliveredFrom("m1", "customer"), 0.6)

	clk.Advance(sustainDelay - time.Millisecond)
	if got := fs.readCalls(); len(got) != 0 {
		t.Fatalf("acknowledged before the sustain elapsed: %v", got)
	}
	clk.Advance(time.Millisecond)
	if got := fs.readCalls(); len(got) != 1 || got[0] != "m1/creator" {
		t.Errorf("reads = %v, want one ack as creator", got)
	}
}

func TestReadScrollPastCancels(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(receiptsBase)
	tr := newTestReadTracker(fs, clk)
	msg := deliveredFrom("m1", "customer")

	tr.observe(msg, 0.8)
	clk.Advance(300 * time.Millisecond)
	tr.observe(msg, 0.2) // dropped below the threshold

	clk.Advance(time.Second)
	if got := fs.readCalls(); len(got) != 0 {
		t.Errorf("reads = %v, want none for a message scrolled past", got)
	}
}

func TestReadRepeatReportsDoNotExtendSustain(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(receiptsBase)
	tr := newTestReadTracker(fs, clk)
	msg := deliveredFrom("m1", "customer")

	tr.observe(msg, 0.6)
	clk.Advance(300 * time.Millisecond)
	tr.observe(msg, 0.9) // still visible; must not restart the clock

	clk.Advance(200 * time.Millisecond)
	if got := fs.readCalls(); len(got) != 1 {
		t.Errorf("reads = %v, want the ack 500ms after first visibility", got)
	}
}

func TestReadIdempotentWithinSession(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(receiptsBase)
	tr := newTestReadTracker(fs, clk)
	msg := deliveredFrom("m1", "customer")

	tr.observe(msg, 1.0)
	clk.Advance(sustainDelay)

	// The message re-enters the viewport; its id is already in the
	// acknowledged set.
	tr.observe(msg, 1.0)
	if got := clk.PendingCount(); got != 0 {
		t.Errorf("%d timers armed for an already-acknowledged id", got)
	}
	clk.Advance(time.Second)
	if got := fs.readCalls(); len(got) != 1 {
		t.Errorf("reads = %v, want exactly one ack", got)
	}
}

func TestReadFailureAllowsRetryOnReEntry(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(receiptsBase)
	tr := newTestReadTracker(fs, clk)
	msg := deliveredFrom("m1", "customer")

	fs.setReadErr(errors.New("store offline"))
	tr.observe(msg, 1.0)
	clk.Advance(sustainDelay)
	if got := fs.readCalls(); len(got) != 0 {
		t.Fatalf("reads = %v, want none while the store fails", got)
	}

	// The failed id left the set, so a later re-entry retries.
	fs.setReadErr(nil)
	tr.observe(msg, 1.0)
	clk.Advance(sustainDelay)
	if got := fs.readCalls(); len(got) != 1 {
		t.Errorf("reads = %v, want the retried ack", got)
	}
}

func TestReadOnlyDeliveredIncomingQualifies(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(receiptsBase)
	tr := newTestReadTracker(fs, clk)

	own := deliveredFrom("m1", "creator")
	stillSending := confirmed("m2", "customer", "incoming", receiptsBase)
	alreadyRead := deliveredFrom("m3", "customer")
	alreadyRead.Status = models.StatusRead
	seenByViewer := deliveredFrom("m4", "customer")
	seenByViewer.ReadBy = append(seenByViewer.ReadBy, "creator")

	for _, m := range []models.Message{own, stillSending, alreadyRead, seenByViewer} {
		tr.observe(m, 1.0)
	}

	if got := clk.PendingCount(); got != 0 {
		t.Errorf("%d timers armed for non-qualifying messages", got)
	}
	clk.Advance(time.Second)
	if got := fs.readCalls(); len(got) != 0 {
		t.Errorf("reads = %v, want none", got)
	}
}

func TestReadCloseClearsSessionState(t *testing.T) {
	fs := newFakeStore()
	clk := clock.NewFake(receiptsBase)
	tr := newTestReadTracker(fs, clk)

	tr.observe(deliveredFrom("m1", "customer"), 1.0)
	tr.close()

	if got := clk.PendingCount(); got != 0 {
		t.Errorf("%d timers still armed after close", got)
	}
	clk.Advance(time.Second)
	if got := fs.readCalls(); len(got) != 0 {
		t.Errorf("reads = %v after close, want none", got)
	}

	tr.observe(deliveredFrom("m2", "customer"), 1.0)
	clk.Advance(time.Second)
	if got := fs.readCalls(); len(got) != 0 {
		t.Errorf("closed tracker still acknowledged: %v", got)
	}
}
