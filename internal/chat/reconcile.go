package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/strand/internal/models"
)

// matchTolerance bounds the timestamp spread under which an optimistic
// entry and a confirmed message count as the same logical send. The
// optimistic copy is stamped client-side and the confirmed copy
// server-side, so the two differ by network latency plus clock skew.
// Five seconds absorbs realistic skew without matching two distinct
// sends of the same text; identical texts sent further apart are
// treated as different messages.
const matchTolerance = 5 * time.Second

// isLogicalTwin reports whether an optimistic entry and a confirmed
// message represent the same send: same author, same text, timestamps
// within matchTolerance of each other.
func isLogicalTwin(optimistic, confirmed models.Message) bool {
	if optimistic.SenderID != confirmed.SenderID || optimistic.Text != confirmed.Text {
		return false
	}
	if !optimistic.Resolved() || !confirmed.Resolved() {
		return false
	}
	d := optimistic.SentAt.Sub(confirmed.SentAt)
	if d < 0 {
		d = -d
	}
	return d < matchTolerance
}

// reconciler merges subscription windows and pagination pages into one
// confirmed set and composes the canonical ordered view from it plus
// the optimistic buffer. It never mutates the buffer itself; an
// optimistic entry whose confirmed twin has arrived is shadowed out of
// the view and left for the send-completion path to remove, so a write
// still in flight cannot race its own bookkeeping.
//
// Not safe for concurrent use; the owning Session serializes access.
type reconciler struct {
	byID     map[string]models.Message
	shadowed map[string]string // optimistic id -> confirmed id
}

func newReconciler() *reconciler {
	return &reconciler{
		byID:     make(map[string]models.Message),
		shadowed: make(map[string]string),
	}
}

// mergeWindow folds one subscription snapshot into the confirmed set.
// Windows are full snapshots of the most recent messages, not deltas,
// so most of a batch is usually already held. Per batch message:
//
//  1. Unresolved timestamps are dropped; the store re-delivers the
//     message once its clock has stamped it.
//  2. Already-held ids are refreshed in place, picking up status and
//     read-set changes without producing a duplicate.
//  3. New ids are checked against the optimistic entries for a logical
//     twin; a match shadows the entry out of the canonical view.
//
// It returns the messages seen for the first time and whether anything
// about the view changed.
func (r *reconciler) mergeWindow(batch, optimistic []models.Message) (fresh []models.Message, changed bool) {
	for _, m := range batch {
		if !m.Resolved() {
			continue
		}
		if held, ok := r.byID[m.ID]; ok {
			if refreshed(held, m) {
				r.byID[m.ID] = m
				changed = true
			}
			continue
		}
		for _, o := range optimistic {
			if _, taken := r.shadowed[o.ID]; taken {
				continue
			}
			if isLogicalTwin(o, m) {
				r.shadowed[o.ID] = m.ID
				break
			}
		}
		r.byID[m.ID] = m
		fresh = append(fresh, m)
		changed = true
	}
	return fresh, changed
}

// mergePage folds a history page into the confirmed set. Pages never
// overwrite held messages: a page response racing a window refresh may
// carry staler status than what the subscription already delivered.
// The id check also absorbs boundary duplicates under concurrent
// writes, which the store's pagination does not rule out.
func (r *reconciler) mergePage(msgs []models.Message) (added int) {
	for _, m := range msgs {
		if _, ok := r.byID[m.ID]; ok {
			continue
		}
		r.byID[m.ID] = m
		added++
	}
	return added
}

// put upserts a single confirmed message, fresh from a write.
func (r *reconciler) put(m models.Message) {
	r.byID[m.ID] = m
}

// get returns a held confirmed message.
func (r *reconciler) get(id string) (models.Message, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// dropShadow clears the twin bookkeeping for a removed optimistic entry.
func (r *reconciler) dropShadow(optimisticID string) {
	delete(r.shadowed, optimisticID)
}

// view composes the canonical ordered list: all confirmed messages plus
// every optimistic entry without a confirmed twin, sorted ascending.
func (r *reconciler) view(optimistic []models.Message) []models.Message {
	out := make([]models.Message, 0, len(r.byID)+len(optimistic))
	for _, m := range r.byID {
		out = append(out, m)
	}
	for _, o := range optimistic {
		if _, ok := r.shadowed[o.ID]; ok {
			continue
		}
		out = append(out, o)
	}
	slices.SortFunc(out, compareMessages)
	return out
}

// refreshed reports whether a re-delivered copy differs from the held
// one in any field that can change after creation.
func refreshed(held, incoming models.Message) bool {
	if held.Status != incoming.Status {
		return true
	}
	if len(held.ReadBy) != len(incoming.ReadBy) {
		return true
	}
	if len(held.Metadata) != len(incoming.Metadata) {
		return true
	}
	return false
}

// compareMessages is the total order of the canonical view: ascending
// by send time, ties broken by id so that any arrival permutation of
// the same messages sorts identically. A message whose timestamp the
// store has not stamped yet sorts after everything resolved; it cannot
// be placed on the timeline, and the bottom of the list is where the
// newest messages live.
func compareMessages(a, b models.Message) int {
	switch {
	case a.Resolved() && !b.Resolved():
		return -1
	case !a.Resolved() && b.Resolved():
		return 1
	case a.Resolved() && b.Resolved():
		if c := a.SentAt.Compare(b.SentAt); c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}
