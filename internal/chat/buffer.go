package chat

import "github.com/raphaelgruber/strand/internal/models"

// buffer holds the client-authored messages that the store has not yet
// confirmed. Entries carry a temporary id and are restricted to the
// sending and failed statuses. One entry exists per in-flight send; a
// failed entry is retained until the user retries or the session ends.
//
// The buffer is not safe for concurrent use; the owning Session
// serializes access.
type buffer struct {
	entries []models.Message
}

func newBuffer() *buffer {
	return &buffer{}
}

// add appends a new optimistic entry in creation order.
func (b *buffer) add(msg models.Message) {
	b.entries = append(b.entries, msg)
}

// get returns the entry with the given temporary id.
func (b *buffer) get(id string) (models.Message, bool) {
	for _, e := range b.entries {
		if e.ID == id {
			return e, true
		}
	}
	return models.Message{}, false
}

// setStatus moves an entry between sending and failed.
func (b *buffer) setStatus(id string, status models.Status) bool {
	for i := range b.entries {
		if b.entries[i].ID == id {
			b.entries[i].Status = status
			return true
		}
	}
	return false
}

// remove drops an entry once its send has completed.
func (b *buffer) remove(id string) {
	for i := range b.entries {
		if b.entries[i].ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns a copy of the current entries.
func (b *buffer) snapshot() []models.Message {
	out := make([]models.Message, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *buffer) len() int {
	return len(b.entries)
}
