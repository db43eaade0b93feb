package mailbox

import (
	"sync"

	"github.com/teleprompt/teleprompt/pkg/payload"
)

// Mailbox holds at most one payload in flight. A new Put unconditionally
// replaces whatever is resident; a Drain atomically returns the resident
// payload and empties the slot, so of two racing drains exactly one wins.
// The relay server runs handlers on multiple goroutines, so the slot is
// guarded by a mutex rather than relying on event-loop atomicity.
type Mailbox struct {
	mu   sync.Mutex
	slot *payload.Payload
}

func New() *Mailbox {
	return &Mailbox{}
}

// Put replaces the resident payload. Any payload not yet drained is
// discarded; last write wins, no history.
func (m *Mailbox) Put(p payload.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot = &p
}

// Drain clears the slot and returns the resident payload, or reports false
// if the slot is empty. It never waits for a future Put.
func (m *Mailbox) Drain() (payload.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot == nil {
		return payload.Payload{}, false
	}
	p := *m.slot
	m.slot = nil
	return p, true
}

// Expire discards the resident payload if it was uploaded at or before
// cutoffMillis. Used by the optional janitor sweep; a drain-based consumer
// never needs this.
func (m *Mailbox) Expire(cutoffMillis int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot == nil || m.slot.Timestamp > cutoffMillis {
		return false
	}
	m.slot = nil
	return true
}
