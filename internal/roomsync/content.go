package roomsync

import "time"

// contentSync reconciles transcript messages across participants. Messages
// are keyed by session-scoped IDs, so applying the same ID twice is an
// upsert: replace in place, never a duplicate append. List order is by first
// appearance of each ID.
//
// It also owns the live-content fields of every participant (LiveText,
// Texting, AckedText).
type contentSync struct {
	list  []*Message
	index map[string]int
	now   func() time.Time
}

func newContentSync(now func() time.Time) *contentSync {
	return &contentSync{index: make(map[string]int), now: now}
}

// Upsert applies a transcript message. A new ID appends; a seen ID replaces
// the payload in place, keeping the original list position and timestamp. A
// finalized message is immutable to later interim updates from the network
// (a duplicate final still replaces, keeping application idempotent).
// Reports whether the list changed.
func (cs *contentSync) Upsert(m Message) bool {
	if i, ok := cs.index[m.ID]; ok {
		cur := cs.list[i]
		if cur.Final && !m.Final {
			return false
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = cur.Timestamp
		}
		m.Dismissed = cur.Dismissed
		m.Edited = cur.Edited
		if *cur == m {
			return false
		}
		cs.list[i] = &m
		return true
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = cs.now()
	}
	cs.index[m.ID] = len(cs.list)
	cs.list = append(cs.list, &m)
	return true
}

// Edit is a user-level edit of a finalized message, layered on top of the
// network upsert rules. Reports whether the message existed.
func (cs *contentSync) Edit(id, text string) bool {
	i, ok := cs.index[id]
	if !ok {
		return false
	}
	m := cs.list[i]
	if m.Text != text {
		m.Text = text
		m.Edited = true
	}
	return true
}

// Dismiss hides a message. Reports whether the message existed.
func (cs *contentSync) Dismiss(id string) bool {
	i, ok := cs.index[id]
	if !ok {
		return false
	}
	cs.list[i].Dismissed = true
	return true
}

// Get returns a copy of the message with the given ID.
func (cs *contentSync) Get(id string) (Message, bool) {
	i, ok := cs.index[id]
	if !ok {
		return Message{}, false
	}
	return *cs.list[i], true
}

// Messages returns copies of all messages in first-appearance order.
func (cs *contentSync) Messages() []Message {
	out := make([]Message, len(cs.list))
	for i, m := range cs.list {
		out[i] = *m
	}
	return out
}

// Len returns the message count.
func (cs *contentSync) Len() int { return len(cs.list) }

// Clear drops all messages.
func (cs *contentSync) Clear() {
	cs.list = nil
	cs.index = make(map[string]int)
}

// ApplyLive updates a participant's in-progress content. Content that
// differs from the acknowledged snapshot re-expands a collapsed view.
// Reports whether anything changed.
func (cs *contentSync) ApplyLive(p *Participant, text string) bool {
	if p.LiveText == text {
		return false
	}
	p.LiveText = text
	return true
}

// SetTexting updates a participant's typing flag. Reports whether it changed.
func (cs *contentSync) SetTexting(p *Participant, texting bool) bool {
	if p.Texting == texting {
		return false
	}
	p.Texting = texting
	return true
}

// Collapse snapshots p's current live content as acknowledged. The view
// stays collapsed until different content arrives — a one-way debounce, so
// stale walls of text do not linger but new content is never lost.
func (cs *contentSync) Collapse(p *Participant) {
	p.AckedText = p.LiveText
}
