package roomsync

import (
	"sync"
	"time"
)

// Event is a notification raised after a batch of related state mutations.
// Observers react by reading [Client.Snapshot]; events carry just enough to
// decide whether an update is interesting.
type Event interface {
	event()
}

// StateChanged reports a connection state transition.
type StateChanged struct {
	Old, New ConnState
}

// RoomChanged reports that the joined room changed (joined, left, or swapped
// by a successful parallel join).
type RoomChanged struct {
	Room *Room // nil when no room is joined
}

// ParticipantsChanged reports any roster, presence, or speaking mutation.
type ParticipantsChanged struct{}

// MessagesChanged reports any transcript mutation.
type MessagesChanged struct{}

// JoinRequestPending reports that a remote join request awaits manual review.
type JoinRequestPending struct {
	Request PendingJoin
}

// JoinOutcome reports the terminal result of a local join attempt.
type JoinOutcome struct {
	RoomCode string
	Outcome  JoinResult
	Reason   string
}

// SearchingEscalated reports that searching has lasted past the escalation
// threshold; the UI should update its status message.
type SearchingEscalated struct {
	Since time.Time
}

// SearchingDecisionRequired reports that searching has lasted past the
// decision threshold. The application answers with [Client.KeepSearching]
// or [Client.GoOffline]; until then the client keeps searching.
type SearchingDecisionRequired struct {
	Since time.Time
}

// Notice is a dismissible, non-fatal message for the user (join denied,
// invalid room, and similar protocol-level outcomes).
type Notice struct {
	Text string
}

func (StateChanged) event()              {}
func (RoomChanged) event()               {}
func (ParticipantsChanged) event()       {}
func (MessagesChanged) event()           {}
func (JoinRequestPending) event()        {}
func (JoinOutcome) event()               {}
func (SearchingEscalated) event()        {}
func (SearchingDecisionRequired) event() {}
func (Notice) event()                    {}

// subscriberBuffer is each subscriber's event channel capacity. A slow
// observer loses intermediate events, never state: the snapshot is always
// current.
const subscriberBuffer = 32

// observers fans events out to subscribers. Publishing never blocks; a full
// subscriber channel drops the event.
type observers struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func newObservers() *observers {
	return &observers{subs: make(map[int]chan Event)}
}

// Subscribe registers a new observer. The returned cancel function closes
// the channel and releases the subscription.
func (o *observers) Subscribe() (<-chan Event, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	ch := make(chan Event, subscriberBuffer)
	o.subs[id] = ch
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
	}
}

// Publish delivers ev to every subscriber without blocking.
func (o *observers) Publish(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close tears down all subscriptions.
func (o *observers) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
