// Package roomsync implements the room synchronization core for shared live
// captioning sessions: connection lifecycle, join/approval handshake, speaker
// arbitration, presence tracking, and transcript reconciliation over an
// unreliable bidirectional channel.
//
// All room state is owned by a single [Client] and mutated only under its
// lock; every handler runs to completion before the next one starts. The
// surrounding application drives the client through its exported methods and
// observes it through [Client.Snapshot] and [Client.Subscribe] — observers
// never mutate.
package roomsync

import "time"

// ConnState is the client's connection mode.
type ConnState int

const (
	// StateOffline is fully local operation. Peer state is cleared; local
	// identity and transcript are retained.
	StateOffline ConnState = iota

	// StateConnecting is an in-flight join attempt.
	StateConnecting

	// StateOnline is a live, healthy room connection.
	StateOnline

	// StateSearching is entered when heartbeats go stale while online. Room
	// and participant state are preserved while reconnection is attempted.
	StateSearching
)

// String returns the lowercase name of the state.
func (s ConnState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateSearching:
		return "searching"
	default:
		return "unknown"
	}
}

// Quality is the advisory connection-quality classification for one
// participant, derived purely from heartbeat recency. It never triggers
// disconnection by itself.
type Quality int

const (
	QualityOffline    Quality = iota // local client is offline
	QualityConnecting                // no heartbeat seen yet
	QualityGood                      // heartbeat within the good threshold
	QualityPoor                      // heartbeat between good and poor thresholds
	QualityBad                       // heartbeat older than the poor threshold
)

// String returns the lowercase name of the quality class.
func (q Quality) String() string {
	switch q {
	case QualityOffline:
		return "offline"
	case QualityConnecting:
		return "connecting"
	case QualityGood:
		return "good"
	case QualityPoor:
		return "poor"
	case QualityBad:
		return "bad"
	default:
		return "unknown"
	}
}

// Room describes the joined room. The concurrent-mode flag is declared by
// the server in the first room state push and is immutable for the session.
type Room struct {
	Code           string
	ConcurrentMode bool
}

// Participant is one device/user in the room. Field groups are owned by
// different sub-components: identity by the lifecycle manager, presence
// fields by the presence tracker, speaking fields by the arbiter, and live
// content fields by the content synchronizer. The groups are disjoint, so
// the components never contend for the same field.
type Participant struct {
	ID      string
	Name    string
	IsLocal bool

	// Presence (heartbeat tracker).
	LastSeen      time.Time
	LastMessageAt time.Time
	Inactive      bool

	// Speaking (arbiter).
	Pressed       bool
	RecentlySpoke bool

	// Live content (content synchronizer).
	LiveText  string
	Texting   bool
	AckedText string
}

// Expanded reports whether the participant's live content should be shown.
// After a collapse, content stays hidden until it changes.
func (p *Participant) Expanded() bool {
	return p.LiveText != "" && p.LiveText != p.AckedText
}

// Message is one transcript entry. Messages are keyed by a session-scoped ID
// that is stable across interim updates, so applying a message with an
// already-seen ID replaces in place rather than appending.
type Message struct {
	ID          string
	SpeakerID   string
	SpeakerName string
	Text        string
	Timestamp   time.Time
	Final       bool
	Dismissed   bool
	Edited      bool
}

// PendingJoin is the single remote join request surfaced for manual review.
type PendingJoin struct {
	RequesterID   string
	RequesterName string
	ReceivedAt    time.Time
}

// Snapshot is an immutable copy of the client's observable state. It is safe
// to retain and read from any goroutine.
type Snapshot struct {
	State     ConnState
	Room      *Room
	LocalID   string
	LocalName string

	// Participants are ordered by first appearance; the local participant is
	// always present once joined (and alone while offline).
	Participants []ParticipantView

	// Messages are ordered by first appearance of each message ID.
	Messages []Message

	// PendingJoin is non-nil while a remote join request awaits review.
	PendingJoin *PendingJoin
}

// ParticipantView is a participant copy annotated with its derived
// connection quality.
type ParticipantView struct {
	Participant
	Quality Quality
}
