package roomsync

import "time"

// Timing collects every interval and threshold the core uses. Production
// code uses [DefaultTiming]; tests compress the durations so that staleness
// and backoff behavior can be exercised in milliseconds.
type Timing struct {
	// HeartbeatInterval is how often the local heartbeat is emitted while
	// connected.
	HeartbeatInterval time.Duration

	// QualityGood and QualityPoor bound the advisory quality classes: a
	// heartbeat younger than QualityGood is "good", younger than QualityPoor
	// is "poor", anything older is "bad".
	QualityGood time.Duration
	QualityPoor time.Duration

	// InactiveAfter is the heartbeat silence after which a participant is
	// flagged inactive (still in the roster, de-emphasized).
	InactiveAfter time.Duration

	// StaleSweepInterval is the period of the arbiter's stale-speaker sweep.
	StaleSweepInterval time.Duration

	// SpeakerStaleAfter is the heartbeat silence after which a participant's
	// pressed flag is force-cleared by the sweep.
	SpeakerStaleAfter time.Duration

	// SpeakGrace is how long after a local release final transcript
	// fragments are still accepted and broadcast.
	SpeakGrace time.Duration

	// HealthCheckInterval is the period of the searching-mode entry check.
	HealthCheckInterval time.Duration

	// SearchingAfter is the channel heartbeat silence that flips an online
	// client into searching mode.
	SearchingAfter time.Duration

	// SearchRetryInterval is how often reconnection is attempted while
	// searching.
	SearchRetryInterval time.Duration

	// SearchEscalateAfter is how long into searching the status escalation
	// notice is raised.
	SearchEscalateAfter time.Duration

	// SearchDecisionAfter is how long into searching the keep-searching /
	// go-offline decision is offered to the application.
	SearchDecisionAfter time.Duration

	// OfflinePollInterval is the period of the offline connection poll loop.
	OfflinePollInterval time.Duration

	// BackoffUnit scales the linear reconnect backoff: attempt n waits
	// min(n, BackoffCapUnits) units.
	BackoffUnit     time.Duration
	BackoffCapUnits int

	// ProbeTimeout bounds a room occupancy probe; on expiry the room is
	// assumed available.
	ProbeTimeout time.Duration

	// JoinRetrySchedule are the delays for re-sending join when a room-state
	// push still lacks the local participant after nominal approval.
	JoinRetrySchedule []time.Duration

	// AutoApproveHeartbeat and AutoApproveMessage are the recency windows
	// under which a remote join request is treated as a reconnecting peer
	// and auto-approved.
	AutoApproveHeartbeat time.Duration
	AutoApproveMessage   time.Duration
}

// DefaultTiming returns the production timing profile.
func DefaultTiming() Timing {
	return Timing{
		HeartbeatInterval:    1 * time.Second,
		QualityGood:          2 * time.Second,
		QualityPoor:          5 * time.Second,
		InactiveAfter:        10 * time.Second,
		StaleSweepInterval:   1 * time.Second,
		SpeakerStaleAfter:    5 * time.Second,
		SpeakGrace:           2 * time.Second,
		HealthCheckInterval:  2 * time.Second,
		SearchingAfter:       5 * time.Second,
		SearchRetryInterval:  3 * time.Second,
		SearchEscalateAfter:  1 * time.Minute,
		SearchDecisionAfter:  2 * time.Minute,
		OfflinePollInterval:  10 * time.Second,
		BackoffUnit:          1 * time.Second,
		BackoffCapUnits:      60,
		ProbeTimeout:         10 * time.Second,
		JoinRetrySchedule:    []time.Duration{0, 500 * time.Millisecond, 2 * time.Second, 5 * time.Second},
		AutoApproveHeartbeat: 5 * time.Minute,
		AutoApproveMessage:   10 * time.Minute,
	}
}
