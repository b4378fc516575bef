package roomsync

import (
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestPresenceClassify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newPresenceTracker(DefaultTiming(), fixedClock(now))

	tests := []struct {
		name     string
		lastSeen time.Time
		offline  bool
		want     Quality
	}{
		{"never seen", time.Time{}, false, QualityConnecting},
		{"fresh heartbeat", now.Add(-time.Second), false, QualityGood},
		{"aging heartbeat", now.Add(-3 * time.Second), false, QualityPoor},
		{"stale heartbeat", now.Add(-10 * time.Second), false, QualityBad},
		{"local offline wins", now.Add(-time.Second), true, QualityOffline},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &Participant{ID: "p", LastSeen: tc.lastSeen}
			if got := tr.Classify(p, tc.offline); got != tc.want {
				t.Errorf("Classify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPresenceMarkStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newPresenceTracker(DefaultTiming(), fixedClock(now))
	r := newRoster()
	local := r.Ensure("local", "Local")
	local.IsLocal = true
	local.LastSeen = now.Add(-time.Hour)
	fresh := r.Ensure("fresh", "Fresh")
	fresh.LastSeen = now.Add(-time.Second)
	quiet := r.Ensure("quiet", "Quiet")
	quiet.LastSeen = now.Add(-time.Minute)

	if !tr.MarkStale(r) {
		t.Fatal("MarkStale reported no change")
	}
	if local.Inactive {
		t.Error("local participant marked inactive")
	}
	if fresh.Inactive {
		t.Error("fresh participant marked inactive")
	}
	if !quiet.Inactive {
		t.Error("silent participant not marked inactive")
	}
	if r.Len() != 3 {
		t.Errorf("roster size after sweep: got %d, want 3 (inactive stays in roster)", r.Len())
	}

	// Repeat with no new traffic: steady state, no change.
	if tr.MarkStale(r) {
		t.Error("second sweep with unchanged traffic reported a change")
	}
}

func TestPresenceHeartbeatRevivesInactive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newPresenceTracker(DefaultTiming(), fixedClock(now))
	p := &Participant{ID: "p", Inactive: true}

	if !tr.ObserveHeartbeat(p) {
		t.Error("reviving heartbeat reported no change")
	}
	if p.Inactive {
		t.Error("participant still inactive after heartbeat")
	}
	if !p.LastSeen.Equal(now) {
		t.Errorf("LastSeen: got %v, want %v", p.LastSeen, now)
	}
	if tr.ObserveHeartbeat(p) {
		t.Error("steady heartbeat reported a change")
	}
}

func TestPresenceAutoApprovalWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newPresenceTracker(DefaultTiming(), fixedClock(now))

	tests := []struct {
		name        string
		lastSeen    time.Time
		lastMessage time.Time
		want        bool
	}{
		{"never seen", time.Time{}, time.Time{}, false},
		{"heartbeat just now", now.Add(-time.Second), time.Time{}, true},
		{"heartbeat within window", now.Add(-4 * time.Minute), time.Time{}, true},
		{"heartbeat too old", now.Add(-6 * time.Minute), time.Time{}, false},
		{"message extends the window", now.Add(-6 * time.Minute), now.Add(-8 * time.Minute), true},
		{"message too old as well", now.Add(-20 * time.Minute), now.Add(-11 * time.Minute), false},
		{"message only", time.Time{}, now.Add(-time.Minute), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tr.RecentEnoughForAutoApproval(tc.lastSeen, tc.lastMessage)
			if got != tc.want {
				t.Errorf("RecentEnoughForAutoApproval() = %v, want %v", got, tc.want)
			}
		})
	}
}
