package roomsync

import "time"

// presenceTracker derives liveness from heartbeat recency. It owns the
// LastSeen, LastMessageAt, and Inactive fields of every participant; the
// records are caches over observed traffic, never authoritative.
type presenceTracker struct {
	timing Timing
	now    func() time.Time
}

func newPresenceTracker(timing Timing, now func() time.Time) *presenceTracker {
	return &presenceTracker{timing: timing, now: now}
}

// ObserveHeartbeat records a heartbeat from p. A stale-marked participant
// returns to active the moment a heartbeat resumes. Reports whether the
// participant's observable presence changed.
func (t *presenceTracker) ObserveHeartbeat(p *Participant) bool {
	p.LastSeen = t.now()
	if p.Inactive {
		p.Inactive = false
		return true
	}
	return false
}

// ObserveMessage records transcript activity from p, used by the
// auto-approval recency heuristic.
func (t *presenceTracker) ObserveMessage(p *Participant) {
	p.LastMessageAt = t.now()
}

// MarkStale flags participants whose heartbeat silence exceeds the
// inactivity threshold. Inactive participants stay in the roster; they are
// de-emphasized, not removed. The local participant is never marked.
// Reports whether any flag changed.
func (t *presenceTracker) MarkStale(r *roster) bool {
	now := t.now()
	changed := false
	for _, p := range r.All() {
		if p.IsLocal {
			continue
		}
		stale := !p.LastSeen.IsZero() && now.Sub(p.LastSeen) > t.timing.InactiveAfter
		if stale != p.Inactive {
			p.Inactive = stale
			changed = true
		}
	}
	return changed
}

// Classify derives the advisory connection quality for p. localOffline
// forces the offline class regardless of recency.
func (t *presenceTracker) Classify(p *Participant, localOffline bool) Quality {
	if localOffline {
		return QualityOffline
	}
	if p.LastSeen.IsZero() {
		return QualityConnecting
	}
	age := t.now().Sub(p.LastSeen)
	switch {
	case age < t.timing.QualityGood:
		return QualityGood
	case age < t.timing.QualityPoor:
		return QualityPoor
	default:
		return QualityBad
	}
}

// RecentEnoughForAutoApproval reports whether activity at the given times is
// recent enough to treat a fresh join request as a reconnecting peer rather
// than a stranger. The timestamps survive roster removal, so a peer that
// dropped off entirely can still be recognized.
func (t *presenceTracker) RecentEnoughForAutoApproval(lastSeen, lastMessage time.Time) bool {
	now := t.now()
	if !lastMessage.IsZero() && now.Sub(lastMessage) < t.timing.AutoApproveMessage {
		return true
	}
	if !lastSeen.IsZero() && now.Sub(lastSeen) < t.timing.AutoApproveHeartbeat {
		return true
	}
	return false
}
