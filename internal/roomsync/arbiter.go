package roomsync

import "time"

// arbiter decides who may speak. It owns the Pressed and RecentlySpoke
// fields of every participant.
//
// In single-speaker mode at most one participant should be pressed at a
// time, enforced optimistically: a local press succeeds only when no other
// tracked press is live, and conflicting remote presses resolve
// last-writer-wins by arrival order. Brief double-speaking windows are
// acceptable and self-correct via heartbeats and the stale sweep.
type arbiter struct {
	timing     Timing
	concurrent bool
	now        func() time.Time
}

func newArbiter(timing Timing, now func() time.Time) *arbiter {
	return &arbiter{timing: timing, now: now}
}

// SetConcurrent fixes the room's speaking mode for the session.
func (a *arbiter) SetConcurrent(concurrent bool) { a.concurrent = concurrent }

// Concurrent reports the room's speaking mode.
func (a *arbiter) Concurrent() bool { return a.concurrent }

// TryPress attempts a local press. In concurrent mode it always succeeds;
// in single-speaker mode it fails while another participant's press is
// tracked. On success the local pressed state is set before any network
// round-trip.
func (a *arbiter) TryPress(local *Participant, r *roster) bool {
	if !a.concurrent {
		for _, p := range r.All() {
			if !p.IsLocal && p.Pressed {
				return false
			}
		}
	}
	local.Pressed = true
	return true
}

// Release clears the local press and opens the grace window during which a
// trailing final transcript fragment is still accepted.
func (a *arbiter) Release(local *Participant) {
	local.Pressed = false
	local.RecentlySpoke = true
}

// EndGrace closes the post-release grace window.
func (a *arbiter) EndGrace(local *Participant) {
	local.RecentlySpoke = false
}

// ApplyPress records a remote press event. In single-speaker mode the
// newest press wins: every other tracked press is cleared, so two live
// participants can never both hold the floor. Reports whether any pressed
// flag changed.
func (a *arbiter) ApplyPress(p *Participant, r *roster) bool {
	changed := false
	if !a.concurrent {
		for _, q := range r.All() {
			if q.ID != p.ID && q.Pressed {
				q.Pressed = false
				changed = true
			}
		}
	}
	if !p.Pressed {
		p.Pressed = true
		changed = true
	}
	return changed
}

// ApplyRelease records a remote release event.
func (a *arbiter) ApplyRelease(p *Participant) bool {
	if !p.Pressed {
		return false
	}
	p.Pressed = false
	return true
}

// SweepStale force-clears the pressed flag of any participant whose
// heartbeat is older than the speaker-stale threshold, so a disconnected
// speaker cannot hold the floor. The local participant is exempt (its
// liveness is not heartbeat-derived). Reports whether anything changed.
func (a *arbiter) SweepStale(r *roster) bool {
	now := a.now()
	changed := false
	for _, p := range r.All() {
		if p.IsLocal || !p.Pressed {
			continue
		}
		if p.LastSeen.IsZero() || now.Sub(p.LastSeen) > a.timing.SpeakerStaleAfter {
			p.Pressed = false
			changed = true
		}
	}
	return changed
}

// Speakers returns the IDs of currently pressed participants, in roster
// order.
func (a *arbiter) Speakers(r *roster) []string {
	var out []string
	for _, p := range r.All() {
		if p.Pressed {
			out = append(out, p.ID)
		}
	}
	return out
}
