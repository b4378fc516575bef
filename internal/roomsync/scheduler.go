package roomsync

import (
	"sync"
	"time"
)

// slot names one logical timer. The scheduler holds at most one pending fire
// per slot, so "cancel before reschedule" is guaranteed structurally rather
// than by call-site convention.
type slot string

const (
	slotOfflinePoll    slot = "offlinePoll"
	slotReconnect      slot = "reconnect"
	slotHeartbeat      slot = "heartbeat"
	slotStaleSweep     slot = "staleSweep"
	slotHealthCheck    slot = "healthCheck"
	slotSearchRetry    slot = "searchRetry"
	slotSearchEscalate slot = "searchEscalate"
	slotSearchDecision slot = "searchDecision"
	slotJoinRetry      slot = "joinRetry"
	slotSpeakGrace     slot = "speakGrace"
	slotProbeTimeout   slot = "probeTimeout"

	// slotAttemptJoinRetry is distinct from slotJoinRetry: a parallel join
	// attempt retries its handshake while the live channel's own room-state
	// handling keeps using (and cancelling) the plain join retry slot.
	slotAttemptJoinRetry slot = "attemptJoinRetry"
)

// scheduler owns named one-shot timer slots. Scheduling a slot that already
// has a pending fire replaces it; a fire that was replaced or cancelled
// after being queued by the runtime is discarded by a generation check.
//
// Callbacks run on timer goroutines; callers serialize their own state.
type scheduler struct {
	mu    sync.Mutex
	slots map[slot]*slotTimer
}

type slotTimer struct {
	timer *time.Timer
	gen   uint64
}

func newScheduler() *scheduler {
	return &scheduler{slots: make(map[slot]*slotTimer)}
}

// Schedule arms the slot to run fn after d, replacing any pending fire.
func (s *scheduler) Schedule(name slot, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.slots[name]
	if !ok {
		st = &slotTimer{}
		s.slots[name] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(d, func() {
		if !s.current(name, gen) {
			return
		}
		fn()
	})
}

// Cancel disarms the slot. A fire already queued by the runtime will be
// discarded. Cancelling an unknown slot is a no-op.
func (s *scheduler) Cancel(name slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.slots[name]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
}

// CancelAll disarms every slot.
func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.slots {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.gen++
	}
}

// Active reports whether the slot has a pending fire.
func (s *scheduler) Active(name slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.slots[name]
	return ok && st.timer != nil
}

// current reports whether gen is still the live generation for the slot, and
// marks the fire consumed when it is.
func (s *scheduler) current(name slot, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.slots[name]
	if !ok || st.gen != gen {
		return false
	}
	st.timer = nil
	return true
}
