package roomsync

import (
	"errors"
	"time"

	"github.com/sonohq/roomlink/pkg/channel"
	"github.com/sonohq/roomlink/pkg/protocol"
)

// JoinResult is the terminal outcome of one local join attempt.
type JoinResult int

const (
	JoinResultApproved JoinResult = iota
	JoinResultDenied
	JoinResultCancelled
	JoinResultFailed
)

// String returns the lowercase name of the result.
func (r JoinResult) String() string {
	switch r {
	case JoinResultApproved:
		return "approved"
	case JoinResultDenied:
		return "denied"
	case JoinResultCancelled:
		return "cancelled"
	case JoinResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// joinStage is the handshake progress of one attempt.
type joinStage int

const (
	stageDialing joinStage = iota
	stageProbing
	stageJoining
	stageAwaiting
)

// attemptSpec parameterizes a join attempt.
type attemptSpec struct {
	// code is the room to join.
	code string

	// parallel runs the attempt on a temporary channel while the existing
	// room connection stays live; promotion swaps the channels atomically,
	// and any failure leaves the original untouched.
	parallel bool

	// probeFirst checks the room's occupancy before sending join.
	probeFirst bool

	// generated marks a locally generated room code; an occupied probe
	// result advances to the next candidate instead of the approval path.
	generated bool

	// fallbackToGenerated retries with a fresh generated room after this
	// attempt fails, implementing the attemptConnection fallback chain.
	fallbackToGenerated bool

	// quiet suppresses user-facing events, used by searching-mode
	// reconnects.
	quiet bool
}

// joinAttempt is the live state of the join/approval machine. At most one
// attempt exists at a time; the seq guard discards results from abandoned
// attempts.
type joinAttempt struct {
	attemptSpec
	seq        uint64
	stage      joinStage
	ch         channel.Channel
	candidates int
	retries    int
	approved   bool
}

var errJoinLost = errors.New("roomsync: approved join never materialized in room state")

// startAttempt begins a join attempt. Caller holds the lock. For
// non-parallel attempts any existing channel is closed first — at most one
// live room channel, plus at most one temporary attempt channel, exist at
// any time.
func (c *Client) startAttempt(spec attemptSpec, ev *[]Event) {
	if c.attempt != nil || c.closed {
		return
	}
	c.attemptSeq++
	a := &joinAttempt{attemptSpec: spec, seq: c.attemptSeq, stage: stageDialing}
	c.attempt = a

	if !spec.parallel {
		if c.conn != nil {
			c.conn.Close("rejoining")
			c.conn = nil
		}
		c.setState(StateConnecting, ev)
	}

	c.log.Info("starting join attempt",
		"room", spec.code,
		"parallel", spec.parallel,
		"probe", spec.probeFirst,
	)
	c.dial(a)
}

// startGeneratedAttempt begins the create-a-fresh-room path: generate a
// candidate code and probe it for uniqueness, advancing through up to
// codeProbeBudget candidates before the timestamp fallback.
func (c *Client) startGeneratedAttempt(ev *[]Event) {
	c.startAttempt(attemptSpec{
		code:       newRoomCode(c.rng),
		probeFirst: true,
		generated:  true,
	}, ev)
}

// dial connects on a fresh goroutine; the result re-enters the state
// machine through onDialResult. Caller holds the lock.
func (c *Client) dial(a *joinAttempt) {
	go func(seq uint64, code string) {
		ch, err := c.dialer.Dial(c.ctx, channel.DialOptions{
			RoomCode:  code,
			AccessKey: c.accessKey,
		})
		c.onDialResult(seq, ch, err)
	}(a.seq, a.code)
}

func (c *Client) onDialResult(seq uint64, ch channel.Channel, err error) {
	c.mu.Lock()
	var ev []Event
	a := c.attempt
	if a == nil || a.seq != seq {
		if ch != nil {
			ch.Close("attempt abandoned")
		}
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.log.Debug("join attempt dial failed", "room", a.code, "err", err)
		c.attemptFailed(err, &ev)
		c.mu.Unlock()
		c.publish(ev)
		return
	}

	a.ch = ch
	go c.pump(ch)

	if a.probeFirst {
		a.stage = stageProbing
		c.send(ch, &protocol.CheckRoom{})
		c.sched.Schedule(slotProbeTimeout, c.timing.ProbeTimeout, c.onProbeTimeout)
	} else {
		c.sendJoin(a)
	}
	c.mu.Unlock()
	c.publish(ev)
}

// onProbeTimeout fires when the occupancy probe got no answer: assume the
// room is available and join anyway.
func (c *Client) onProbeTimeout() {
	c.mu.Lock()
	if a := c.attempt; a != nil && a.stage == stageProbing {
		c.log.Debug("room probe timed out, assuming available", "room", a.code)
		c.sendJoin(a)
	}
	c.mu.Unlock()
}

// sendJoin transitions the attempt to the joining stage. Caller holds the
// lock.
func (c *Client) sendJoin(a *joinAttempt) {
	a.stage = stageJoining
	c.send(a.ch, &protocol.Join{DeviceID: c.deviceID, DisplayName: c.userName})
}

// handleAttemptMessage drives the handshake on the attempt channel.
func (c *Client) handleAttemptMessage(msg protocol.Message, ev *[]Event) {
	a := c.attempt
	switch m := msg.(type) {
	case *protocol.RoomStatus:
		if a.stage != stageProbing {
			return
		}
		c.sched.Cancel(slotProbeTimeout)
		switch {
		case m.IsEmpty:
			c.sendJoin(a)
		case a.generated:
			// Candidate code is taken; probe the next one.
			c.nextCandidate(a)
		default:
			// Occupied: join via the approval path.
			c.sendJoin(a)
		}

	case *protocol.RoomState:
		if c.roomStateHasLocal(m) {
			c.promote(a, m, ev)
			return
		}
		if a.approved {
			c.scheduleAttemptJoinRetry(a, ev)
		}

	case *protocol.AwaitingApproval:
		a.stage = stageAwaiting
		if !a.quiet {
			text := m.Message
			if text == "" {
				text = "waiting for approval to join " + a.code
			}
			*ev = append(*ev, Notice{Text: text})
		}

	case *protocol.JoinApproved:
		a.approved = true

	case *protocol.JoinDeclined:
		reason := m.Reason
		if reason == "" && m.DeclinerName != "" {
			reason = "declined by " + m.DeclinerName
		}
		c.failAttemptDenied(a, reason, ev)

	case *protocol.JoinDenied:
		c.failAttemptDenied(a, m.Reason, ev)

	case *protocol.JoinCancelled:
		// Acknowledgement of our own cancellation; CancelJoin already tore
		// the attempt down.

	default:
		// Room traffic before promotion carries no handshake state.
		c.log.Debug("ignoring message on attempt channel", "type", string(msg.MsgType()))
	}
}

// scheduleAttemptJoinRetry re-sends join on the bounded retry schedule when
// the server says approved but the room state still lacks us. After the
// schedule is exhausted the attempt fails silently.
func (c *Client) scheduleAttemptJoinRetry(a *joinAttempt, ev *[]Event) {
	if a.retries >= len(c.timing.JoinRetrySchedule) {
		c.attemptFailed(errJoinLost, ev)
		return
	}
	delay := c.timing.JoinRetrySchedule[a.retries]
	a.retries++
	seq := a.seq
	c.sched.Schedule(slotAttemptJoinRetry, delay, func() {
		c.mu.Lock()
		if cur := c.attempt; cur != nil && cur.seq == seq && cur.ch != nil {
			c.log.Debug("re-sending join after absent room state", "room", cur.code, "retry", cur.retries)
			c.send(cur.ch, &protocol.Join{DeviceID: c.deviceID, DisplayName: c.userName})
		}
		c.mu.Unlock()
	})
}

// promote makes the attempt channel the live room channel. For parallel
// attempts this is the atomic swap point: the old connection is torn down
// only now that the new join has succeeded.
func (c *Client) promote(a *joinAttempt, rs *protocol.RoomState, ev *[]Event) {
	c.sched.Cancel(slotProbeTimeout)
	c.sched.Cancel(slotAttemptJoinRetry)
	c.sched.Cancel(slotJoinRetry)
	c.joinRetries = 0

	old := c.conn
	c.conn = a.ch
	c.attempt = nil
	if old != nil {
		old.Close("replaced by new connection")
	}

	prevCode := ""
	if c.room != nil {
		prevCode = c.room.Code
	}
	c.savedRoom = a.code
	c.room = &Room{Code: a.code, ConcurrentMode: rs.ConcurrentMode}
	c.arb.SetConcurrent(rs.ConcurrentMode)
	if prevCode != a.code {
		*ev = append(*ev, RoomChanged{Room: c.roomCopy()})
	}
	c.applyRoomState(rs, ev)

	c.lastTraffic = c.now()
	c.searchingSince = time.Time{}
	c.reconnect.Reset()
	c.sched.Cancel(slotOfflinePoll)
	c.sched.Cancel(slotReconnect)
	c.sched.Cancel(slotSearchRetry)
	c.sched.Cancel(slotSearchEscalate)
	c.sched.Cancel(slotSearchDecision)
	c.setState(StateOnline, ev)

	c.sched.Schedule(slotHeartbeat, c.timing.HeartbeatInterval, c.onHeartbeatTick)
	c.sched.Schedule(slotStaleSweep, c.timing.StaleSweepInterval, c.onStaleSweep)
	c.sched.Schedule(slotHealthCheck, c.timing.HealthCheckInterval, c.onHealthCheck)

	// Announce presence right away rather than waiting a full interval.
	local := c.local()
	hb := &protocol.Heartbeat{ParticipantID: c.deviceID}
	if local != nil {
		hb.IsPressed = local.Pressed
		hb.CurrentText = local.LiveText
		hb.IsTexting = local.Texting
	}
	c.send(c.conn, hb)

	c.log.Info("joined room", "room", a.code, "concurrent", rs.ConcurrentMode)
	c.countJoinOutcome("approved")
	if !a.quiet {
		*ev = append(*ev, JoinOutcome{RoomCode: a.code, Outcome: JoinResultApproved})
	}
}

// nextCandidate advances the create-room path to the next generated code,
// falling back to a timestamp-derived code once the probe budget is spent.
func (c *Client) nextCandidate(a *joinAttempt) {
	if a.ch != nil {
		a.ch.Close("candidate occupied")
		a.ch = nil
	}
	a.candidates++
	if a.candidates >= codeProbeBudget {
		a.code = fallbackRoomCode(c.now())
		a.probeFirst = false
		c.log.Debug("room code probe budget spent, using fallback", "room", a.code)
	} else {
		a.code = newRoomCode(c.rng)
	}
	a.stage = stageDialing
	c.dial(a)
}

// failAttemptDenied handles a protocol-level rejection: a dismissible notice
// for the user, never a hard failure. A parallel attempt leaves the original
// room connection untouched.
func (c *Client) failAttemptDenied(a *joinAttempt, reason string, ev *[]Event) {
	code := a.code
	c.teardownAttempt()
	c.countJoinOutcome("denied")
	if !a.quiet {
		*ev = append(*ev, JoinOutcome{RoomCode: code, Outcome: JoinResultDenied, Reason: reason})
		text := "could not join " + code
		if reason != "" {
			text += ": " + reason
		}
		*ev = append(*ev, Notice{Text: text})
	}
	if a.parallel {
		return
	}
	if a.fallbackToGenerated {
		c.startGeneratedAttempt(ev)
		return
	}
	c.toOffline(ev, offlineAuto)
}

// attemptFailed handles a transport-level attempt failure. Failures are
// swallowed: the fallback chain continues, and its end is offline mode.
func (c *Client) attemptFailed(err error, ev *[]Event) {
	a := c.attempt
	if a == nil {
		return
	}
	c.log.Debug("join attempt failed", "room", a.code, "err", err)
	c.teardownAttempt()
	c.countJoinOutcome("failed")
	if a.parallel {
		// Searching-mode or parallel-join attempt: the existing connection
		// (however unhealthy) remains authoritative.
		return
	}
	if a.fallbackToGenerated && !a.generated {
		c.startGeneratedAttempt(ev)
		return
	}
	if c.reconnect.Attempt() > 0 && c.sharing && !c.closed {
		// A reconnect cycle is in progress: keep the linear backoff
		// growing instead of falling back to the fixed offline poll.
		c.toOffline(ev, offlineManual)
		delay := c.reconnect.Next()
		c.log.Info("scheduling reconnect", "attempt", c.reconnect.Attempt(), "delay", delay)
		c.sched.Schedule(slotReconnect, delay, c.onReconnect)
		return
	}
	c.toOffline(ev, offlineAuto)
}

// teardownAttempt discards the in-flight attempt and its timers. Caller
// holds the lock.
func (c *Client) teardownAttempt() {
	a := c.attempt
	if a == nil {
		return
	}
	c.attempt = nil
	c.sched.Cancel(slotProbeTimeout)
	c.sched.Cancel(slotAttemptJoinRetry)
	if a.ch != nil {
		a.ch.Close("attempt abandoned")
	}
}
