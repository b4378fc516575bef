package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sonohq/roomlink/internal/observe"
	"github.com/sonohq/roomlink/pkg/channel"
	"github.com/sonohq/roomlink/pkg/protocol"
	"github.com/sonohq/roomlink/pkg/stt"
)

// metricAttr builds a single-string-attribute measurement option.
func metricAttr(key, value string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(key, value))
}

// Options configures a [Client].
type Options struct {
	// Dialer establishes room channels. Required.
	Dialer channel.Dialer

	// DeviceID is the stable per-device identifier. Generated when empty.
	DeviceID string

	// SavedRoomCode is the room to reconnect to on the first connection
	// attempt, typically restored from local settings.
	SavedRoomCode string

	// AccessKey is the optional shared room access key.
	AccessKey string

	// SharingDisabled turns off all connection attempts; the client stays
	// in offline solo mode.
	SharingDisabled bool

	// Timing overrides the production timing profile. Zero value means
	// [DefaultTiming].
	Timing Timing

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics is optional; when nil no metrics are recorded.
	Metrics *observe.Metrics

	// Now overrides the clock for tests.
	Now func() time.Time

	// Rand seeds room code generation for tests.
	Rand *rand.Rand
}

// Client is the room synchronization engine. It owns the connection
// lifecycle, the join/approval handshake, speaker arbitration, presence
// tracking, and transcript reconciliation.
//
// All state is guarded by one mutex; every handler — public API call,
// inbound message, timer fire — runs to completion under it, giving the
// run-to-completion semantics of a single-threaded event loop. Handlers
// never wait on the network while other work is runnable: dials happen on
// their own goroutines and report back through a handler.
type Client struct {
	mu sync.Mutex

	dialer    channel.Dialer
	timing    Timing
	log       *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time
	rng       *rand.Rand
	sched     *scheduler
	obs       *observers
	ctx       context.Context
	cancelCtx context.CancelFunc

	deviceID  string
	userName  string
	sharing   bool
	accessKey string
	savedRoom string

	state ConnState
	room  *Room
	conn  channel.Channel

	roster   *roster
	presence *presenceTracker
	arb      *arbiter
	content  *contentSync

	// seen survives roster removal so the auto-approval heuristic can
	// recognize a peer that dropped off entirely.
	seen map[string]activityRecord

	pending *PendingJoin
	blocked map[string]bool

	attempt    *joinAttempt
	attemptSeq uint64
	reconnect  *backoff

	lastTraffic    time.Time
	searchingSince time.Time

	// Session-scoped message IDs: stable across interim updates, cleared on
	// finalization.
	speakMsgID string
	typeMsgID  string

	joinRetries int
	initialized bool
	closed      bool

	speech stt.Source
}

// activityRecord caches a device's last observed traffic for the
// auto-approval heuristic.
type activityRecord struct {
	lastSeen    time.Time
	lastMessage time.Time
}

// New creates a Client. The client starts inert; call
// [Client.InitializeOffline] and then [Client.AttemptConnection].
func New(opts Options) *Client {
	timing := opts.Timing
	if timing.HeartbeatInterval == 0 {
		timing = DefaultTiming()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	deviceID := opts.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		dialer:    opts.Dialer,
		timing:    timing,
		log:       log,
		metrics:   opts.Metrics,
		now:       now,
		rng:       rng,
		sched:     newScheduler(),
		obs:       newObservers(),
		ctx:       ctx,
		cancelCtx: cancel,
		deviceID:  deviceID,
		sharing:   !opts.SharingDisabled,
		accessKey: opts.AccessKey,
		savedRoom: opts.SavedRoomCode,
		state:     StateOffline,
		roster:    newRoster(),
		presence:  newPresenceTracker(timing, now),
		arb:       newArbiter(timing, now),
		content:   newContentSync(now),
		seen:      make(map[string]activityRecord),
		blocked:   make(map[string]bool),
		reconnect: newBackoff(timing.BackoffUnit, timing.BackoffCapUnits),
	}
}

// DeviceID returns the stable per-device identifier.
func (c *Client) DeviceID() string { return c.deviceID }

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// InitializeOffline sets the local identity and enters offline solo mode.
// While sharing is enabled, a background poll keeps attempting a connection.
// Idempotent if already offline.
func (c *Client) InitializeOffline(userName string) {
	c.mu.Lock()
	var ev []Event
	c.userName = userName
	local := c.roster.Ensure(c.deviceID, userName)
	local.IsLocal = true
	if !c.initialized {
		c.initialized = true
		c.setState(StateOffline, &ev)
		ev = append(ev, ParticipantsChanged{})
	}
	if c.sharing {
		c.scheduleOfflinePoll()
	}
	c.mu.Unlock()
	c.publish(ev)
}

// AttemptConnection tries to get online: probe the saved room if any, join
// it directly when empty or via the approval path when occupied, and on any
// failure fall back to a locally generated room. Failures are swallowed —
// offline mode is the safe fallback, never an error to the caller.
func (c *Client) AttemptConnection(savedRoomCode string) {
	c.mu.Lock()
	var ev []Event
	if !c.sharing || c.closed || c.attempt != nil ||
		c.state == StateOnline || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	if savedRoomCode == "" {
		savedRoomCode = c.savedRoom
	}
	if savedRoomCode != "" {
		c.startAttempt(attemptSpec{code: savedRoomCode, probeFirst: true, fallbackToGenerated: true}, &ev)
	} else {
		c.startGeneratedAttempt(&ev)
	}
	c.mu.Unlock()
	c.publish(ev)
}

// JoinRoom joins the given room explicitly. While already connected to a
// different room, the attempt runs on a temporary parallel channel so the
// existing connection is untouched until the new join succeeds.
func (c *Client) JoinRoom(code, name string) {
	c.mu.Lock()
	var ev []Event
	if c.closed || c.attempt != nil {
		c.mu.Unlock()
		return
	}
	if name != "" {
		c.userName = name
		if local := c.local(); local != nil {
			local.Name = name
		}
	}
	parallel := c.state == StateOnline && c.room != nil && c.room.Code != code
	c.startAttempt(attemptSpec{code: code, parallel: parallel}, &ev)
	c.mu.Unlock()
	c.publish(ev)
}

// CancelJoin withdraws the in-flight join attempt. A parallel attempt's
// cancellation leaves the existing room connection untouched.
func (c *Client) CancelJoin() {
	c.mu.Lock()
	var ev []Event
	if a := c.attempt; a != nil {
		if a.ch != nil {
			c.send(a.ch, &protocol.CancelJoin{})
		}
		code := a.code
		parallel := a.parallel
		c.teardownAttempt()
		ev = append(ev, JoinOutcome{RoomCode: code, Outcome: JoinResultCancelled})
		c.countJoinOutcome("cancelled")
		if !parallel {
			c.toOffline(&ev, offlineAuto)
		}
	}
	c.mu.Unlock()
	c.publish(ev)
}

// LeaveRoom closes the channel, cancels every timer, and clears all room
// state. The client ends in a neutral offline state with no scheduled
// reconnection; the caller decides whether to re-enter offline polling via
// [Client.InitializeOffline].
func (c *Client) LeaveRoom() {
	c.mu.Lock()
	var ev []Event
	c.teardownAttempt()
	c.sched.CancelAll()
	if c.conn != nil {
		c.conn.Close("leaving room")
		c.conn = nil
	}
	c.clearRoom(&ev)
	if c.content.Len() > 0 {
		c.content.Clear()
		ev = append(ev, MessagesChanged{})
	}
	c.pending = nil
	c.searchingSince = time.Time{}
	c.reconnect.Reset()
	c.setState(StateOffline, &ev)
	c.mu.Unlock()
	c.publish(ev)
}

// Disconnect is an alias for [Client.LeaveRoom].
func (c *Client) Disconnect() { c.LeaveRoom() }

// Close shuts the client down permanently.
func (c *Client) Close() {
	c.LeaveRoom()
	c.mu.Lock()
	c.closed = true
	src := c.speech
	c.speech = nil
	c.mu.Unlock()
	if src != nil {
		if err := src.Stop(); err != nil {
			c.log.Warn("stopping speech source", "err", err)
		}
	}
	c.cancelCtx()
	c.obs.Close()
}

// KeepSearching answers a [SearchingDecisionRequired] event by re-arming the
// searching escalation timers and continuing to search.
func (c *Client) KeepSearching() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSearching {
		return
	}
	c.searchingSince = c.now()
	c.armSearchingEscalation()
}

// GoOffline answers a [SearchingDecisionRequired] event by dropping to
// offline mode explicitly. Unlike automatic offline entry, no further
// reconnection attempts are scheduled.
func (c *Client) GoOffline() {
	c.mu.Lock()
	var ev []Event
	c.teardownAttempt()
	c.sched.CancelAll()
	if c.conn != nil {
		c.conn.Close("user chose offline")
		c.conn = nil
	}
	c.clearRoom(&ev)
	c.searchingSince = time.Time{}
	c.setState(StateOffline, &ev)
	c.mu.Unlock()
	c.publish(ev)
}

// ─── Speaking ─────────────────────────────────────────────────────────────────

// RequestSpeak attempts to take the floor. In single-speaker mode it fails
// while another participant's press is tracked; in concurrent mode (and in
// offline solo mode) it always succeeds. On success the local speaking state
// is set before any network round-trip.
func (c *Client) RequestSpeak() bool {
	c.mu.Lock()
	local := c.local()
	if local == nil {
		c.mu.Unlock()
		return false
	}
	ok := c.arb.TryPress(local, c.roster)
	var ev []Event
	if ok {
		c.sched.Cancel(slotSpeakGrace)
		c.arb.EndGrace(local)
		if c.speakMsgID == "" {
			c.speakMsgID = uuid.NewString()
		}
		c.send(c.conn, &protocol.ButtonPressed{ParticipantID: c.deviceID, ParticipantName: c.userName})
		ev = append(ev, ParticipantsChanged{})
	}
	c.mu.Unlock()
	c.publish(ev)
	return ok
}

// ReleaseSpeak gives up the floor. A short grace window keeps accepting a
// trailing final transcript fragment that arrives after the release.
func (c *Client) ReleaseSpeak() {
	c.mu.Lock()
	var ev []Event
	if local := c.local(); local != nil && local.Pressed {
		c.arb.Release(local)
		c.send(c.conn, &protocol.ButtonReleased{ParticipantID: c.deviceID, ParticipantName: c.userName})
		c.sched.Schedule(slotSpeakGrace, c.timing.SpeakGrace, c.onSpeakGraceExpired)
		ev = append(ev, ParticipantsChanged{})
	}
	c.mu.Unlock()
	c.publish(ev)
}

func (c *Client) onSpeakGraceExpired() {
	c.mu.Lock()
	var ev []Event
	if local := c.local(); local != nil && local.RecentlySpoke {
		c.arb.EndGrace(local)
		c.speakMsgID = ""
		if c.content.ApplyLive(local, "") {
			ev = append(ev, ParticipantsChanged{})
		}
	}
	c.mu.Unlock()
	c.publish(ev)
}

// BindSpeech starts src and routes every recognized fragment through
// [Client.HandleTranscript]. At most one source may be bound; it is stopped
// when the client closes.
func (c *Client) BindSpeech(src stt.Source) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("roomsync: client closed")
	}
	if c.speech != nil {
		c.mu.Unlock()
		return errors.New("roomsync: speech source already bound")
	}
	c.speech = src
	c.mu.Unlock()

	if err := src.Start(func(t stt.Transcript) {
		c.HandleTranscript(t.Text, t.IsFinal)
	}); err != nil {
		c.mu.Lock()
		c.speech = nil
		c.mu.Unlock()
		return fmt.Errorf("roomsync: start speech source: %w", err)
	}
	return nil
}

// HandleTranscript feeds one recognized speech fragment from the external
// speech-to-text engine. Fragments are accepted while speaking or within the
// post-release grace window, and broadcast immediately; the message ID stays
// stable across interim updates of one speaking session.
func (c *Client) HandleTranscript(text string, isFinal bool) {
	c.mu.Lock()
	var ev []Event
	local := c.local()
	if local == nil || (!local.Pressed && !local.RecentlySpoke) || text == "" {
		c.mu.Unlock()
		return
	}
	if c.speakMsgID == "" {
		c.speakMsgID = uuid.NewString()
	}
	id := c.speakMsgID

	if c.content.Upsert(Message{
		ID:          id,
		SpeakerID:   c.deviceID,
		SpeakerName: c.userName,
		Text:        text,
		Final:       isFinal,
	}) {
		ev = append(ev, MessagesChanged{})
	}
	c.send(c.conn, &protocol.Caption{
		MessageID:       id,
		ParticipantID:   c.deviceID,
		ParticipantName: c.userName,
		Text:            text,
		IsFinal:         isFinal,
		Timestamp:       c.now().UnixMilli(),
	})

	if isFinal {
		c.speakMsgID = ""
		if c.content.ApplyLive(local, "") {
			ev = append(ev, ParticipantsChanged{})
		}
	} else {
		if c.content.ApplyLive(local, text) {
			ev = append(ev, ParticipantsChanged{})
		}
		c.send(c.conn, &protocol.LiveSTT{ParticipantID: c.deviceID, Text: text})
	}
	c.mu.Unlock()
	c.publish(ev)
}

// ─── Typed content ────────────────────────────────────────────────────────────

// SetLiveText updates the local in-progress typed text and broadcasts it.
// The first non-empty content of a typing session allocates the session's
// message ID.
func (c *Client) SetLiveText(text string) {
	c.mu.Lock()
	var ev []Event
	if local := c.local(); local != nil {
		if text != "" && c.typeMsgID == "" {
			c.typeMsgID = uuid.NewString()
		}
		if c.content.ApplyLive(local, text) {
			ev = append(ev, ParticipantsChanged{})
		}
		c.send(c.conn, &protocol.LiveTextContent{ParticipantID: c.deviceID, Text: text})
	}
	c.mu.Unlock()
	c.publish(ev)
}

// SetTexting updates and broadcasts the local typing flag.
func (c *Client) SetTexting(texting bool) {
	c.mu.Lock()
	var ev []Event
	if local := c.local(); local != nil {
		if c.content.SetTexting(local, texting) {
			ev = append(ev, ParticipantsChanged{})
		}
		c.send(c.conn, &protocol.LiveTextingStatus{ParticipantID: c.deviceID, IsTexting: texting})
	}
	c.mu.Unlock()
	c.publish(ev)
}

// SendTextMessage sends a typed message. It is final immediately, with no
// interim phase, and ends the current typing session.
func (c *Client) SendTextMessage(text string) {
	c.mu.Lock()
	var ev []Event
	local := c.local()
	if local == nil || text == "" {
		c.mu.Unlock()
		return
	}
	id := c.typeMsgID
	if id == "" {
		id = uuid.NewString()
	}
	c.typeMsgID = ""

	if c.content.Upsert(Message{
		ID:          id,
		SpeakerID:   c.deviceID,
		SpeakerName: c.userName,
		Text:        text,
		Final:       true,
	}) {
		ev = append(ev, MessagesChanged{})
	}
	if c.content.ApplyLive(local, "") {
		ev = append(ev, ParticipantsChanged{})
	}
	if c.content.SetTexting(local, false) {
		ev = append(ev, ParticipantsChanged{})
	}
	c.send(c.conn, &protocol.TextMessage{
		MessageID:       id,
		Text:            text,
		ParticipantID:   c.deviceID,
		ParticipantName: c.userName,
	})
	c.mu.Unlock()
	c.publish(ev)
}

// EditMessage applies a user-level edit to a finalized message. Reports
// whether the message existed.
func (c *Client) EditMessage(id, text string) bool {
	c.mu.Lock()
	ok := c.content.Edit(id, text)
	c.mu.Unlock()
	if ok {
		c.publish([]Event{MessagesChanged{}})
	}
	return ok
}

// DismissMessage hides a message from the transcript view. Reports whether
// the message existed.
func (c *Client) DismissMessage(id string) bool {
	c.mu.Lock()
	ok := c.content.Dismiss(id)
	c.mu.Unlock()
	if ok {
		c.publish([]Event{MessagesChanged{}})
	}
	return ok
}

// CollapseParticipant acknowledges a participant's current live content so
// it stops being displayed; different content arriving later re-expands the
// view automatically.
func (c *Client) CollapseParticipant(id string) {
	c.mu.Lock()
	var ev []Event
	if p := c.roster.Get(id); p != nil {
		c.content.Collapse(p)
		ev = append(ev, ParticipantsChanged{})
	}
	c.mu.Unlock()
	c.publish(ev)
}

// ─── Join approval (local occupant side) ──────────────────────────────────────

// ApproveJoin approves the surfaced pending join request.
func (c *Client) ApproveJoin() {
	c.mu.Lock()
	if c.pending != nil {
		c.send(c.conn, &protocol.ApproveJoin{RequesterID: c.pending.RequesterID})
		c.pending = nil
	}
	c.mu.Unlock()
}

// DeclineJoin declines the surfaced pending join request.
func (c *Client) DeclineJoin() {
	c.mu.Lock()
	if c.pending != nil {
		c.send(c.conn, &protocol.DeclineJoin{RequesterID: c.pending.RequesterID})
		c.pending = nil
	}
	c.mu.Unlock()
}

// BlockJoin declines the surfaced pending join request and bars the device
// from being surfaced again; later requests from it are auto-declined.
func (c *Client) BlockJoin() {
	c.mu.Lock()
	if c.pending != nil {
		c.blocked[c.pending.RequesterID] = true
		c.send(c.conn, &protocol.DeclineJoin{RequesterID: c.pending.RequesterID})
		c.pending = nil
	}
	c.mu.Unlock()
}

// RemoveParticipant evicts a participant from the room.
func (c *Client) RemoveParticipant(id string) {
	c.mu.Lock()
	var ev []Event
	if id != c.deviceID && c.roster.Get(id) != nil {
		c.send(c.conn, &protocol.RemoveParticipant{ParticipantID: id})
		c.roster.Remove(id)
		c.adjustParticipantGauge(-1)
		ev = append(ev, ParticipantsChanged{})
	}
	c.mu.Unlock()
	c.publish(ev)
}

// ─── Observation ──────────────────────────────────────────────────────────────

// Subscribe registers an observer. The returned cancel function releases the
// subscription. Observers are read-only: they react to events by calling
// [Client.Snapshot].
func (c *Client) Subscribe() (<-chan Event, func()) { return c.obs.Subscribe() }

// Snapshot returns an immutable copy of the observable state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:     c.state,
		LocalID:   c.deviceID,
		LocalName: c.userName,
		Messages:  c.content.Messages(),
	}
	if c.room != nil {
		r := *c.room
		snap.Room = &r
	}
	if c.pending != nil {
		p := *c.pending
		snap.PendingJoin = &p
	}
	localOffline := c.state == StateOffline
	for _, p := range c.roster.All() {
		view := ParticipantView{Participant: *p}
		if p.IsLocal {
			view.Quality = QualityGood
			if localOffline {
				view.Quality = QualityOffline
			}
		} else {
			view.Quality = c.presence.Classify(p, localOffline)
		}
		snap.Participants = append(snap.Participants, view)
	}
	return snap
}

// ─── Timer handlers ───────────────────────────────────────────────────────────

func (c *Client) scheduleOfflinePoll() {
	c.sched.Schedule(slotOfflinePoll, c.timing.OfflinePollInterval, c.onOfflinePoll)
}

func (c *Client) onOfflinePoll() {
	c.mu.Lock()
	if c.closed || !c.sharing {
		c.mu.Unlock()
		return
	}
	if c.state == StateOffline {
		c.scheduleOfflinePoll()
	}
	shouldAttempt := c.state == StateOffline && c.attempt == nil
	saved := c.savedRoom
	c.mu.Unlock()
	if shouldAttempt {
		c.countReconnect("poll")
		c.AttemptConnection(saved)
	}
}

func (c *Client) onHeartbeatTick() {
	c.mu.Lock()
	if c.conn != nil && (c.state == StateOnline || c.state == StateSearching) {
		local := c.local()
		hb := &protocol.Heartbeat{ParticipantID: c.deviceID}
		if local != nil {
			hb.IsPressed = local.Pressed
			hb.CurrentText = local.LiveText
			hb.IsTexting = local.Texting
		}
		c.send(c.conn, hb)
		c.sched.Schedule(slotHeartbeat, c.timing.HeartbeatInterval, c.onHeartbeatTick)
	}
	c.mu.Unlock()
}

func (c *Client) onStaleSweep() {
	c.mu.Lock()
	var ev []Event
	if c.state == StateOnline || c.state == StateSearching {
		changed := c.arb.SweepStale(c.roster)
		if c.presence.MarkStale(c.roster) {
			changed = true
		}
		if changed {
			ev = append(ev, ParticipantsChanged{})
		}
		c.sched.Schedule(slotStaleSweep, c.timing.StaleSweepInterval, c.onStaleSweep)
	}
	c.mu.Unlock()
	c.publish(ev)
}

func (c *Client) onHealthCheck() {
	c.mu.Lock()
	var ev []Event
	switch c.state {
	case StateOnline:
		if !c.lastTraffic.IsZero() && c.now().Sub(c.lastTraffic) >= c.timing.SearchingAfter {
			c.enterSearching(&ev)
		}
	case StateSearching:
		if !c.lastTraffic.IsZero() && c.now().Sub(c.lastTraffic) < c.timing.SearchingAfter {
			c.exitSearching(&ev)
		}
	default:
		c.mu.Unlock()
		c.publish(ev)
		return
	}
	c.sched.Schedule(slotHealthCheck, c.timing.HealthCheckInterval, c.onHealthCheck)
	c.mu.Unlock()
	c.publish(ev)
}

// enterSearching preserves all room and participant state (the UI fades it
// out rather than losing it) while reconnection is attempted in the
// background.
func (c *Client) enterSearching(ev *[]Event) {
	c.searchingSince = c.now()
	c.setState(StateSearching, ev)
	c.sched.Schedule(slotSearchRetry, c.timing.SearchRetryInterval, c.onSearchRetry)
	c.armSearchingEscalation()
}

func (c *Client) exitSearching(ev *[]Event) {
	c.searchingSince = time.Time{}
	c.sched.Cancel(slotSearchRetry)
	c.sched.Cancel(slotSearchEscalate)
	c.sched.Cancel(slotSearchDecision)
	c.setState(StateOnline, ev)
}

func (c *Client) armSearchingEscalation() {
	c.sched.Schedule(slotSearchEscalate, c.timing.SearchEscalateAfter, c.onSearchEscalate)
	c.sched.Schedule(slotSearchDecision, c.timing.SearchDecisionAfter, c.onSearchDecision)
}

func (c *Client) onSearchRetry() {
	c.mu.Lock()
	var ev []Event
	if c.state == StateSearching {
		c.sched.Schedule(slotSearchRetry, c.timing.SearchRetryInterval, c.onSearchRetry)
		if c.attempt == nil && c.room != nil {
			c.countReconnect("searching")
			// Parallel: the silent channel stays up until the replacement is live.
			c.startAttempt(attemptSpec{code: c.room.Code, parallel: true, quiet: true}, &ev)
		}
	}
	c.mu.Unlock()
	c.publish(ev)
}

func (c *Client) onSearchEscalate() {
	c.mu.Lock()
	var ev []Event
	if c.state == StateSearching {
		ev = append(ev, SearchingEscalated{Since: c.searchingSince})
	}
	c.mu.Unlock()
	c.publish(ev)
}

func (c *Client) onSearchDecision() {
	c.mu.Lock()
	var ev []Event
	if c.state == StateSearching {
		ev = append(ev, SearchingDecisionRequired{Since: c.searchingSince})
	}
	c.mu.Unlock()
	c.publish(ev)
}

// ─── Channel plumbing ─────────────────────────────────────────────────────────

// pump drains one channel's inbound stream. Several pumps may be alive
// briefly (old channel, temporary join channel); handlers check channel
// identity and drop messages from channels that are no longer current.
func (c *Client) pump(ch channel.Channel) {
	for in := range ch.Recv() {
		if in.Err != nil {
			c.onChannelError(ch, in.Err)
			return
		}
		c.onInbound(ch, in.Msg)
	}
}

func (c *Client) onInbound(ch channel.Channel, msg protocol.Message) {
	if c.metrics != nil {
		observe.RecordMessage(c.ctx, c.metrics.MessagesReceived, string(msg.MsgType()))
	}
	c.mu.Lock()
	var ev []Event
	switch {
	case ch == c.conn:
		c.handleRoomMessage(msg, &ev)
	case c.attempt != nil && ch == c.attempt.ch:
		c.handleAttemptMessage(msg, &ev)
	default:
		// Stale channel after a swap; drop.
	}
	c.mu.Unlock()
	c.publish(ev)
}

// onChannelError routes transport failures. DNS/socket errors and protocol
// closures all land here; the distinction only affects logging.
func (c *Client) onChannelError(ch channel.Channel, err error) {
	c.mu.Lock()
	var ev []Event
	switch {
	case ch == c.conn:
		c.log.Warn("room channel lost", "err", err, "state", c.state.String())
		c.conn.Close("transport error")
		c.conn = nil
		if c.state == StateOnline || c.state == StateConnecting {
			c.degradeToOffline(&ev)
		}
		// While searching the retry loop already owns recovery.
	case c.attempt != nil && ch == c.attempt.ch:
		c.log.Debug("join attempt channel lost", "err", err)
		c.attemptFailed(err, &ev)
	}
	c.mu.Unlock()
	c.publish(ev)
}

// degradeToOffline is the automatic degrade path after an unexpected
// connection loss: peer state is cleared, local identity and transcript are
// retained, and a reconnection is scheduled with linear backoff.
func (c *Client) degradeToOffline(ev *[]Event) {
	if c.room != nil {
		c.savedRoom = c.room.Code
	}
	c.toOffline(ev, offlineAuto)
	delay := c.reconnect.Next()
	c.log.Info("scheduling reconnect", "attempt", c.reconnect.Attempt(), "delay", delay)
	c.sched.Schedule(slotReconnect, delay, c.onReconnect)
}

func (c *Client) onReconnect() {
	c.mu.Lock()
	saved := c.savedRoom
	attempt := c.state == StateOffline && c.attempt == nil && c.sharing && !c.closed
	c.mu.Unlock()
	if attempt {
		c.countReconnect("backoff")
		c.AttemptConnection(saved)
	}
}

type offlineMode int

const (
	offlineAuto offlineMode = iota
	offlineManual
)

// toOffline clears peer state and stops the connected-mode timers. The
// local participant and the transcript survive; only an explicit LeaveRoom
// clears messages.
func (c *Client) toOffline(ev *[]Event, mode offlineMode) {
	c.sched.Cancel(slotHeartbeat)
	c.sched.Cancel(slotStaleSweep)
	c.sched.Cancel(slotHealthCheck)
	c.sched.Cancel(slotSearchRetry)
	c.sched.Cancel(slotSearchEscalate)
	c.sched.Cancel(slotSearchDecision)
	c.sched.Cancel(slotJoinRetry)
	if c.attempt == nil {
		// A still-running parallel attempt keeps its own retry timer.
		c.sched.Cancel(slotAttemptJoinRetry)
		c.sched.Cancel(slotProbeTimeout)
	}
	c.clearRoom(ev)
	c.searchingSince = time.Time{}
	c.pending = nil
	c.setState(StateOffline, ev)
	if mode == offlineAuto && c.sharing && c.initialized {
		c.scheduleOfflinePoll()
	}
}

// clearRoom drops the room and all peers, keeping the local participant.
func (c *Client) clearRoom(ev *[]Event) {
	if c.room != nil {
		c.room = nil
		*ev = append(*ev, RoomChanged{Room: nil})
	}
	if peers := c.roster.Len() - 1; peers > 0 {
		c.adjustParticipantGauge(-peers)
	}
	c.roster.ClearPeers()
	*ev = append(*ev, ParticipantsChanged{})
}

// ─── Room message handling (live channel) ─────────────────────────────────────

func (c *Client) handleRoomMessage(msg protocol.Message, ev *[]Event) {
	switch m := msg.(type) {
	case *protocol.Heartbeat:
		c.handleHeartbeat(m, ev)

	case *protocol.Caption:
		c.handleCaption(m, ev)

	case *protocol.TextMessage:
		c.handleTextMessage(m, ev)

	case *protocol.LiveSTT:
		c.handleLiveContent(m.ParticipantID, m.Text, ev)

	case *protocol.LiveTextContent:
		c.handleLiveContent(m.ParticipantID, m.Text, ev)

	case *protocol.LiveTextingStatus:
		if p := c.roster.Get(m.ParticipantID); p != nil && !p.IsLocal {
			if c.content.SetTexting(p, m.IsTexting) {
				*ev = append(*ev, ParticipantsChanged{})
			}
		}

	case *protocol.ButtonPressed:
		if p := c.ensurePeer(m.ParticipantID, m.ParticipantName, ev); p != nil {
			c.applyRemotePress(p, ev)
		}

	case *protocol.ButtonReleased:
		if p := c.roster.Get(m.ParticipantID); p != nil && !p.IsLocal {
			if c.arb.ApplyRelease(p) {
				*ev = append(*ev, ParticipantsChanged{})
			}
		}

	case *protocol.SpeakerChanged:
		if p := c.ensurePeer(m.SpeakerID, m.SpeakerName, ev); p != nil {
			c.applyRemotePress(p, ev)
		}

	case *protocol.SpeakerStopped:
		if p := c.roster.Get(m.SpeakerID); p != nil && !p.IsLocal {
			if c.arb.ApplyRelease(p) {
				*ev = append(*ev, ParticipantsChanged{})
			}
		}

	case *protocol.ParticipantJoined:
		c.ensurePeer(m.ParticipantID, m.ParticipantName, ev)

	case *protocol.ParticipantLeft:
		if m.ParticipantID != c.deviceID && c.roster.Get(m.ParticipantID) != nil {
			c.roster.Remove(m.ParticipantID)
			c.adjustParticipantGauge(-1)
			*ev = append(*ev, ParticipantsChanged{})
		}

	case *protocol.RoomState:
		c.applyRoomState(m, ev)
		if !c.roomStateHasLocal(m) {
			c.scheduleJoinRetry()
		} else {
			c.joinRetries = 0
			c.sched.Cancel(slotJoinRetry)
		}

	case *protocol.JoinRequest:
		c.handleRemoteJoinRequest(m, ev)

	case *protocol.JoinDenied:
		// Protocol-level rejection on a live channel: non-fatal notice.
		*ev = append(*ev, Notice{Text: "join denied: " + m.Reason})

	case *protocol.AwaitingApproval, *protocol.JoinApproved, *protocol.JoinDeclined,
		*protocol.JoinCancelled, *protocol.RoomStatus:
		c.log.Debug("ignoring handshake message on live channel", "type", string(msg.MsgType()))

	case *protocol.Join, *protocol.CheckRoom, *protocol.ApproveJoin,
		*protocol.DeclineJoin, *protocol.CancelJoin, *protocol.RemoveParticipant:
		// Client-to-server only; a relay echo carries no new state.
	}
}

func (c *Client) handleHeartbeat(m *protocol.Heartbeat, ev *[]Event) {
	c.lastTraffic = c.now()
	c.recordSeen(m.ParticipantID, false)
	if m.ParticipantID == c.deviceID {
		// Own echo: counts toward channel liveness only.
		return
	}
	p := c.ensurePeer(m.ParticipantID, "", ev)
	if p == nil {
		return
	}
	changed := c.presence.ObserveHeartbeat(p)
	// Heartbeats are a periodic full-state resync under the event-based
	// updates: reconcile the speaking/typing/text fields if they drifted.
	// Presses go through the arbiter so single-speaker mode stays exclusive.
	if m.IsPressed && !p.Pressed {
		var pressEv []Event
		c.applyRemotePress(p, &pressEv)
		changed = changed || len(pressEv) > 0
	} else if !m.IsPressed && c.arb.ApplyRelease(p) {
		changed = true
	}
	if c.content.SetTexting(p, m.IsTexting) {
		changed = true
	}
	if c.content.ApplyLive(p, m.CurrentText) {
		changed = true
	}
	if changed {
		*ev = append(*ev, ParticipantsChanged{})
	}
}

func (c *Client) handleCaption(m *protocol.Caption, ev *[]Event) {
	if m.ParticipantID == c.deviceID {
		return // own echo; already applied optimistically
	}
	c.recordSeen(m.ParticipantID, true)
	if p := c.roster.Get(m.ParticipantID); p != nil {
		c.presence.ObserveMessage(p)
	}
	msg := Message{
		ID:          m.MessageID,
		SpeakerID:   m.ParticipantID,
		SpeakerName: m.ParticipantName,
		Text:        m.Text,
		Final:       m.IsFinal,
	}
	if m.Timestamp > 0 {
		msg.Timestamp = time.UnixMilli(m.Timestamp)
	}
	if c.content.Upsert(msg) {
		*ev = append(*ev, MessagesChanged{})
	}
}

func (c *Client) handleTextMessage(m *protocol.TextMessage, ev *[]Event) {
	if m.ParticipantID == c.deviceID {
		return
	}
	c.recordSeen(m.ParticipantID, true)
	if p := c.roster.Get(m.ParticipantID); p != nil {
		c.presence.ObserveMessage(p)
	}
	if c.content.Upsert(Message{
		ID:          m.MessageID,
		SpeakerID:   m.ParticipantID,
		SpeakerName: m.ParticipantName,
		Text:        m.Text,
		Final:       true,
	}) {
		*ev = append(*ev, MessagesChanged{})
	}
}

func (c *Client) handleLiveContent(participantID, text string, ev *[]Event) {
	if participantID == c.deviceID {
		return
	}
	if p := c.roster.Get(participantID); p != nil {
		if c.content.ApplyLive(p, text) {
			*ev = append(*ev, ParticipantsChanged{})
		}
	}
}

// applyRoomState reconciles the roster against the server's authoritative
// membership push. Active members are (re)activated, timed-out members are
// flagged inactive, and members absent from the push are dropped — except
// the local participant, which only an explicit leave removes.
func (c *Client) applyRoomState(m *protocol.RoomState, ev *[]Event) {
	if c.room == nil {
		c.room = &Room{Code: c.savedRoom, ConcurrentMode: m.ConcurrentMode}
		c.arb.SetConcurrent(m.ConcurrentMode)
		*ev = append(*ev, RoomChanged{Room: c.roomCopy()})
	}

	present := map[string]bool{c.deviceID: true}
	changed := false
	for _, info := range m.Active() {
		present[info.ID] = true
		if info.ID == c.deviceID {
			continue
		}
		p := c.roster.Get(info.ID)
		if p == nil {
			p = c.roster.Ensure(info.ID, info.Name)
			c.adjustParticipantGauge(1)
			changed = true
		} else if info.Name != "" && p.Name != info.Name {
			p.Name = info.Name
			changed = true
		}
		if p.Inactive {
			p.Inactive = false
			changed = true
		}
	}
	for _, info := range m.TimedOut() {
		present[info.ID] = true
		if info.ID == c.deviceID {
			continue
		}
		p := c.roster.Ensure(info.ID, info.Name)
		if !p.Inactive {
			p.Inactive = true
			changed = true
		}
	}
	for _, p := range c.roster.All() {
		if !present[p.ID] {
			c.roster.Remove(p.ID)
			c.adjustParticipantGauge(-1)
			changed = true
		}
	}

	if m.ActiveSpeaker != "" {
		if p := c.roster.Get(m.ActiveSpeaker); p != nil && !p.IsLocal {
			var pressEv []Event
			c.applyRemotePress(p, &pressEv)
			if len(pressEv) > 0 {
				changed = true
			}
		}
	}
	if changed {
		*ev = append(*ev, ParticipantsChanged{})
	}
}

func (c *Client) roomStateHasLocal(m *protocol.RoomState) bool {
	for _, info := range m.Active() {
		if info.ID == c.deviceID {
			return true
		}
	}
	for _, info := range m.TimedOut() {
		if info.ID == c.deviceID {
			return true
		}
	}
	return false
}

// scheduleJoinRetry re-sends the join message on a bounded schedule when a
// room-state push shows the local participant absent despite a nominally
// successful join. This compensates for a server-side race; after the
// schedule is exhausted the client gives up silently.
func (c *Client) scheduleJoinRetry() {
	if c.joinRetries >= len(c.timing.JoinRetrySchedule) {
		return
	}
	delay := c.timing.JoinRetrySchedule[c.joinRetries]
	c.joinRetries++
	c.sched.Schedule(slotJoinRetry, delay, func() {
		c.mu.Lock()
		if c.conn != nil && (c.state == StateOnline || c.state == StateSearching) {
			c.log.Debug("re-sending join after absent room state", "retry", c.joinRetries)
			c.send(c.conn, &protocol.Join{DeviceID: c.deviceID, DisplayName: c.userName})
		}
		c.mu.Unlock()
	})
}

// handleRemoteJoinRequest applies the approval heuristics for a remote
// joiner: blocked devices are auto-declined, recently active peers are
// treated as reconnecting and auto-approved, and everything else is
// surfaced for manual review — at most one pending request at a time.
func (c *Client) handleRemoteJoinRequest(m *protocol.JoinRequest, ev *[]Event) {
	if c.blocked[m.RequesterID] {
		c.log.Info("auto-declining blocked join request", "requester", m.RequesterID)
		c.send(c.conn, &protocol.DeclineJoin{RequesterID: m.RequesterID})
		return
	}
	if rec, ok := c.seen[m.RequesterID]; ok &&
		c.presence.RecentEnoughForAutoApproval(rec.lastSeen, rec.lastMessage) {
		c.log.Info("auto-approving reconnecting peer", "requester", m.RequesterID)
		c.send(c.conn, &protocol.ApproveJoin{RequesterID: m.RequesterID})
		return
	}
	if c.pending != nil && c.pending.RequesterID != m.RequesterID {
		// One surfaced request at a time; the requester will retry.
		c.log.Debug("join request queued behind pending one", "requester", m.RequesterID)
		return
	}
	c.pending = &PendingJoin{
		RequesterID:   m.RequesterID,
		RequesterName: m.RequesterName,
		ReceivedAt:    c.now(),
	}
	*ev = append(*ev, JoinRequestPending{Request: *c.pending})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (c *Client) local() *Participant {
	return c.roster.Get(c.deviceID)
}

// applyRemotePress routes a remote press through the arbiter. In
// single-speaker mode the newest press displaces every other one; a
// displaced local press gets the usual post-release grace window so a
// trailing final fragment is not lost.
func (c *Client) applyRemotePress(p *Participant, ev *[]Event) {
	local := c.local()
	hadFloor := local != nil && local.Pressed
	if c.arb.ApplyPress(p, c.roster) {
		*ev = append(*ev, ParticipantsChanged{})
	}
	if hadFloor && !local.Pressed {
		local.RecentlySpoke = true
		c.sched.Schedule(slotSpeakGrace, c.timing.SpeakGrace, c.onSpeakGraceExpired)
	}
}

func (c *Client) ensurePeer(id, name string, ev *[]Event) *Participant {
	if id == "" || id == c.deviceID {
		return nil
	}
	if p := c.roster.Get(id); p != nil {
		if name != "" && p.Name != name {
			p.Name = name
			*ev = append(*ev, ParticipantsChanged{})
		}
		return p
	}
	p := c.roster.Ensure(id, name)
	c.adjustParticipantGauge(1)
	*ev = append(*ev, ParticipantsChanged{})
	return p
}

func (c *Client) recordSeen(id string, message bool) {
	if id == "" || id == c.deviceID {
		return
	}
	rec := c.seen[id]
	rec.lastSeen = c.now()
	if message {
		rec.lastMessage = rec.lastSeen
	}
	c.seen[id] = rec
}

func (c *Client) roomCopy() *Room {
	if c.room == nil {
		return nil
	}
	r := *c.room
	return &r
}

func (c *Client) setState(s ConnState, ev *[]Event) {
	if c.state == s {
		return
	}
	old := c.state
	c.state = s
	c.log.Info("connection state changed", "from", old.String(), "to", s.String())
	if c.metrics != nil {
		c.metrics.StateTransitions.Add(c.ctx, 1, metricAttr("to", s.String()))
	}
	*ev = append(*ev, StateChanged{Old: old, New: s})
}

// send transmits one message, recording metrics. A nil channel (offline
// solo mode) is a silent no-op; send errors are logged only — the pump's
// terminal error is the single degrade trigger.
func (c *Client) send(ch channel.Channel, msg protocol.Message) {
	if ch == nil {
		return
	}
	start := time.Now()
	err := ch.Send(c.ctx, msg)
	if c.metrics != nil {
		c.metrics.SendDuration.Record(c.ctx, time.Since(start).Seconds())
		observe.RecordMessage(c.ctx, c.metrics.MessagesSent, string(msg.MsgType()))
	}
	if err != nil {
		c.log.Debug("send failed", "type", string(msg.MsgType()), "err", err)
	}
}

func (c *Client) publish(ev []Event) {
	for _, e := range ev {
		c.obs.Publish(e)
	}
}

func (c *Client) adjustParticipantGauge(delta int) {
	if c.metrics != nil && delta != 0 {
		c.metrics.ActiveParticipants.Add(c.ctx, int64(delta))
	}
}

func (c *Client) countReconnect(trigger string) {
	if c.metrics != nil {
		c.metrics.ReconnectAttempts.Add(c.ctx, 1, metricAttr("trigger", trigger))
	}
}

func (c *Client) countJoinOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.JoinOutcomes.Add(c.ctx, 1, metricAttr("outcome", outcome))
	}
}
