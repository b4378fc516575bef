// Package mock provides in-memory mock implementations of the
// [channel.Channel] and [channel.Dialer] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test can set to control return values.
//
// Typical usage:
//
//	ch := mock.NewChannel()
//	dialer := &mock.Dialer{DialResults: []mock.DialResult{{Channel: ch}}}
//	// ... hand dialer to the code under test ...
//	ch.Deliver(&protocol.RoomState{...})
//	sent := ch.Sent()
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/sonohq/roomlink/pkg/channel"
	"github.com/sonohq/roomlink/pkg/protocol"
)

// ─── Channel ──────────────────────────────────────────────────────────────────

// Channel is a scripted in-memory implementation of [channel.Channel].
// Outbound messages are recorded; inbound messages are injected by the test
// via [Channel.Deliver] and [Channel.Fail].
type Channel struct {
	mu sync.Mutex

	// SendError, when non-nil, is returned by every Send call.
	SendError error

	sent    []protocol.Message
	inbound chan channel.Inbound

	closed      bool
	closeReason string
	closeCount  int
}

var _ channel.Channel = (*Channel)(nil)

// NewChannel creates a mock channel with a buffered inbound stream.
func NewChannel() *Channel {
	return &Channel{inbound: make(chan channel.Inbound, 64)}
}

// Send implements [channel.Channel]. The message is recorded in order.
func (c *Channel) Send(_ context.Context, msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mock channel: closed")
	}
	if c.SendError != nil {
		return c.SendError
	}
	c.sent = append(c.sent, msg)
	return nil
}

// Recv implements [channel.Channel].
func (c *Channel) Recv() <-chan channel.Inbound { return c.inbound }

// Close implements [channel.Channel]. The first call closes the inbound
// stream; later calls only bump the counter.
func (c *Channel) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if !c.closed {
		c.closed = true
		c.closeReason = reason
		close(c.inbound)
	}
	return nil
}

// Deliver injects an inbound message as if the server had sent it.
// Delivering on a closed channel panics, matching a test bug loudly.
func (c *Channel) Deliver(msg protocol.Message) {
	c.inbound <- channel.Inbound{Msg: msg}
}

// Fail injects a terminal transport error and closes the inbound stream,
// simulating an unexpected connection loss.
func (c *Channel) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.inbound <- channel.Inbound{Err: err}
	close(c.inbound)
}

// Sent returns a copy of all messages sent so far, in order.
func (c *Channel) Sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOfType returns the sent messages matching the given wire type, in order.
func (c *Channel) SentOfType(t protocol.Type) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Message
	for _, m := range c.sent {
		if m.MsgType() == t {
			out = append(out, m)
		}
	}
	return out
}

// Closed reports whether Close or Fail has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseReason returns the reason passed to the first Close call.
func (c *Channel) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// CloseCount returns how many times Close was called.
func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// DialResult scripts the outcome of one Dial call.
type DialResult struct {
	Channel channel.Channel
	Err     error
}

// Dialer is a scripted implementation of [channel.Dialer]. Each Dial call
// consumes the next entry of DialResults; once the script is exhausted,
// DefaultErr (or a generic error) is returned.
type Dialer struct {
	mu sync.Mutex

	// DialResults is the script of successive Dial outcomes.
	DialResults []DialResult

	// DefaultErr is returned once DialResults is exhausted. If nil, a
	// generic "no more scripted channels" error is used.
	DefaultErr error

	// DialCalls records the options of every Dial call, in order.
	DialCalls []channel.DialOptions

	next int
}

var _ channel.Dialer = (*Dialer)(nil)

// Dial implements [channel.Dialer].
func (d *Dialer) Dial(_ context.Context, opts channel.DialOptions) (channel.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, opts)
	if d.next >= len(d.DialResults) {
		if d.DefaultErr != nil {
			return nil, d.DefaultErr
		}
		return nil, errors.New("mock dialer: no more scripted channels")
	}
	res := d.DialResults[d.next]
	d.next++
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Channel, nil
}
