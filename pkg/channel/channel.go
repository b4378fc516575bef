// Package channel defines the abstract bidirectional message channel the
// room synchronization core runs over, plus a WebSocket implementation.
//
// The core never touches transport details: it sends typed
// [protocol.Message] values and consumes an inbound stream that terminates
// with a single error entry when the underlying connection dies. One channel
// corresponds to exactly one room.
package channel

import (
	"context"

	"github.com/sonohq/roomlink/pkg/protocol"
)

// Inbound is one entry of a channel's receive stream. Exactly one of Msg and
// Err is set. An entry with a non-nil Err is terminal: the stream is closed
// after delivering it and the channel is unusable.
type Inbound struct {
	Msg protocol.Message
	Err error
}

// Channel is a live duplex connection to one room.
//
// Send may be called from any goroutine. Recv returns the same stream on
// every call; the stream is closed after the terminal error entry or after
// Close.
type Channel interface {
	// Send encodes and transmits one message.
	Send(ctx context.Context, msg protocol.Message) error

	// Recv returns the inbound message stream.
	Recv() <-chan Inbound

	// Close tears the connection down. Safe to call multiple times.
	Close(reason string) error
}

// DialOptions carries per-connection parameters.
type DialOptions struct {
	// RoomCode selects the room this channel is bound to.
	RoomCode string

	// AccessKey is the optional shared room access key, attached as a query
	// parameter when non-empty.
	AccessKey string
}

// Dialer establishes channels. The core holds a Dialer so tests can swap in
// a scripted in-memory implementation.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Channel, error)
}
