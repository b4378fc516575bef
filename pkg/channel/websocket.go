package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/sonohq/roomlink/pkg/protocol"
)

// recvBuffer is the inbound stream capacity. The reader never blocks the
// socket for long: if the consumer falls this far behind, the read loop
// stalls and the server's own timeout takes over.
const recvBuffer = 64

// WebsocketDialer dials the relay server over WebSocket.
type WebsocketDialer struct {
	// BaseURL is the relay endpoint, e.g. "wss://relay.example.com/ws".
	BaseURL string
}

var _ Dialer = (*WebsocketDialer)(nil)

// buildURL resolves the relay URL for one room: the room code and optional
// access key are carried as query parameters.
func (d *WebsocketDialer) buildURL(opts DialOptions) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("channel: parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("room", opts.RoomCode)
	if opts.AccessKey != "" {
		q.Set("key", opts.AccessKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a WebSocket to the relay for the given room.
func (d *WebsocketDialer) Dial(ctx context.Context, opts DialOptions) (Channel, error) {
	target, err := d.buildURL(opts)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		// Report the host only; the full URL may carry the access key.
		u, _ := url.Parse(target)
		return nil, fmt.Errorf("channel: dial %s: %w", u.Host, err)
	}

	ws := &wsChannel{
		conn:    conn,
		inbound: make(chan Inbound, recvBuffer),
		done:    make(chan struct{}),
	}
	go ws.readLoop()
	return ws, nil
}

// wsChannel adapts a *websocket.Conn to the [Channel] contract.
type wsChannel struct {
	conn    *websocket.Conn
	inbound chan Inbound

	done chan struct{}
	once sync.Once
}

func (c *wsChannel) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-c.done:
		return errors.New("channel: closed")
	default:
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("channel: write: %w", err)
	}
	return nil
}

func (c *wsChannel) Recv() <-chan Inbound { return c.inbound }

func (c *wsChannel) Close(reason string) error {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return nil
}

// readLoop decodes inbound frames and forwards them until the connection
// dies. Unknown message types are logged and dropped so newer servers do not
// break older clients; any read error is terminal.
func (c *wsChannel) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			select {
			case <-c.done:
				// Locally initiated close; no terminal error entry.
			default:
				c.inbound <- Inbound{Err: fmt.Errorf("channel: read: %w", err)}
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				slog.Debug("ignoring unknown wire message", "err", err)
				continue
			}
			slog.Warn("dropping malformed wire message", "err", err)
			continue
		}

		select {
		case c.inbound <- Inbound{Msg: msg}:
		case <-c.done:
			return
		}
	}
}
