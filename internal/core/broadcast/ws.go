package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"

	"github.com/colonyops/revwatch/internal/core/review"
)

const wsWriteTimeout = 5 * time.Second

// WSChannel delivers events as text frames over a websocket.
type WSChannel struct {
	*stream
	conn *websocket.Conn
}

// NewWSChannel wraps an accepted websocket connection.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{
		stream: newStream(DefaultQueueSize),
		conn:   conn,
	}
}

// Serve writes queued events until the peer disconnects, ctx is done or
// the channel is closed. Incoming messages are discarded. The connection
// is closed on return.
func (c *WSChannel) Serve(ctx context.Context) error {
	defer c.Close()

	// CloseRead reads and discards incoming frames and cancels ctx once
	// the peer goes away.
	ctx = c.conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case <-c.done:
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		case f := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, f.data)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				_ = c.conn.Close(websocket.StatusInternalError, "write failed")
				return review.E(review.KindTransport, "write websocket frame", err)
			}
		}
	}
}
