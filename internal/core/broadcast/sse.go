package broadcast

import (
	"context"
	"fmt"
	"net/http"

	"github.com/colonyops/revwatch/internal/core/review"
)

// SSEChannel delivers events as a text/event-stream response.
type SSEChannel struct {
	*stream
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEChannel writes the event-stream headers to w. It fails with a
// TransportUnavailable error when w cannot be flushed.
func NewSSEChannel(w http.ResponseWriter) (*SSEChannel, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, review.E(review.KindTransportUnavailable, "open event stream", err)
	}

	return &SSEChannel{
		stream: newStream(DefaultQueueSize),
		w:      w,
		rc:     rc,
	}, nil
}

// Serve writes queued events until ctx is done, the channel is closed or
// a write fails.
func (c *SSEChannel) Serve(ctx context.Context) error {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case f := <-c.out:
			if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", f.name, f.data); err != nil {
				return review.E(review.KindTransport, "write event", err)
			}
			if err := c.rc.Flush(); err != nil {
				return review.E(review.KindTransport, "flush event", err)
			}
		}
	}
}
