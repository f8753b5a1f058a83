package broadcast

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/colonyops/revwatch/internal/core/review"
)

// DefaultQueueSize is the number of encoded events a transport channel
// buffers before Send starts failing.
const DefaultQueueSize = 64

var (
	errQueueFull = errors.New("send queue full")
	errClosed    = errors.New("channel closed")
)

type frame struct {
	name string
	data []byte
}

// stream is the queue shared by the network transports. Send encodes and
// enqueues without blocking; a transport-specific loop drains the queue.
type stream struct {
	id   string
	out  chan frame
	done chan struct{}
	once sync.Once
}

func newStream(size int) *stream {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &stream{
		id:   uuid.NewString(),
		out:  make(chan frame, size),
		done: make(chan struct{}),
	}
}

func (s *stream) ID() string { return s.id }

func (s *stream) Send(e Event) error {
	data, err := Encode(e)
	if err != nil {
		return review.E(review.KindTransport, "encode event", err)
	}

	select {
	case <-s.done:
		return review.E(review.KindTransport, "send", errClosed)
	default:
	}

	select {
	case s.out <- frame{name: Name(e), data: data}:
		return nil
	default:
		return review.E(review.KindTransport, "send", errQueueFull)
	}
}

// Close stops the drain loop. Further sends fail.
func (s *stream) Close() {
	s.once.Do(func() { close(s.done) })
}
