package messaging

import (
	"io"
)

// Bus is a pluggable messaging interface for one-way, untyped delivery.
// Implementations may adapt NATS or an in-process queue. Delivery is FIFO per
// subject; nothing correlates a publish with any later message.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func([]byte)) (io.Closer, error)
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }
