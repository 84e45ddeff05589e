package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"viewerhost/internal/logging"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("bus is closed")

const defaultQueueSize = 1024

type memoryConfig struct {
	logger    logging.Logger
	queueSize int
}

type MemoryOption func(*memoryConfig)

// WithBusLogger receives the pub/sub's internal logs.
func WithBusLogger(l logging.Logger) MemoryOption {
	return func(c *memoryConfig) { c.logger = l }
}

// WithQueueSize bounds how many received messages a subscription holds while
// its handler is busy. Publish blocks once a subscriber's queue is full.
func WithQueueSize(n int) MemoryOption {
	return func(c *memoryConfig) { c.queueSize = n }
}

// MemoryBus is an in-process Bus on top of watermill's gochannel pub/sub.
// Publish returns once every subscriber has taken the message, so delivery
// order per subject matches publish order. Handlers run on one goroutine per
// subscription, never on the publisher's.
type MemoryBus struct {
	pubsub    *gochannel.GoChannel
	queueSize int

	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	cfg := memoryConfig{logger: logging.NewNopLogger(), queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.queueSize <= 0 {
		cfg.queueSize = defaultQueueSize
	}
	return &MemoryBus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{BlockPublishUntilSubscriberAck: true},
			newWatermillLogger(cfg.logger),
		),
		queueSize: cfg.queueSize,
		subs:      make(map[*memorySub]struct{}),
	}
}

func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}
	// Subscribers copy the payload before acking, and Publish waits for the acks.
	if err := b.pubsub.Publish(subject, message.NewMessage(uuid.NewString(), data)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBusClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := b.pubsub.Subscribe(ctx, subject)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s := &memorySub{
		cancel:   cancel,
		queue:    make(chan []byte, b.queueSize),
		stopping: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.stop()
		return nil, ErrBusClosed
	}
	b.subs[s] = struct{}{}
	b.wg.Add(2)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		s.receive(msgs)
	}()
	go func() {
		defer b.wg.Done()
		s.dispatch(handler)
	}()

	return closerFunc(func() error {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.stop()
		return nil
	}), nil
}

// Close stops every subscription and waits for in-flight handlers to return.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for s := range subs {
		s.stop()
	}
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// memorySub splits receiving from handling: receive acks as soon as the
// payload is queued, so a handler that publishes cannot stall a peer that is
// publishing back to it.
type memorySub struct {
	cancel   context.CancelFunc
	queue    chan []byte
	stopping chan struct{}
	once     sync.Once
}

func (s *memorySub) receive(msgs <-chan *message.Message) {
	defer close(s.queue)
	for msg := range msgs {
		select {
		case <-s.stopping:
			msg.Ack()
			return
		default:
		}
		payload := make([]byte, len(msg.Payload))
		copy(payload, msg.Payload)
		select {
		case s.queue <- payload:
			msg.Ack()
		case <-s.stopping:
			msg.Ack()
			return
		}
	}
}

func (s *memorySub) dispatch(handler func([]byte)) {
	for {
		select {
		case <-s.stopping:
			return
		case payload, ok := <-s.queue:
			if !ok {
				return
			}
			select {
			case <-s.stopping:
				return
			default:
			}
			handler(payload)
		}
	}
}

// stop ends delivery. It does not wait, so a handler may close its own
// subscription.
func (s *memorySub) stop() {
	s.once.Do(func() {
		close(s.stopping)
		s.cancel()
	})
}
