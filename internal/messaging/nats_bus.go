package messaging

import (
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"

	"viewerhost/internal/logging"
)

// NATSOptions configures the NATS connection used by NATSBus.
type NATSOptions struct {
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	FlushOnPublish bool
}

type NATSBus struct {
	nc    *nats.Conn
	flush bool
	log   logging.Logger
}

func NewNATSBus(url string, opts NATSOptions, logger logging.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 10
	}
	nc, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Errorf("NATS error: %v", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSBus{nc: nc, flush: opts.FlushOnPublish, log: logger}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if b.flush {
		if err := b.nc.Flush(); err != nil {
			b.log.Warnf("Failed to flush after publish to %s: %v", subject, err)
		}
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) { handler(m.Data) })
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return closerFunc(func() error { return sub.Unsubscribe() }), nil
}

// Close drains pending deliveries and closes the connection.
func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
