package config

import "time"

// DefaultNATSURL is used when transport.nats_url is not set.
const DefaultNATSURL = "nats://127.0.0.1:4222"

// TimeoutConfig contains the process-level timeouts. Per-command timeouts
// live in MessengerConfig.
type TimeoutConfig struct {
	NATSReconnectWait time.Duration `mapstructure:"nats_reconnect_wait" yaml:"nats_reconnect_wait"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultTimeoutConfig returns default timeout configurations
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		NATSReconnectWait: 2 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}
