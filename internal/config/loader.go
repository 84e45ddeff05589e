package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "VIEWERHOST"

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

type TransportConfig struct {
	// Kind selects the bus: memory (in-process, with a simulated viewer) or nats.
	Kind           string `mapstructure:"kind" yaml:"kind"`
	NATSURL        string `mapstructure:"nats_url" yaml:"nats_url"`
	Name           string `mapstructure:"name" yaml:"name"`
	FlushOnPublish bool   `mapstructure:"flush_on_publish" yaml:"flush_on_publish"`
}

type PresetConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
}

type ViewerConfig struct {
	ID      string         `mapstructure:"id" yaml:"id"`
	BaseURL string         `mapstructure:"base_url" yaml:"base_url"`
	Presets []PresetConfig `mapstructure:"presets" yaml:"presets,omitempty"`
}

type MessengerConfig struct {
	// CallTimeout of zero waits for responses forever.
	CallTimeout    time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	StaleCacheSize int           `mapstructure:"stale_cache_size" yaml:"stale_cache_size"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"` // e.g., 0.0.0.0:9095
}

type TranscriptConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	LevelDBPath string `mapstructure:"leveldb_path" yaml:"leveldb_path"`
}

type AppConfig struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Transport  TransportConfig  `mapstructure:"transport" yaml:"transport"`
	Viewer     ViewerConfig     `mapstructure:"viewer" yaml:"viewer"`
	Messenger  MessengerConfig  `mapstructure:"messenger" yaml:"messenger"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Transcript TranscriptConfig `mapstructure:"transcript" yaml:"transcript"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts" yaml:"timeouts"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	return &AppConfig{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Transport: TransportConfig{Kind: "memory", NATSURL: DefaultNATSURL, Name: "viewer-host"},
		Viewer:    ViewerConfig{ID: "zea-svelte-app", BaseURL: "http://localhost:5000/index.html"},
		Messenger: MessengerConfig{StaleCacheSize: 256},
		Metrics:   MetricsConfig{ListenAddr: ":9095"},
		Transcript: TranscriptConfig{
			LevelDBPath: "./data/transcript",
		},
		Timeouts: *DefaultTimeoutConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("transport.kind", d.Transport.Kind)
	v.SetDefault("transport.nats_url", d.Transport.NATSURL)
	v.SetDefault("transport.name", d.Transport.Name)
	v.SetDefault("transport.flush_on_publish", d.Transport.FlushOnPublish)
	v.SetDefault("viewer.id", d.Viewer.ID)
	v.SetDefault("viewer.base_url", d.Viewer.BaseURL)
	v.SetDefault("messenger.call_timeout", d.Messenger.CallTimeout)
	v.SetDefault("messenger.stale_cache_size", d.Messenger.StaleCacheSize)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
	v.SetDefault("transcript.enabled", d.Transcript.Enabled)
	v.SetDefault("transcript.leveldb_path", d.Transcript.LevelDBPath)
	v.SetDefault("timeouts.nats_reconnect_wait", d.Timeouts.NATSReconnectWait)
	v.SetDefault("timeouts.shutdown_timeout", d.Timeouts.ShutdownTimeout)
}

// Load reads a YAML file (optional when path is empty), applies defaults and
// VIEWERHOST_* environment overrides, and validates the result.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.normalize()

	// Validate configuration
	validator := NewConfigValidator()
	if err := validator.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Messenger.StaleCacheSize <= 0 {
		c.Messenger.StaleCacheSize = Default().Messenger.StaleCacheSize
	}
}

// PresetMap returns the configured presets keyed by name, or nil when none
// are configured.
func (c ViewerConfig) PresetMap() map[string]string {
	if len(c.Presets) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.Presets))
	for _, p := range c.Presets {
		out[p.Name] = p.Path
	}
	return out
}

// Dump writes cfg as YAML.
func Dump(w io.Writer, cfg *AppConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
