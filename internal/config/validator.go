package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ValidationMode determines the strictness of configuration validation
type ValidationMode string

const (
	ValidationModeProduction  ValidationMode = "production"
	ValidationModeDevelopment ValidationMode = "development"
	ValidationModeTest        ValidationMode = "test"
)

// ConfigValidator validates configuration. Structural problems fail in every
// mode; readiness problems only fail in production and are warnings otherwise.
type ConfigValidator struct {
	mode     ValidationMode
	errors   []string
	warnings []string
}

// NewConfigValidator creates a validator whose mode comes from VIEWERHOST_MODE.
func NewConfigValidator() *ConfigValidator {
	mode := ValidationModeDevelopment // Default to development

	if envMode := os.Getenv(envPrefix + "_MODE"); envMode != "" {
		switch strings.ToLower(envMode) {
		case "production", "prod":
			mode = ValidationModeProduction
		case "test", "testing":
			mode = ValidationModeTest
		case "development", "dev":
			mode = ValidationModeDevelopment
		}
	}

	return &ConfigValidator{
		mode:     mode,
		errors:   []string{},
		warnings: []string{},
	}
}

// Validate checks the configuration for issues
func (v *ConfigValidator) Validate(cfg *AppConfig) error {
	v.errors = []string{}
	v.warnings = []string{}

	var structural []string
	collect := func(check func(*AppConfig) []string) {
		structural = append(structural, check(cfg)...)
	}

	collect(v.validateLogging)
	collect(v.validateTransport)
	collect(v.validateViewer)
	collect(v.validateMessenger)
	v.validateMetrics(cfg)
	v.validateTranscript(cfg)
	v.validateTimeouts(cfg)

	failures := append(structural, v.errors...)
	if v.mode != ValidationModeProduction {
		v.warnings = append(v.warnings, v.errors...)
		failures = structural
	}
	if len(failures) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(failures, "\n"))
	}

	for _, w := range v.warnings {
		logrus.WithField("component", "config").Warn(w)
	}
	return nil
}

// Warnings returns the warnings collected by the last Validate call.
func (v *ConfigValidator) Warnings() []string { return v.warnings }

// readiness records a problem that is fatal only in production.
func (v *ConfigValidator) readiness(msg string) {
	if v.mode == ValidationModeProduction {
		v.errors = append(v.errors, msg)
	} else {
		v.warnings = append(v.warnings, msg)
	}
}

func (v *ConfigValidator) validateLogging(cfg *AppConfig) []string {
	var errs []string
	if _, err := logrus.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("invalid logging.level: %q", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid logging.format: %q (want text or json)", cfg.Logging.Format))
	}
	if v.mode == ValidationModeProduction && strings.EqualFold(cfg.Logging.Level, "debug") {
		v.warnings = append(v.warnings, "debug logging enabled in production")
	}
	return errs
}

func (v *ConfigValidator) validateTransport(cfg *AppConfig) []string {
	switch cfg.Transport.Kind {
	case "memory":
		v.readiness("transport.kind=memory uses the simulated viewer")
		return nil
	case "nats":
		if cfg.Transport.NATSURL == "" {
			return []string{"transport.nats_url is required when transport.kind=nats"}
		}
		u, err := url.Parse(cfg.Transport.NATSURL)
		if err != nil || u.Host == "" {
			return []string{fmt.Sprintf("invalid transport.nats_url: %q", cfg.Transport.NATSURL)}
		}
		return nil
	default:
		return []string{fmt.Sprintf("unknown transport.kind: %q (want memory or nats)", cfg.Transport.Kind)}
	}
}

func (v *ConfigValidator) validateViewer(cfg *AppConfig) []string {
	var errs []string
	if !isValidID(cfg.Viewer.ID) {
		errs = append(errs, fmt.Sprintf("invalid viewer.id format: %q", cfg.Viewer.ID))
	}
	if cfg.Viewer.BaseURL != "" {
		if _, err := url.Parse(cfg.Viewer.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid viewer.base_url: %v", err))
		}
	}
	seen := make(map[string]bool, len(cfg.Viewer.Presets))
	for _, p := range cfg.Viewer.Presets {
		if p.Name == "" || p.Path == "" {
			errs = append(errs, "viewer.presets entries need both name and path")
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("duplicate preset: %s", p.Name))
		}
		seen[p.Name] = true
	}
	return errs
}

// isValidID checks if an ID has valid format
func isValidID(id string) bool {
	// IDs should only contain alphanumeric, dash, underscore
	for _, c := range id {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return false
		}
	}
	return len(id) > 0 && len(id) <= 64
}

func (v *ConfigValidator) validateMessenger(cfg *AppConfig) []string {
	t := cfg.Messenger.CallTimeout
	switch {
	case t < 0:
		return []string{fmt.Sprintf("messenger.call_timeout is negative: %v", t)}
	case t == 0:
		v.readiness("messenger.call_timeout is 0: commands wait for a response forever")
	case t < 100*time.Millisecond:
		v.errors = append(v.errors, fmt.Sprintf("messenger.call_timeout too short: %v", t))
	}
	return nil
}

func (v *ConfigValidator) validateMetrics(cfg *AppConfig) {
	if !cfg.Metrics.Enabled {
		return
	}
	v.validatePort("metrics.listen_addr", cfg.Metrics.ListenAddr)
}

func (v *ConfigValidator) validatePort(name string, port string) {
	if port == "" {
		return
	}
	// Port string like ":8080" or "0.0.0.0:8080"
	parts := strings.Split(port, ":")
	portStr := parts[len(parts)-1]
	if portNum, err := strconv.Atoi(portStr); err == nil {
		if portNum < 1024 {
			v.warnings = append(v.warnings, fmt.Sprintf("%s uses privileged port %d (< 1024)", name, portNum))
		}
		if portNum > 65535 {
			v.errors = append(v.errors, fmt.Sprintf("%s port out of range: %d", name, portNum))
		}
	}
}

func (v *ConfigValidator) validateTranscript(cfg *AppConfig) {
	if cfg.Transcript.Enabled && strings.TrimSpace(cfg.Transcript.LevelDBPath) == "" {
		v.errors = append(v.errors, "transcript.leveldb_path is required when transcript.enabled=true")
	}
}

func (v *ConfigValidator) validateTimeouts(cfg *AppConfig) {
	if cfg.Timeouts.ShutdownTimeout > 0 && cfg.Timeouts.ShutdownTimeout < 100*time.Millisecond {
		v.errors = append(v.errors, fmt.Sprintf("shutdown_timeout too short: %v", cfg.Timeouts.ShutdownTimeout))
	}
	if cfg.Timeouts.NATSReconnectWait > time.Minute {
		v.warnings = append(v.warnings, fmt.Sprintf("nats_reconnect_wait very long: %v", cfg.Timeouts.NATSReconnectWait))
	}
}

// ValidateProductionReadiness performs strict validation for production deployments
func ValidateProductionReadiness(cfg *AppConfig) error {
	validator := &ConfigValidator{mode: ValidationModeProduction}
	return validator.Validate(cfg)
}

// PrintConfigurationSummary prints a summary of the configuration
func PrintConfigurationSummary(w io.Writer, cfg *AppConfig) {
	fmt.Fprintln(w, "Configuration Summary:")
	fmt.Fprintln(w, "======================")

	fmt.Fprintf(w, "Viewer: %s (%s)\n", cfg.Viewer.ID, cfg.Viewer.BaseURL)
	if cfg.Transport.Kind == "nats" {
		fmt.Fprintf(w, "Transport: nats %s\n", cfg.Transport.NATSURL)
	} else {
		fmt.Fprintf(w, "Transport: %s\n", cfg.Transport.Kind)
	}
	if cfg.Messenger.CallTimeout > 0 {
		fmt.Fprintf(w, "Call Timeout: %v\n", cfg.Messenger.CallTimeout)
	} else {
		fmt.Fprintln(w, "Call Timeout: none")
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "Metrics: %s\n", cfg.Metrics.ListenAddr)
	} else {
		fmt.Fprintln(w, "Metrics: disabled")
	}
	if cfg.Transcript.Enabled {
		fmt.Fprintf(w, "Transcript: %s\n", cfg.Transcript.LevelDBPath)
	} else {
		fmt.Fprintln(w, "Transcript: disabled")
	}

	fmt.Fprintln(w, "======================")
}
