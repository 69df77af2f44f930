// Package settings loads host runtime settings from a TOML file.
//
// Every key is optional. Absent keys keep the defaults from Default(),
// which mirror the shipped host configuration. Durations live in the file
// as integer milliseconds (seconds for the metrics flush) so the format
// needs no unit-string parsing.
package settings

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"scrapekit/internal/fetch"
)

// Settings is the host runtime configuration.
type Settings struct {
	// UserAgent is sent on every fetch unless the caller overrides the
	// User-Agent header per call.
	UserAgent string `toml:"user_agent"`

	// MaxAttempts is the total try budget for a retried fetch, the first
	// attempt included.
	MaxAttempts int `toml:"max_attempts"`

	// RetryDelayMS is the fixed wait between retry attempts. A parseable
	// Retry-After response header takes precedence over it.
	RetryDelayMS int `toml:"retry_delay_ms"`

	// FetchTimeoutMS bounds one fetch exchange end to end.
	FetchTimeoutMS int `toml:"fetch_timeout_ms"`

	// PageDelayMS is the pause between pagination fetches.
	PageDelayMS int `toml:"page_delay_ms"`

	// MaxConcurrent is the download-concurrency intent forwarded to the
	// consumer of emitted items. Runs never parallelize fetches themselves.
	MaxConcurrent int `toml:"max_concurrent"`

	// Proxy is an optional proxy URL for all fetch clients. Empty means
	// honor the standard proxy environment variables.
	Proxy string `toml:"proxy"`

	// InsecureTLS disables certificate verification. Scraping targets with
	// broken chains sometimes needs this; leave it off otherwise.
	InsecureTLS bool `toml:"insecure_tls"`

	Logging Logging `toml:"logging"`
	Metrics Metrics `toml:"metrics"`
}

// Logging selects the handler the commands install.
type Logging struct {
	Level  string `toml:"level"`  // trace, debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// Metrics configures the optional Datadog backend.
type Metrics struct {
	Enabled      bool   `toml:"enabled"`
	Job          string `toml:"job"`
	Tags         string `toml:"tags"` // CSV of k:v pairs
	FlushSeconds int    `toml:"flush_seconds"`
}

// Default returns the shipped host configuration.
func Default() Settings {
	return Settings{
		UserAgent:      "scrapekit/0.1",
		MaxAttempts:    3,
		RetryDelayMS:   1000,
		FetchTimeoutMS: 30000,
		PageDelayMS:    1000,
		MaxConcurrent:  3,
		Logging:        Logging{Level: "info", Format: "text"},
		Metrics:        Metrics{FlushSeconds: 60},
	}
}

// Load returns Default() overlaid with the TOML file at path. An empty path
// returns the defaults unchanged. Keys absent from the file keep their
// default values.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Validate reports every broken field at once.
func (s Settings) Validate() error {
	errz := []error{}

	if s.UserAgent == "" {
		errz = append(errz, errors.New("user_agent must not be empty"))
	}
	if s.MaxAttempts < 1 {
		errz = append(errz, fmt.Errorf("max_attempts must be >= 1, got %d", s.MaxAttempts))
	}
	if s.RetryDelayMS < 0 {
		errz = append(errz, fmt.Errorf("retry_delay_ms must be >= 0, got %d", s.RetryDelayMS))
	}
	if s.FetchTimeoutMS < 1 {
		errz = append(errz, fmt.Errorf("fetch_timeout_ms must be >= 1, got %d", s.FetchTimeoutMS))
	}
	if s.PageDelayMS < 0 {
		errz = append(errz, fmt.Errorf("page_delay_ms must be >= 0, got %d", s.PageDelayMS))
	}
	if s.MaxConcurrent < 1 {
		errz = append(errz, fmt.Errorf("max_concurrent must be >= 1, got %d", s.MaxConcurrent))
	}

	switch s.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errz = append(errz, fmt.Errorf("logging.level %q not one of trace, debug, info, warn, error", s.Logging.Level))
	}
	switch s.Logging.Format {
	case "text", "json":
	default:
		errz = append(errz, fmt.Errorf("logging.format %q not one of text, json", s.Logging.Format))
	}

	if s.Metrics.Enabled && s.Metrics.FlushSeconds < 1 {
		errz = append(errz, fmt.Errorf("metrics.flush_seconds must be >= 1 when metrics are enabled, got %d", s.Metrics.FlushSeconds))
	}

	return errors.Join(errz...)
}

func (s Settings) RetryDelay() time.Duration   { return time.Duration(s.RetryDelayMS) * time.Millisecond }
func (s Settings) FetchTimeout() time.Duration { return time.Duration(s.FetchTimeoutMS) * time.Millisecond }
func (s Settings) PageDelay() time.Duration    { return time.Duration(s.PageDelayMS) * time.Millisecond }

func (m Metrics) FlushEvery() time.Duration { return time.Duration(m.FlushSeconds) * time.Second }

// ClientConfig materializes the fetch client configuration for one job name.
func (s Settings) ClientConfig(name string) fetch.Config {
	return fetch.Config{
		Name:        name,
		UserAgent:   s.UserAgent,
		Timeout:     s.FetchTimeout(),
		Proxy:       s.Proxy,
		InsecureTLS: s.InsecureTLS,
	}
}
