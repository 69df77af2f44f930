package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrapekit.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings file: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s != Default() {
		t.Fatalf("expected defaults, got %#v", s)
	}
	if s.UserAgent != "scrapekit/0.1" || s.MaxAttempts != 3 {
		t.Fatalf("unexpected defaults %#v", s)
	}
	if s.RetryDelay() != time.Second || s.FetchTimeout() != 30*time.Second {
		t.Fatalf("unexpected default durations %v %v", s.RetryDelay(), s.FetchTimeout())
	}
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
user_agent = "custom/2.0"
retry_delay_ms = 250

[logging]
level = "debug"

[metrics]
enabled = true
job = "nightly"
tags = "env:prod"
flush_seconds = 10
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.UserAgent != "custom/2.0" {
		t.Fatalf("expected file user agent, got %q", s.UserAgent)
	}
	if s.RetryDelay() != 250*time.Millisecond {
		t.Fatalf("expected 250ms retry delay, got %v", s.RetryDelay())
	}
	if s.MaxAttempts != 3 || s.FetchTimeoutMS != 30000 {
		t.Fatalf("absent keys should keep defaults, got %#v", s)
	}
	if s.Logging.Level != "debug" || s.Logging.Format != "text" {
		t.Fatalf("unexpected logging %#v", s.Logging)
	}
	if !s.Metrics.Enabled || s.Metrics.Job != "nightly" || s.Metrics.FlushEvery() != 10*time.Second {
		t.Fatalf("unexpected metrics %#v", s.Metrics)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "user_agent = [broken")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Parallel()

	s := Default()
	s.UserAgent = ""
	s.MaxAttempts = 0
	s.RetryDelayMS = -1
	s.Logging.Level = "loud"

	err := s.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"user_agent", "max_attempts", "retry_delay_ms", "logging.level"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q mentioned in %q", want, msg)
		}
	}
}

func TestValidateMetricsFlushOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	s := Default()
	s.Metrics.FlushSeconds = 0
	if err := s.Validate(); err != nil {
		t.Fatalf("disabled metrics should not validate flush: %v", err)
	}

	s.Metrics.Enabled = true
	if err := s.Validate(); err == nil {
		t.Fatalf("expected flush_seconds error when enabled")
	}
}

func TestClientConfig(t *testing.T) {
	t.Parallel()

	s := Default()
	s.Proxy = "http://proxy:3128"
	cfg := s.ClientConfig("gallery")

	if cfg.Name != "gallery" || cfg.UserAgent != "scrapekit/0.1" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if cfg.Timeout != 30*time.Second || cfg.Proxy != "http://proxy:3128" {
		t.Fatalf("unexpected config %#v", cfg)
	}
}
