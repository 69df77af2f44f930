package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"scrapekit/internal/emit"
	"scrapekit/internal/fetch"
	"scrapekit/internal/metrics"
	"scrapekit/internal/schema"
)

var (
	// ErrUnknownScript reports a name with no registered script.
	ErrUnknownScript = errors.New("unknown script")

	// ErrURLRequired reports a URL-driven script invoked without a URL.
	ErrURLRequired = errors.New("script is url-driven and requires a url")

	// ErrNoEmit reports a script that returned success without a terminal
	// emit. A run with no batch has no result of record.
	ErrNoEmit = errors.New("script finished without emitting a batch")
)

// ScriptError wraps any failure escaping a script body, panics included.
// Errors from capability calls stay reachable through errors.Is/As.
type ScriptError struct {
	Script string
	cause  error
}

func (e *ScriptError) Error() string { return fmt.Sprintf("script %s: %v", e.Script, e.cause) }
func (e *ScriptError) Unwrap() error { return e.cause }

// Config shapes every run a Runner executes.
type Config struct {
	// Fetch is the base fetch configuration. The runner stamps the script
	// name on it per run, so metrics and logs carry the right job.
	Fetch fetch.Config

	// Attempts and RetryDelay parameterize the run's retrying fetcher.
	// Attempts below 1 becomes 3.
	Attempts   int
	RetryDelay time.Duration

	// PageDelay is the host's polite pause between page fetches, surfaced
	// to scripts through Run.PageDelay.
	PageDelay time.Duration

	// Log receives run lifecycle records. Nil discards them.
	Log *slog.Logger

	// OnPartial observes partial items the moment scripts stream them.
	OnPartial emit.PartialFunc

	// Now, Sleep, and NewID are overridable in tests.
	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error
	NewID func() string
}

// Runner executes scripts, one isolated Run per invocation.
type Runner struct {
	cfg Config
}

// NewRunner fills Config defaults and returns a ready runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = fetch.SleepContext
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.Must(uuid.NewV6()).String() }
	}
	return &Runner{cfg: cfg}
}

// Outcome is the tagged result of one run: a batch on success, an error
// otherwise. Partials are carried either way but count for nothing; the
// batch is the only result of record.
type Outcome struct {
	RunID    string
	Script   string
	Batch    emit.Batch
	Partials []emit.Item
	Err      error
	Started  time.Time
	Elapsed  time.Duration
}

// Succeeded reports whether the run produced an authoritative batch.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Execute runs the registered option-driven script name against raw option
// values.
func (r *Runner) Execute(ctx context.Context, name string, raw map[string]any) Outcome {
	s, ok := Get(name)
	if !ok {
		return Outcome{
			Script:  strings.ToLower(name),
			Err:     fmt.Errorf("%w: %q", ErrUnknownScript, name),
			Started: r.cfg.Now(),
		}
	}
	return r.ExecuteScript(ctx, s, raw)
}

// ExecuteURL runs the registered script name against rawURL. URL-driven
// scripts get the URL as their argument; option-driven scripts get it as
// their url option.
func (r *Runner) ExecuteURL(ctx context.Context, name, rawURL string, raw map[string]any) Outcome {
	s, ok := Get(name)
	if !ok {
		return Outcome{
			Script:  strings.ToLower(name),
			Err:     fmt.Errorf("%w: %q", ErrUnknownScript, name),
			Started: r.cfg.Now(),
		}
	}
	return r.ExecuteScriptURL(ctx, s, rawURL, raw)
}

// ExecuteScript runs s without a URL. It serves hosts holding unregistered
// script values; Execute delegates here.
func (r *Runner) ExecuteScript(ctx context.Context, s *Script, raw map[string]any) Outcome {
	return r.run(ctx, s, "", raw)
}

// ExecuteScriptURL runs s against rawURL.
func (r *Runner) ExecuteScriptURL(ctx context.Context, s *Script, rawURL string, raw map[string]any) Outcome {
	return r.run(ctx, s, rawURL, raw)
}

func (r *Runner) run(ctx context.Context, s *Script, rawURL string, raw map[string]any) Outcome {
	name := strings.ToLower(s.Meta.Name)
	out := Outcome{
		RunID:   r.cfg.NewID(),
		Script:  name,
		Started: r.cfg.Now(),
	}
	log := r.cfg.Log.With("script", name, "run_id", out.RunID)

	finish := func(result string, items int) Outcome {
		out.Elapsed = r.cfg.Now().Sub(out.Started)
		metrics.RecordRun(name, result, out.Elapsed, items)
		return out
	}

	if s.Kind() == URLDriven && rawURL == "" {
		out.Err = fmt.Errorf("script %q: %w", name, ErrURLRequired)
		return finish("invalid_options", -1)
	}

	defs, err := schema.Normalize(s.Meta.Options)
	if err != nil {
		out.Err = err
		return finish("invalid_options", -1)
	}

	// A URL invocation reaches the script as an option too, so option
	// lookups work under both conventions. An explicit raw value wins.
	if rawURL != "" {
		merged := make(map[string]any, len(raw)+1)
		for k, v := range raw {
			merged[k] = v
		}
		if _, ok := merged["url"]; !ok {
			merged["url"] = rawURL
		}
		raw = merged
	}

	opts, err := schema.Resolve(defs, raw)
	if err != nil {
		out.Err = err
		log.Error("options rejected", "err", err)
		return finish("invalid_options", -1)
	}

	channel := emit.New(r.cfg.OnPartial)
	fcfg := r.cfg.Fetch
	fcfg.Name = name
	client := fetch.NewClient(fcfg)
	retry := fetch.NewRetry(client, r.cfg.Attempts, r.cfg.RetryDelay)
	retry.Job = name
	retry.Log = log
	retry.SetSleep(r.cfg.Sleep)

	run := &Run{
		id:         out.RunID,
		meta:       s.Meta,
		opts:       opts,
		log:        log,
		client:     client,
		retry:      retry,
		newSession: func() *fetch.Session { return fetch.NewSession(fcfg) },
		channel:    channel,
		pageDelay:  r.cfg.PageDelay,
		now:        r.cfg.Now,
		sleep:      r.cfg.Sleep,
	}

	log.Info("run started", "kind", s.Kind().String(), "url", rawURL)
	out.Err = invoke(ctx, s, run, rawURL)

	if out.Err == nil && !channel.Emitted() {
		out.Err = &ScriptError{Script: name, cause: ErrNoEmit}
	}
	out.Partials = channel.Partials()

	if out.Err != nil {
		log.Error("run failed", "err", out.Err, "partials", len(out.Partials))
		return finish("failed", -1)
	}

	out.Batch, _ = channel.Batch()
	log.Info("run finished", "dir", out.Batch.Dir, "items", len(out.Batch.Items))
	return finish("ok", len(out.Batch.Items))
}

// invoke calls the entry point. A panic or returned error becomes the run's
// single terminal ScriptError.
func invoke(ctx context.Context, s *Script, run *Run, rawURL string) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &ScriptError{Script: run.meta.Name, cause: fmt.Errorf("panic: %v", v)}
		}
	}()

	if s.Main != nil {
		err = s.Main(ctx, run)
	} else {
		err = s.Resolve(ctx, run, rawURL)
	}
	if err != nil {
		var se *ScriptError
		if !errors.As(err, &se) {
			err = &ScriptError{Script: run.meta.Name, cause: err}
		}
	}
	return err
}
