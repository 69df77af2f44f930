// Command runscript executes a registered script and prints what it
// emitted. Partial items stream to stdout as JSONL the moment the script
// finds them; the terminal batch follows as the final record. With
// -manifest it runs a whole batch of requests through a bounded worker
// pool instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"scrapekit/internal/emit"
	"scrapekit/internal/logging"
	"scrapekit/internal/manifest"
	"scrapekit/internal/metrics"
	"scrapekit/internal/metrics/datadog"
	"scrapekit/internal/runtime"
	"scrapekit/internal/settings"
	_ "scrapekit/scripts"
)

// record is one JSONL line on stdout. Additive changes are safe; renames
// and removals break downstream consumers.
type record struct {
	Type    string      `json:"type"` // partial | result | error
	Script  string      `json:"script,omitempty"`
	RunID   string      `json:"run_id,omitempty"`
	Item    *emit.Item  `json:"item,omitempty"`
	Batch   *emit.Batch `json:"batch,omitempty"`
	Error   string      `json:"error,omitempty"`
	Elapsed int64       `json:"elapsed_ms,omitempty"`
}

// backendCloser is the slice of a metrics backend this command manages.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are the command's external seams; tests inject fakes.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Now            func() time.Time
	Sleep          func(context.Context, time.Duration) error
	BackendFactory func(ctx context.Context, m settings.Metrics) (backendCloser, error)
}

type runConfig struct {
	SettingsPath string
	Script       string
	URL          string
	OptionsFile  string
	Opts         map[string]any
	Manifest     string
	Workers      int
	LogLevel     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, m settings.Metrics) (backendCloser, error) {
			return datadog.New(ctx, datadog.Options{
				Job:        m.Job,
				Tags:       datadog.ParseTagsCSV(m.Tags),
				FlushEvery: m.FlushEvery(),
			}), nil
		},
	})
	os.Exit(code)
}

// run executes the command and returns an exit code: 0 success, 1 at least
// one run failed, 2 configuration or usage error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}

	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	st, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		fmt.Fprintf(d.Stderr, "settings: %v\n", err)
		return 2
	}
	level := st.Logging.Level
	if cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	log := logging.New(level, st.Logging.Format, d.Stderr)

	if st.Metrics.Enabled && d.BackendFactory != nil {
		backend, err := d.BackendFactory(ctx, st.Metrics)
		if err != nil {
			fmt.Fprintf(d.Stderr, "metrics backend: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() { _ = metrics.Close() }()
	}

	out := newWriter(d.Stdout)
	runner := runtime.NewRunner(runtime.Config{
		Fetch:      st.ClientConfig(""),
		Attempts:   st.MaxAttempts,
		RetryDelay: st.RetryDelay(),
		PageDelay:  st.PageDelay(),
		Log:        log,
		OnPartial:  func(it emit.Item) { out.partial(it) },
		Now:        d.Now,
		Sleep:      d.Sleep,
	})

	if cfg.Manifest != "" {
		return runManifest(ctx, cfg, d, runner, out)
	}
	return runOne(ctx, cfg, d, runner, out)
}

func runOne(ctx context.Context, cfg runConfig, d deps, runner *runtime.Runner, out *writer) int {
	raw, err := loadOptions(cfg)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	var o runtime.Outcome
	if cfg.URL != "" {
		o = runner.ExecuteURL(ctx, cfg.Script, cfg.URL, raw)
	} else {
		o = runner.Execute(ctx, cfg.Script, raw)
	}
	out.outcome(o)

	if !o.Succeeded() {
		return 1
	}
	return 0
}

// runManifest streams requests from the manifest file through a bounded
// worker pool. Every request runs; the exit code reflects whether any of
// them failed.
func runManifest(ctx context.Context, cfg runConfig, d deps, runner *runtime.Runner, out *writer) int {
	var src io.Reader = os.Stdin
	if cfg.Manifest != "-" {
		f, err := os.Open(cfg.Manifest)
		if err != nil {
			fmt.Fprintf(d.Stderr, "manifest: %v\n", err)
			return 2
		}
		defer f.Close()
		src = f
	}

	reqs := make(chan manifest.Request)
	failed := 0
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			for req := range reqs {
				var o runtime.Outcome
				if req.URL != "" {
					o = runner.ExecuteURL(ctx, req.Script, req.URL, req.Options)
				} else {
					o = runner.Execute(ctx, req.Script, req.Options)
				}
				out.outcome(o)
				if !o.Succeeded() {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}

	streamErr := manifest.Stream(ctx, src, func(req manifest.Request) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reqs <- req:
			return nil
		}
	})
	close(reqs)
	wg.Wait()

	if streamErr != nil {
		fmt.Fprintf(d.Stderr, "manifest: %v\n", streamErr)
		return 2
	}
	mu.Lock()
	defer mu.Unlock()
	if failed > 0 {
		return 1
	}
	return 0
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("runscript", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	cfg := runConfig{Opts: map[string]any{}}
	fs.StringVar(&cfg.SettingsPath, "settings", "", "Path to TOML settings file (defaults apply when empty)")
	fs.StringVar(&cfg.Script, "script", "", "Registered script name to run")
	fs.StringVar(&cfg.URL, "url", "", "URL for url-driven scripts (also becomes the url option)")
	fs.StringVar(&cfg.OptionsFile, "options", "", "JSON file of raw option values")
	fs.StringVar(&cfg.Manifest, "manifest", "", "Manifest of run requests (JSON/JSONL/CSV, - for stdin)")
	fs.IntVar(&cfg.Workers, "workers", 1, "Concurrent runs in manifest mode")
	fs.StringVar(&cfg.LogLevel, "log_level", "", "Override the settings log level")
	fs.Func("opt", "Raw option as k=v (repeatable)", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return fmt.Errorf("bad -opt %q, want k=v", s)
		}
		cfg.Opts[k] = v
		return nil
	})

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.Manifest == "" && cfg.Script == "" {
		return runConfig{}, errors.New("missing required -script (or -manifest)")
	}
	if cfg.Manifest != "" && cfg.Script != "" {
		return runConfig{}, errors.New("-script and -manifest are mutually exclusive")
	}
	if cfg.Workers < 1 {
		return runConfig{}, errors.New("-workers must be >= 1")
	}
	return cfg, nil
}

// loadOptions merges the options file under the repeatable -opt flags.
func loadOptions(cfg runConfig) (map[string]any, error) {
	out := map[string]any{}
	if cfg.OptionsFile != "" {
		raw, err := os.ReadFile(cfg.OptionsFile)
		if err != nil {
			return nil, fmt.Errorf("options file: %w", err)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("options file %s: %w", cfg.OptionsFile, err)
		}
	}
	for k, v := range cfg.Opts {
		out[k] = v
	}
	return out, nil
}

// writer serializes JSONL records; manifest workers share one stdout.
type writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newWriter(w io.Writer) *writer {
	return &writer{enc: json.NewEncoder(w)}
}

func (w *writer) partial(it emit.Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.enc.Encode(record{Type: "partial", Item: &it})
}

func (w *writer) outcome(o runtime.Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := record{
		Script:  o.Script,
		RunID:   o.RunID,
		Elapsed: o.Elapsed.Milliseconds(),
	}
	if o.Succeeded() {
		rec.Type = "result"
		b := o.Batch
		rec.Batch = &b
	} else {
		rec.Type = "error"
		rec.Error = o.Err.Error()
	}
	_ = w.enc.Encode(rec)
}
