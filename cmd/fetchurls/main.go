// Command fetchurls bulk-fetches URLs through the runtime's fetch stack:
// default headers, per-call timeout, retry with delay and Retry-After. One
// JSONL record per attempt goes to stdout; bodies optionally land in an
// output directory. It exists to exercise fetch policy outside any script.
package main

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"scrapekit/internal/collect"
	"scrapekit/internal/fetch"
	"scrapekit/internal/metrics"
	"scrapekit/internal/metrics/datadog"
	"scrapekit/internal/settings"
)

// attemptRecord is one JSONL line per fetch attempt. Additive changes are
// safe; renames and removals break downstream log consumers.
type attemptRecord struct {
	Timestamp  string `json:"ts"`
	URL        string `json:"url"`
	Attempt    int    `json:"attempt"`
	StatusCode int    `json:"http_code"`
	DurationMs int64  `json:"duration_ms"`
	SizeBytes  int64  `json:"size_bytes"`
	File       string `json:"file,omitempty"`
	Error      string `json:"error,omitempty"`
}

type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Now            func() time.Time
	Sleep          func(context.Context, time.Duration) error
	BackendFactory func(ctx context.Context, m settings.Metrics) (backendCloser, error)
}

type runConfig struct {
	SettingsPath string
	URLFile      string
	OutDir       string
	Workers      int
	Job          string
	URLs         []string
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
// one URL exhausted its retries (404s excepted, a missing resource is not a
// batch failure), 2 configuration error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
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

	urls := cfg.URLs
	if cfg.URLFile != "" {
		fromFile, err := readURLs(cfg.URLFile)
		if err != nil {
			fmt.Fprintf(d.Stderr, "reading urls: %v\n", err)
			return 2
		}
		urls = append(fromFile, urls...)
	}
	if len(urls) == 0 {
		fmt.Fprintln(d.Stderr, "no URLs given (args or -in)")
		return 2
	}

	if cfg.OutDir != "" {
		if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
			fmt.Fprintf(d.Stderr, "output directory: %v\n", err)
			return 2
		}
	}

	if st.Metrics.Enabled && d.BackendFactory != nil {
		backend, err := d.BackendFactory(ctx, st.Metrics)
		if err != nil {
			fmt.Fprintf(d.Stderr, "metrics backend: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() { _ = metrics.Close() }()
	}

	client := fetch.NewClient(st.ClientConfig(cfg.Job))

	logCh := make(chan attemptRecord, 512)
	var logWG sync.WaitGroup
	logWG.Add(1)
	go func() {
		defer logWG.Done()
		enc := json.NewEncoder(d.Stdout)
		for rec := range logCh {
			_ = enc.Encode(rec)
		}
	}()

	jobs := make(chan string)
	failed := false
	var failMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			for rawURL := range jobs {
				if !fetchOne(ctx, client, st, cfg, d, rawURL, logCh) {
					failMu.Lock()
					failed = true
					failMu.Unlock()
				}
			}
		}()
	}

	for _, u := range urls {
		select {
		case <-ctx.Done():
		case jobs <- u:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()
	close(logCh)
	logWG.Wait()

	failMu.Lock()
	defer failMu.Unlock()
	if failed {
		return 1
	}
	return 0
}

// fetchOne runs the retry loop for one URL, recording every attempt.
func fetchOne(
	ctx context.Context,
	client *fetch.Client,
	st settings.Settings,
	cfg runConfig,
	d deps,
	rawURL string,
	logCh chan<- attemptRecord,
) bool {
	rec := &recorder{inner: client, url: rawURL, now: d.Now, out: logCh}
	retry := fetch.NewRetry(rec, st.MaxAttempts, st.RetryDelay())
	retry.Job = cfg.Job
	if d.Sleep != nil {
		retry.SetSleep(d.Sleep)
	}

	resp, err := retry.Fetch(ctx, rawURL)
	if err != nil {
		if code, ok := fetch.StatusCode(err); ok && code == http.StatusNotFound {
			return true
		}
		return false
	}

	if cfg.OutDir != "" {
		path := filepath.Join(cfg.OutDir, outputName(rawURL))
		if err := writeBody(path, resp.Body); err != nil {
			logCh <- attemptRecord{
				Timestamp: d.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
				URL:       rawURL,
				Error:     fmt.Sprintf("write body: %v", err),
			}
			return false
		}
		logCh <- attemptRecord{
			Timestamp:  d.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			URL:        rawURL,
			StatusCode: resp.Status,
			SizeBytes:  int64(len(resp.Body)),
			File:       path,
		}
	}
	return true
}

// recorder wraps a fetcher and emits one attemptRecord per call. The retry
// wrapper drives it once per attempt, so the attempt count falls out of the
// call sequence.
type recorder struct {
	inner   fetch.Fetcher
	url     string
	now     func() time.Time
	out     chan<- attemptRecord
	attempt int
}

func (r *recorder) Fetch(ctx context.Context, rawURL string) (*fetch.Response, error) {
	return r.FetchWith(ctx, rawURL, nil)
}

func (r *recorder) FetchWith(ctx context.Context, rawURL string, headers map[string]string) (*fetch.Response, error) {
	r.attempt++
	start := r.now()

	resp, err := r.inner.FetchWith(ctx, rawURL, headers)

	rec := attemptRecord{
		Timestamp:  start.UTC().Format("2006-01-02T15:04:05.000Z"),
		URL:        rawURL,
		Attempt:    r.attempt,
		DurationMs: r.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
		if code, ok := fetch.StatusCode(err); ok {
			rec.StatusCode = code
		}
	} else {
		rec.StatusCode = resp.Status
		rec.SizeBytes = int64(len(resp.Body))
	}
	r.out <- rec

	return resp, err
}

// outputName keeps the URL's filename when it has one and stays collision
// free with a URL-hash prefix.
func outputName(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	prefix := hex.EncodeToString(sum[:8])
	if name := collect.FilenameFromURL(rawURL); name != "" {
		return prefix + "-" + name
	}
	return prefix
}

// writeBody writes atomically: temp file in the target directory, rename
// into place on success.
func writeBody(path string, body []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fetchurls-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(body)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmpName)
		if werr != nil {
			return werr
		}
		return cerr
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("fetchurls", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s: [flags] [url ...]\n", fs.Name())
		fs.PrintDefaults()
	}

	var cfg runConfig
	fs.StringVar(&cfg.SettingsPath, "settings", "", "Path to TOML settings file")
	fs.StringVar(&cfg.URLFile, "in", "", "File of URLs, one per line (# comments allowed)")
	fs.StringVar(&cfg.OutDir, "out", "", "Directory to save response bodies (discarded when empty)")
	fs.IntVar(&cfg.Workers, "workers", 4, "Concurrent fetch workers")
	fs.StringVar(&cfg.Job, "name", "fetchurls", "Job name used in metrics labels")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.Workers < 1 {
		return runConfig{}, errors.New("-workers must be >= 1")
	}
	cfg.URLs = fs.Args()
	return cfg, nil
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}
