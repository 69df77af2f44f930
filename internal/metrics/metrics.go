// Package metrics is the recording facade for runtime operational metrics.
//
// A process installs at most one Backend (see SetBackend); until then every
// record call is a no-op, so library code can record unconditionally. The
// runtime core depends only on this package, never on a vendor client.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Series names. Backends receive these verbatim.
const (
	MetricFetchRequests         = "scrape_fetch_requests_total"
	MetricFetchErrors           = "scrape_fetch_errors_total"
	MetricFetchRequestDuration  = "scrape_fetch_request_duration_seconds"
	MetricFetchResponseDuration = "scrape_fetch_response_duration_seconds"
	MetricFetchBytes            = "scrape_fetch_bytes"
	MetricRetries               = "scrape_retry_total"
	MetricRuns                  = "scrape_run_total"
	MetricRunDuration           = "scrape_run_duration_seconds"
	MetricRunItems              = "scrape_run_items"
)

// Labels tag one observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for
// concurrent use; calls happen on fetch and run hot paths.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

var (
	mu      sync.RWMutex
	backend Backend
)

// SetBackend installs b as the process backend. Passing nil uninstalls.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	backend = b
}

// Close flushes and uninstalls the backend when it supports closing.
func Close() error {
	mu.Lock()
	b := backend
	backend = nil
	mu.Unlock()

	if c, ok := b.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func active() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// RecordFetch records one fetch attempt. job is the script or command name,
// status 0 means the request never got a response, requestDur is time to
// response headers and responseDur the full exchange.
func RecordFetch(job string, status int, err error, requestDur, responseDur time.Duration, bytes int64) {
	b := active()
	if b == nil {
		return
	}

	labels := Labels{"job": jobLabel(job), "status": strconv.Itoa(status)}
	b.IncCounter(MetricFetchRequests, 1, labels)
	if err != nil {
		b.IncCounter(MetricFetchErrors, 1, labels)
	}
	if requestDur > 0 {
		b.ObserveHistogram(MetricFetchRequestDuration, requestDur.Seconds(), labels)
	}
	if responseDur > 0 {
		b.ObserveHistogram(MetricFetchResponseDuration, responseDur.Seconds(), labels)
	}
	if bytes >= 0 {
		b.ObserveHistogram(MetricFetchBytes, float64(bytes), labels)
	}
}

// RecordRetry counts one retry wait for job.
func RecordRetry(job string) {
	b := active()
	if b == nil {
		return
	}
	b.IncCounter(MetricRetries, 1, Labels{"job": jobLabel(job)})
}

// RecordRun records one completed script run. result is "ok", "failed", or
// "invalid_options".
func RecordRun(job, result string, dur time.Duration, items int) {
	b := active()
	if b == nil {
		return
	}

	labels := Labels{"job": jobLabel(job), "result": result}
	b.IncCounter(MetricRuns, 1, labels)
	b.ObserveHistogram(MetricRunDuration, dur.Seconds(), labels)
	if items >= 0 {
		b.ObserveHistogram(MetricRunItems, float64(items), labels)
	}
}

func jobLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
