// Package datadog implements a Datadog backend for the internal/metrics
// facade.
//
// Submitting once at process exit makes dashboards awkward for long scrape
// jobs, so the backend:
//   - buffers observations in-memory under a mutex
//   - flushes on a ticker (default once per minute)
//   - flushes one final time on Close
//
// Counters submit as count series; histogram samples submit as a fixed set
// of percentile gauges (p50/p90/p95/p99/max/samples). Any series name the
// facade sends is accepted; naming is the facade's contract, not this
// package's.
//
// Credentials come from the standard DD_API_KEY / DD_SITE environment via
// the client's default context.
package datadog

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"scrapekit/internal/metrics"
)

// Options configures a Backend.
type Options struct {
	// Job becomes tag "job:<name>" on every series. Defaults to "scrapekit".
	Job string

	// Tags are extra Datadog tags, e.g. []string{"env:prod"}.
	Tags []string

	// FlushEvery controls the submission interval. <= 0 means 60s.
	FlushEvery time.Duration

	// Unexported test seams. Production never sets these; tests use them to
	// avoid real clocks, tickers, and network submission.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter submitter
}

// submitter is the minimal slice of the Datadog SDK the backend needs. The
// SDK only exposes the concrete *datadogV2.MetricsApi, which cannot be
// stubbed without real HTTP; tests install a fake through Options.
type submitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesKey identifies one buffered series: metric name plus canonical tags.
type seriesKey struct {
	name string
	tags string
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api        submitter
	ctx        context.Context
	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	baseTags   []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[seriesKey]float64
	samples  map[seriesKey][]float64
}

var _ metrics.Backend = (*Backend)(nil)

// New constructs a Datadog backend and starts its flush loop. Submission
// errors surface from Close and are otherwise dropped; metrics must never
// take a scrape down.
func New(parent context.Context, opts Options) *Backend {
	job := opts.Job
	if job == "" {
		job = "scrapekit"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	tickerFn := opts.newTicker
	if tickerFn == nil {
		tickerFn = time.NewTicker
	}

	sub := opts.submitter
	if sub == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		sub = datadogV2.NewMetricsApi(client)
	}

	baseTags := append([]string{"job:" + job}, opts.Tags...)

	b := &Backend{
		api:        sub,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  tickerFn,
		counters:   make(map[seriesKey]float64),
		samples:    make(map[seriesKey][]float64),
	}

	go b.loop()
	return b
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits whatever is still buffered.
// Close must be called at most once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k := seriesKey{name: name, tags: tagset(labels)}

	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k := seriesKey{name: name, tags: tagset(labels)}

	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

// Flush submits buffered series and resets the buffers. Buffers reset even
// when submission fails, trading at-least-once delivery for never blocking
// the scrape path.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	series := b.buildSeries(counters, samples, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

func (b *Backend) snapshotAndReset() (map[seriesKey]float64, map[seriesKey][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counters, samples := b.counters, b.samples
	b.counters = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	return counters, samples
}

// buildSeries is pure: no locks, clocks, or network, so tests can assert on
// the exact payload for a known buffer state.
func (b *Backend) buildSeries(counters map[seriesKey]float64, samples map[seriesKey][]float64, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	for k, v := range counters {
		series = append(series, b.series(metricName(k.name), v, k.tags, nowUnix, datadogV2.METRICINTAKETYPE_COUNT))
	}

	for k, vals := range samples {
		if len(vals) == 0 {
			continue
		}
		cp := append([]float64(nil), vals...)
		sort.Float64s(cp)

		name := metricName(k.name)
		for _, pct := range []struct {
			suffix string
			value  float64
		}{
			{".p50", percentileNearestRank(cp, 0.50)},
			{".p90", percentileNearestRank(cp, 0.90)},
			{".p95", percentileNearestRank(cp, 0.95)},
			{".p99", percentileNearestRank(cp, 0.99)},
			{".max", cp[len(cp)-1]},
			{".samples", float64(len(cp))},
		} {
			series = append(series, b.series(name+pct.suffix, pct.value, k.tags, nowUnix, datadogV2.METRICINTAKETYPE_GAUGE))
		}
	}

	return series
}

func (b *Backend) series(metric string, value float64, tags string, nowUnix int64, typ datadogV2.MetricIntakeType) datadogV2.MetricSeries {
	all := append(append([]string(nil), b.baseTags...), splitTagset(tags)...)
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: all,
	}
}

// metricName maps facade names onto Datadog's dotted convention.
func metricName(name string) string {
	return strings.ReplaceAll(name, "_", ".")
}

// tagset canonicalizes labels into a sorted "k:v,k:v" string so label maps
// with equal content always land in the same buffered series.
func tagset(labels metrics.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+":"+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func splitTagset(tags string) []string {
	if tags == "" {
		return nil
	}
	return strings.Split(tags, ",")
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,service:scraper",
// for wiring a -metrics-tags style flag straight into Options.Tags.
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
