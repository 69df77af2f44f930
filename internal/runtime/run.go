package runtime

import (
	"context"
	"log/slog"
	"time"

	"scrapekit/internal/emit"
	"scrapekit/internal/fetch"
	"scrapekit/internal/schema"
)

// Run is the capability object handed to a script's entry point. One Run
// serves one invocation; nothing in it is shared with any other run. All
// blocking calls take a context and honor its cancellation at the next
// suspension point.
type Run struct {
	id   string
	meta Metadata
	opts *schema.Resolved
	log  *slog.Logger

	client     *fetch.Client
	retry      *fetch.Retry
	session    *fetch.Session
	newSession func() *fetch.Session

	channel *emit.Channel

	pageDelay time.Duration
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

// ID is the run's unique identifier, present on every log line and partial
// record tied to this invocation.
func (r *Run) ID() string { return r.id }

// Meta returns the script's metadata.
func (r *Run) Meta() Metadata { return r.meta }

// Options returns the validated option values. Its getters never fail.
func (r *Run) Options() *schema.Resolved { return r.opts }

// Log returns the run logger, pre-tagged with the script name and run ID.
// Logging never fails the run.
func (r *Run) Log() *slog.Logger { return r.log }

// Now reads the wall clock.
func (r *Run) Now() time.Time { return r.now() }

// Sleep pauses the run. It is a suspension point: cancellation is observed
// here, and the error is the context's.
func (r *Run) Sleep(ctx context.Context, d time.Duration) error {
	return r.sleep(ctx, d)
}

// PageDelay is the host's configured pause between page fetches. Scripts
// that walk paginated listings pass it to their collector.
func (r *Run) PageDelay() time.Duration { return r.pageDelay }

// Fetch performs a single GET with the run's default headers. No implicit
// retry; wrap with Retrying for that.
func (r *Run) Fetch(ctx context.Context, rawURL string) (*fetch.Response, error) {
	return r.client.Fetch(ctx, rawURL)
}

// FetchWith is Fetch with caller headers overriding the defaults per key.
func (r *Run) FetchWith(ctx context.Context, rawURL string, headers map[string]string) (*fetch.Response, error) {
	return r.client.FetchWith(ctx, rawURL, headers)
}

// Retrying returns the run's retry-wrapped fetcher: the host's attempt
// budget and delay, sleeping between attempts, surfacing the last error.
func (r *Run) Retrying() *fetch.Retry { return r.retry }

// Session returns the run's cookie-carrying fetcher, created on first use.
// Cookies persist across its fetches and die with the run.
func (r *Run) Session() *fetch.Session {
	if r.session == nil {
		r.session = r.newSession()
	}
	return r.session
}

// Partial streams one item to the host immediately. Best-effort: it never
// fails and gives the run no credit toward success.
func (r *Run) Partial(it emit.Item) { r.channel.Partial(it) }

// Emit records the run's terminal batch. At most one call is meaningful;
// later calls return emit.ErrAlreadyEmitted.
func (r *Run) Emit(dir string, items []emit.Item) error {
	return r.channel.Emit(dir, items)
}
