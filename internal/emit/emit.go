// Package emit carries download items out of a running script.
//
// A script may stream items early through Partial as it finds them, and
// must finish by handing the complete result to Emit exactly once. Partials
// are a preview for hosts that render progress; the terminal batch is the
// only authoritative result. Items pass through unmodified.
package emit

import (
	"errors"
	"sync"
)

// ErrAlreadyEmitted reports a second terminal Emit on the same channel.
var ErrAlreadyEmitted = errors.New("terminal batch already emitted")

// Kind classifies a download item for the consumer.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindMedia    Kind = "media"
)

// Item is one downloadable artifact produced by script logic. The runtime
// transports it as-is.
type Item struct {
	URL      string            `json:"url"`
	Filename string            `json:"filename"`
	Title    string            `json:"title,omitempty"`
	Kind     Kind              `json:"kind"`
	Headers  map[string]string `json:"headers,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
}

// Batch is the terminal result of a run: a target directory name and the
// items to download into it.
type Batch struct {
	Dir   string `json:"dir"`
	Items []Item `json:"items"`
}

// PartialFunc receives early items as a script finds them. Implementations
// must not block for long; the script goroutine calls it inline.
type PartialFunc func(Item)

// Channel collects one run's emissions. Safe for concurrent use, though a
// run is a single logical sequence and normally calls it from one goroutine.
type Channel struct {
	mu       sync.Mutex
	forward  PartialFunc
	partials []Item
	batch    *Batch
}

// New returns a channel forwarding partials to fn. fn may be nil.
func New(fn PartialFunc) *Channel {
	return &Channel{forward: fn}
}

// Partial records it and forwards it to the partial sink. Best-effort: it
// never fails, and calls after the terminal Emit are dropped because the
// batch already supersedes them.
func (c *Channel) Partial(it Item) {
	c.mu.Lock()
	if c.batch != nil {
		c.mu.Unlock()
		return
	}
	c.partials = append(c.partials, it)
	fn := c.forward
	c.mu.Unlock()

	if fn != nil {
		fn(it)
	}
}

// Emit records the terminal batch. The first call wins; every later call
// returns ErrAlreadyEmitted and changes nothing.
func (c *Channel) Emit(dir string, items []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.batch != nil {
		return ErrAlreadyEmitted
	}
	c.batch = &Batch{Dir: dir, Items: append([]Item(nil), items...)}
	return nil
}

// Batch returns the terminal batch and whether Emit happened.
func (c *Channel) Batch() (Batch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.batch == nil {
		return Batch{}, false
	}
	return *c.batch, true
}

// Partials returns a copy of the recorded partial items in emission order.
func (c *Channel) Partials() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.partials...)
}

// Emitted reports whether the terminal batch landed.
func (c *Channel) Emitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batch != nil
}
