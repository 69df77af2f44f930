// Package runtime executes scraper scripts: it validates their declared
// options, hands each run an isolated capability object, and collects the
// run's emitted result.
//
// A script is a Go value registered once at init time. It declares exactly
// one entry point: Main for option-driven scripts or Resolve for URL-driven
// ones. The host dispatches on that tag and never guesses between multiple
// entry points.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"scrapekit/internal/schema"
)

// EntryKind tags a script's entry convention.
type EntryKind int

const (
	// OptionDriven scripts run from validated options alone.
	OptionDriven EntryKind = iota + 1
	// URLDriven scripts run against one URL handed in by the host.
	URLDriven
)

func (k EntryKind) String() string {
	switch k {
	case OptionDriven:
		return "option-driven"
	case URLDriven:
		return "url-driven"
	default:
		return "unknown"
	}
}

// Script couples metadata with exactly one entry point.
type Script struct {
	Meta Metadata

	// Main is the option-driven entry point.
	Main func(ctx context.Context, run *Run) error

	// Resolve is the URL-driven entry point.
	Resolve func(ctx context.Context, run *Run, rawURL string) error
}

// Kind reports which entry point the script declares.
func (s *Script) Kind() EntryKind {
	if s.Main != nil {
		return OptionDriven
	}
	return URLDriven
}

var (
	regMu   sync.RWMutex
	scripts = map[string]*Script{}
)

// Register adds s to the process registry. It panics on a nil script, a
// missing name, a duplicate name, zero or two entry points, or a broken
// option declaration: all are programmer errors surfaced at init time.
// The script's options are normalized in place.
func Register(s *Script) {
	if s == nil || s.Meta.Name == "" {
		panic("runtime: Register called with unnamed script")
	}
	name := strings.ToLower(s.Meta.Name)

	if (s.Main == nil) == (s.Resolve == nil) {
		panic(fmt.Sprintf("runtime: script %q must declare exactly one of Main and Resolve", name))
	}

	defs, err := schema.Normalize(s.Meta.Options)
	if err != nil {
		panic(fmt.Sprintf("runtime: script %q options: %v", name, err))
	}
	s.Meta.Options = defs

	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := scripts[name]; exists {
		panic(fmt.Sprintf("runtime: script %q already registered", name))
	}
	scripts[name] = s
}

// Get returns the script registered under name, case-insensitively.
func Get(name string) (*Script, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	s, ok := scripts[strings.ToLower(name)]
	return s, ok
}

// Names returns every registered script name, sorted.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()

	out := make([]string, 0, len(scripts))
	for name := range scripts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns every registered script, sorted by name.
func All() []*Script {
	regMu.RLock()
	defer regMu.RUnlock()

	out := make([]*Script, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Meta.Name) < strings.ToLower(out[j].Meta.Name)
	})
	return out
}

// MatchURL returns the scripts whose domains cover rawURL, sorted by name.
func MatchURL(rawURL string) []*Script {
	var out []*Script
	for _, s := range All() {
		if s.Meta.SupportsURL(rawURL) {
			out = append(out, s)
		}
	}
	return out
}
