// Command extract-links runs one selector-driven extraction and prints the
// resulting download items as JSONL. It fetches a URL (with pagination when
// asked) or reads HTML from stdin, making it the quick way to try a
// selector against a page before writing a script around it.
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
	"syscall"

	"scrapekit/internal/collect"
	"scrapekit/internal/emit"
	"scrapekit/internal/fetch"
	"scrapekit/internal/logging"
	"scrapekit/internal/settings"
)

type deps struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

type runConfig struct {
	SettingsPath string
	URL          string
	Base         string
	Selector     string
	Attr         string
	Pages        int
	Discover     bool
	Max          int
	AllowExt     string
	DenyExt      string
	Domains      string
	Kind         string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], deps{Stdout: os.Stdout, Stderr: os.Stderr, Stdin: os.Stdin}))
}

// run executes the extraction and returns 0 on success, 1 on a fetch or
// selection failure, 2 on a usage error.
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
	log := logging.New(st.Logging.Level, st.Logging.Format, d.Stderr)

	c := &collect.Collector{
		Items: collect.ItemRules{
			Selector: cfg.Selector,
			Attr:     cfg.Attr,
			Kind:     emit.Kind(cfg.Kind),
			Max:      cfg.Max,
			Filter: collect.Filter{
				AllowExt: splitCSV(cfg.AllowExt),
				DenyExt:  splitCSV(cfg.DenyExt),
				Domains:  splitCSV(cfg.Domains),
			},
		},
		Delay: st.PageDelay(),
		Log:   log,
	}

	enc := json.NewEncoder(d.Stdout)
	c.OnItem = func(it emit.Item) { _ = enc.Encode(it) }

	pageURL := cfg.URL
	if cfg.URL != "" {
		client := fetch.NewClient(st.ClientConfig("extract-links"))
		retry := fetch.NewRetry(client, st.MaxAttempts, st.RetryDelay())
		retry.Job = "extract-links"
		retry.Log = log
		c.Fetcher = retry
		if cfg.Discover || cfg.Pages > 1 {
			c.Pager = &collect.Pager{Discover: cfg.Discover, MaxPages: cfg.Pages}
		}
	} else {
		html, err := io.ReadAll(d.Stdin)
		if err != nil {
			fmt.Fprintf(d.Stderr, "reading stdin: %v\n", err)
			return 1
		}
		c.Fetcher = &staticPage{url: cfg.Base, html: string(html)}
		pageURL = cfg.Base
	}

	if _, err := c.Collect(ctx, pageURL); err != nil {
		fmt.Fprintf(d.Stderr, "extract: %v\n", err)
		return 1
	}
	return 0
}

// staticPage serves stdin HTML as page 1; pagination never applies to it.
type staticPage struct {
	url  string
	html string
}

func (s *staticPage) Fetch(ctx context.Context, rawURL string) (*fetch.Response, error) {
	return &fetch.Response{URL: s.url, Status: 200, HTML: s.html}, nil
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("extract-links", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var cfg runConfig
	fs.StringVar(&cfg.SettingsPath, "settings", "", "Path to TOML settings file")
	fs.StringVar(&cfg.URL, "url", "", "Page URL to fetch (stdin HTML is read when empty)")
	fs.StringVar(&cfg.Base, "base", "", "Base URL for resolving links in stdin HTML")
	fs.StringVar(&cfg.Selector, "selector", "a[href]", "CSS selector for candidate nodes")
	fs.StringVar(&cfg.Attr, "attr", "", "Attribute carrying the item URL (href then src when empty)")
	fs.IntVar(&cfg.Pages, "pages", 0, "Pages to visit; with -discover it caps discovery, 0 = uncapped")
	fs.BoolVar(&cfg.Discover, "discover", false, "Discover the page count from page 1's pager links")
	fs.IntVar(&cfg.Max, "max", 0, "Stop after this many items (0 = unlimited)")
	fs.StringVar(&cfg.AllowExt, "allow", "", "CSV of extensions to keep (empty keeps all)")
	fs.StringVar(&cfg.DenyExt, "deny", "", "CSV of extensions to drop")
	fs.StringVar(&cfg.Domains, "domains", "", "CSV of hosts to keep (empty keeps all)")
	fs.StringVar(&cfg.Kind, "kind", "", "Force an item kind (derived from the URL when empty)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.URL == "" && cfg.Base == "" {
		return runConfig{}, errors.New("stdin mode needs -base to resolve relative links")
	}
	if cfg.Pages < 0 {
		return runConfig{}, errors.New("-pages must be >= 0")
	}
	return cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
