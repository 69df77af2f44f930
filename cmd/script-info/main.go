// Command script-info introspects the script registry: lists registered
// scripts, dumps one script's canonical option schema, or reports which
// scripts claim a candidate URL. Output is JSON for tooling.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"scrapekit/internal/runtime"
	"scrapekit/internal/schema"
	_ "scrapekit/scripts"
)

type deps struct {
	Stdout io.Writer
	Stderr io.Writer
}

type runConfig struct {
	List   bool
	Script string
	URL    string
}

// listing is one row of -list and -url output.
type listing struct {
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Kind        string   `json:"kind"`
	Domains     []string `json:"domains,omitempty"`
}

// schemaDump is the -script output: identity plus the canonical option
// sequence, in declaration order.
type schemaDump struct {
	Name    string             `json:"name"`
	Author  string             `json:"author,omitempty"`
	Version string             `json:"version,omitempty"`
	Kind    string             `json:"kind"`
	Options []schema.OptionDef `json:"options"`
}

func main() {
	os.Exit(run(os.Args[1:], deps{Stdout: os.Stdout, Stderr: os.Stderr}))
}

func run(args []string, d deps) int {
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

	enc := json.NewEncoder(d.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case cfg.Script != "":
		s, ok := runtime.Get(cfg.Script)
		if !ok {
			fmt.Fprintf(d.Stderr, "unknown script %q\n", cfg.Script)
			return 1
		}
		_ = enc.Encode(schemaDump{
			Name:    s.Meta.Name,
			Author:  s.Meta.Author,
			Version: s.Meta.Version,
			Kind:    s.Kind().String(),
			Options: s.Meta.Options,
		})

	case cfg.URL != "":
		_ = enc.Encode(rows(runtime.MatchURL(cfg.URL)))

	default:
		_ = enc.Encode(rows(runtime.All()))
	}
	return 0
}

func rows(scripts []*runtime.Script) []listing {
	out := make([]listing, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, listing{
			Name:        s.Meta.Name,
			Version:     s.Meta.Version,
			Description: s.Meta.Description,
			Kind:        s.Kind().String(),
			Domains:     s.Meta.Domains,
		})
	}
	return out
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("script-info", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var cfg runConfig
	fs.BoolVar(&cfg.List, "list", false, "List every registered script")
	fs.StringVar(&cfg.Script, "script", "", "Dump the canonical option schema of one script")
	fs.StringVar(&cfg.URL, "url", "", "List scripts whose domains match this URL")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	set := 0
	for _, on := range []bool{cfg.List, cfg.Script != "", cfg.URL != ""} {
		if on {
			set++
		}
	}
	if set > 1 {
		return runConfig{}, errors.New("-list, -script, and -url are mutually exclusive")
	}
	return cfg, nil
}
