package runtime

import (
	"net/url"
	"strings"

	"scrapekit/internal/schema"
)

// Metadata describes a script: identity, the sites it targets, and the
// options it declares. Loaded once at registration and never mutated.
type Metadata struct {
	Name        string `json:"name"`
	Author      string `json:"author,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`

	// Domains lists the URL patterns this script targets. A bare pattern
	// "example.com" matches that host and any subdomain; "*.example.com"
	// matches the same way; an http(s) URL pattern matches by its host
	// exactly. Empty means the script matches no URL and runs by name only.
	Domains []string `json:"supported_domains,omitempty"`

	Options []schema.OptionDef `json:"options,omitempty"`
}

// SupportsURL reports whether rawURL's host falls under one of the script's
// domain patterns. Unparseable URLs match nothing.
func (m Metadata) SupportsURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, pat := range m.Domains {
		if hostMatches(host, pat) {
			return true
		}
	}
	return false
}

func hostMatches(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "http://") || strings.HasPrefix(pattern, "https://") {
		pu, err := url.Parse(pattern)
		if err != nil {
			return false
		}
		return host == strings.ToLower(pu.Hostname())
	}
	pattern = strings.TrimPrefix(pattern, "*.")
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}
