package directory

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Directory sites hide contact addresses from harvesters by writing them
// into inline scripts as escaped string literals. No JavaScript runs here:
// the decoder unescapes the literal and validates the result, which covers
// every obfuscation style these listings actually use.
var (
	reVarAddr = regexp.MustCompile(`\bvar\s+(?:a|addr|email)\s*=\s*'([^']*)'`)

	// Conservative on purpose; a missed exotic address beats a garbage item.
	reEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// emailIn extracts an email address from a contact card's inline script
// text. The candidate is the value of a var a='...' style assignment,
// decoded in order: JS escapes, then HTML entities, then a mailto: prefix
// strip. Returns "" when nothing decodes to a plausible address.
func emailIn(script string) string {
	m := reVarAddr.FindStringSubmatch(script)
	if len(m) != 2 {
		return ""
	}

	email := unescapeJS(m[1])
	email = html.UnescapeString(email)
	email = strings.TrimSpace(strings.TrimPrefix(email, "mailto:"))

	if reEmail.MatchString(email) {
		return email
	}
	return ""
}

// unescapeJS decodes the escape forms seen in single-quoted JS string
// literals: \uXXXX, \xXX, and backslash-escaped punctuation. Malformed
// escapes pass through untouched rather than failing the whole string.
func unescapeJS(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		switch s[i+1] {
		case 'u':
			if i+6 <= len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+6], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 6
					continue
				}
			}
		case 'x':
			if i+4 <= len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 4
					continue
				}
			}
		default:
			b.WriteByte(s[i+1])
			i += 2
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
