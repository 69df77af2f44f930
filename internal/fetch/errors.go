package fetch

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindNetwork covers DNS, connect, TLS, and read failures.
	KindNetwork Kind = iota
	// KindTimeout covers per-fetch deadline hits, whether from the client
	// timeout or the caller's context.
	KindTimeout
	// KindStatus covers HTTP responses with status >= 400.
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "http status"
	default:
		return "network"
	}
}

// Error is a failed fetch. Status and Body are set for KindStatus;
// RetryAfter carries a parsed Retry-After header when the server sent one.
type Error struct {
	URL        string
	Kind       Kind
	Status     int
	Body       string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Body != "" {
			return fmt.Sprintf("fetch %s: http status %d: %s", e.URL, e.Status, e.Body)
		}
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	case KindTimeout:
		return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.cause)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Timeout reports whether the failure was a deadline hit, matching the
// net.Error convention.
func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

// IsTimeout reports whether err is a fetch timeout.
func IsTimeout(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindTimeout
}

// StatusCode returns the HTTP status behind err, if err is a status failure.
func StatusCode(err error) (int, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == KindStatus {
		return fe.Status, true
	}
	return 0, false
}
