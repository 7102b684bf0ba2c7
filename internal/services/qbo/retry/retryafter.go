package retry

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryAfterer is implemented by errors that carry a server-requested wait.
type RetryAfterer interface {
	RetryAfter() (time.Duration, bool)
}

func retryAfterOf(err error) (time.Duration, bool) {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0, false
}

// ParseRetryAfter reads a Retry-After header value given as delta seconds or
// an HTTP date relative to now. Dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	if wait := at.Sub(now); wait > 0 {
		return wait, true
	}
	return 0, true
}
