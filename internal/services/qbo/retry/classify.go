package retry

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"syscall"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return 0
}

var networkErrnos = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.EPIPE:        "EPIPE",
}

var networkCodes = []string{"ECONNRESET", "ETIMEDOUT", "ENOTFOUND", "ECONNREFUSED", "EPIPE", "EAI_AGAIN"}

var throttleMarkers = []string{"rate limit", "too many requests", "throttl"}

// IsRetryable classifies err with the default status list.
func IsRetryable(err error) bool {
	return DefaultPolicy().IsRetryable(err)
}

// IsRetryable reports whether err is transient under this policy: a listed
// HTTP status, a network failure or a throttling message. Cancellation is
// never transient.
func (p Policy) IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if status := StatusOf(err); status != 0 {
		statuses := p.RetryableStatuses
		if statuses == nil {
			statuses = DefaultPolicy().RetryableStatuses
		}
		if slices.Contains(statuses, status) {
			return true
		}
	}
	if networkCode(err) != "" {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, marker := range throttleMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

// networkCode names the network failure behind err, or returns "".
func networkCode(err error) string {
	if err == nil {
		return ""
	}
	for errno, code := range networkErrnos {
		if errors.Is(err, errno) {
			return code
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return "ENOTFOUND"
		}
		return "EAI_AGAIN"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "ETIMEDOUT"
	}
	message := err.Error()
	for _, code := range networkCodes {
		if strings.Contains(message, code) {
			return code
		}
	}
	return ""
}
