package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/retry"
)

// Fault is one entry of a QBO Fault body.
type Fault struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
	Element string `json:"element,omitempty"`
}

type faultBody struct {
	Fault struct {
		Error []Fault `json:"Error"`
		Type  string  `json:"type"`
	} `json:"Fault"`
}

// HTTPError is a non-2xx QBO response.
type HTTPError struct {
	Status    int
	FaultType string
	Faults    []Fault
	// Delay is the Retry-After wait when HasDelay is set.
	Delay    time.Duration
	HasDelay bool
	// IntuitTID is the upstream trace id, useful in support requests.
	IntuitTID string
}

var (
	_ retry.StatusCoder  = (*HTTPError)(nil)
	_ retry.RetryAfterer = (*HTTPError)(nil)
)

func (e *HTTPError) Error() string {
	var parts []string
	for _, fault := range e.Faults {
		message := fault.Message
		if fault.Detail != "" && fault.Detail != fault.Message {
			message += ": " + fault.Detail
		}
		if fault.Code != "" {
			message += " (code " + fault.Code + ")"
		}
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("qbo api error: status %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("qbo api error: status %d: %s", e.Status, strings.Join(parts, "; "))
}

// StatusCode implements retry.StatusCoder.
func (e *HTTPError) StatusCode() int { return e.Status }

// RetryAfter implements retry.RetryAfterer.
func (e *HTTPError) RetryAfter() (time.Duration, bool) { return e.Delay, e.HasDelay }

// FaultCode returns the first fault code, or "".
func (e *HTTPError) FaultCode() string {
	if len(e.Faults) == 0 {
		return ""
	}
	return e.Faults[0].Code
}

func newHTTPError(resp *http.Response, body []byte, now time.Time) *HTTPError {
	httpErr := &HTTPError{
		Status:    resp.StatusCode,
		IntuitTID: resp.Header.Get("intuit_tid"),
	}
	httpErr.Delay, httpErr.HasDelay = retry.ParseRetryAfter(resp.Header.Get("Retry-After"), now)

	var parsed faultBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		httpErr.FaultType = parsed.Fault.Type
		httpErr.Faults = parsed.Fault.Error
	}
	if len(httpErr.Faults) == 0 {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
			httpErr.Faults = []Fault{{Message: text}}
		}
	}
	return httpErr
}
