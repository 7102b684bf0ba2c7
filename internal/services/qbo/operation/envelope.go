package operation

import (
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/qbo-mcp/internal/platform/errors"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/breaker"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

// Envelope is the uniform outcome of every operation. IsError is set exactly
// when Result is absent and Error is present.
type Envelope[T any] struct {
	Result        T       `json:"result"`
	IsError       bool    `json:"isError"`
	Error         *string `json:"error"`
	WasIdempotent bool    `json:"wasIdempotent,omitempty"`
	// Code classifies failures; empty on success.
	Code apperrors.Code `json:"code,omitempty"`
}

// Success wraps a result.
func Success[T any](result T) Envelope[T] {
	return Envelope[T]{Result: result}
}

// Idempotent wraps a result served from the idempotency store.
func Idempotent[T any](result T) Envelope[T] {
	return Envelope[T]{Result: result, WasIdempotent: true}
}

// Failure wraps err. The message is prefixed with its code so circuit
// rejections read differently from upstream faults.
func Failure[T any](err error) Envelope[T] {
	code := Classify(err)
	message := fmt.Sprintf("[%s] %s", code, err.Error())
	return Envelope[T]{IsError: true, Error: &message, Code: code}
}

// Classify maps an error from any layer to a domain code.
func Classify(err error) apperrors.Code {
	if err == nil {
		return apperrors.CodeUnknown
	}
	if errors.Is(err, breaker.ErrOpen) {
		return apperrors.CodeCircuitOpen
	}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	var httpErr *upstream.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 401 || httpErr.Status == 403:
			return apperrors.CodeAuthentication
		case httpErr.Status == 404 || httpErr.FaultCode() == objectNotFoundFault:
			return apperrors.CodeEntityNotFound
		case httpErr.FaultCode() == duplicateNameFault:
			return apperrors.CodeDuplicateTransaction
		}
	}
	return apperrors.CodeQBOAPI
}

// QBO fault codes with a dedicated domain code.
const (
	objectNotFoundFault = "610"
	duplicateNameFault  = "6240"
)

func validation(format string, args ...any) error {
	return apperrors.New(apperrors.CodeValidation, fmt.Sprintf(format, args...))
}
