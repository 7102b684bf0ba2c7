// Package errors provides structured error handling for QBO operations.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Caller input errors
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUnsupportedMimeType Code = "UNSUPPORTED_MIME_TYPE"

	// Lookup errors
	CodeEntityNotFound  Code = "ENTITY_NOT_FOUND"
	CodeAccountNotFound Code = "ACCOUNT_NOT_FOUND"
	CodeVendorNotFound  Code = "VENDOR_NOT_FOUND"
	CodeAmbiguousVendor Code = "AMBIGUOUS_VENDOR"

	// Upstream errors
	CodeQBOAPI               Code = "QBO_API_ERROR"
	CodeAuthentication       Code = "AUTHENTICATION_ERROR"
	CodeDuplicateTransaction Code = "DUPLICATE_TRANSACTION"
	CodeCircuitOpen          Code = "CIRCUIT_OPEN"

	// Local storage errors
	CodeIdempotency Code = "IDEMPOTENCY_ERROR"
)

// IsCallerFault reports whether the code describes bad caller input rather
// than an upstream or infrastructure failure.
func (c Code) IsCallerFault() bool {
	switch c {
	case CodeValidation,
		CodeUnsupportedMimeType,
		CodeEntityNotFound,
		CodeAccountNotFound,
		CodeVendorNotFound,
		CodeAmbiguousVendor,
		CodeDuplicateTransaction:
		return true
	default:
		return false
	}
}
