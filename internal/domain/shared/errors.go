package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same code.
// MALFORMED_PAYLOAD also matches REMOTE_UNREACHABLE: a body that cannot be
// decoded is handled exactly like a failed request.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	if e.Code == de.Code {
		return true
	}
	return e.Code == CodeMalformedPayload && de.Code == CodeRemoteUnreachable
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Wrap returns a copy of sentinel carrying cause
func Wrap(sentinel *DomainError, cause error) *DomainError {
	return &DomainError{
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Cause:   cause,
	}
}

// Error codes
const (
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeRemoteUnreachable  = "REMOTE_UNREACHABLE"
	CodeMalformedPayload   = "MALFORMED_PAYLOAD"
	CodeNoDataAvailable    = "NO_DATA_AVAILABLE"
	CodeInvalidBundle      = "INVALID_BUNDLE"
	CodeUnknownDataset     = "UNKNOWN_DATASET"
)

// Data layer errors
var (
	ErrStorageUnavailable = NewDomainError(CodeStorageUnavailable, "local store unavailable")
	ErrRemoteUnreachable  = NewDomainError(CodeRemoteUnreachable, "remote backend unreachable")
	ErrMalformedPayload   = NewDomainError(CodeMalformedPayload, "malformed remote payload")
	ErrNoDataAvailable    = NewDomainError(CodeNoDataAvailable, "no data available in any tier")
	ErrInvalidBundle      = NewDomainError(CodeInvalidBundle, "invalid university data bundle")
	ErrUnknownDataset     = NewDomainError(CodeUnknownDataset, "unknown dataset key")
)
