package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound signals a missing ledger record.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAuthRequired signals a missing or invalid credential.
	ErrAuthRequired = errors.New("authorization required")
	// ErrInvalidRequest signals a malformed chat request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownProvider signals an unsupported provider tag.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUpstreamUnavailable signals a transport-level failure reaching the vendor.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// UpstreamError carries a non-success response from an upstream vendor.
// The status code and message are relayed to the caller as-is.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
}

// NewUpstreamError creates an upstream rejection error.
func NewUpstreamError(status int, message string) error {
	return &UpstreamError{StatusCode: status, Message: message}
}
