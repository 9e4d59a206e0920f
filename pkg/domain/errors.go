package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrPolicyRejected  = errors.New("request rejected by access policy")
	ErrRouteNotFound   = errors.New("no rule matches request path")
	ErrUpstreamFailure = errors.New("upstream request failed")
	ErrConfigInvalid   = errors.New("invalid configuration")
)

// Error codes carried by DomainError.
const (
	CodeBlockedExtension = "BLOCKED_EXTENSION"
	CodeHotlinkForbidden = "HOTLINK_FORBIDDEN"
	CodeRouteNotFound    = "ROUTE_NOT_FOUND"
	CodeUpstreamFailure  = "UPSTREAM_FAILURE"
	CodeUpstreamTimeout  = "UPSTREAM_TIMEOUT"
	CodeConfigInvalid    = "CONFIG_INVALID"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewPolicyRejection builds the error returned by an access gate.
func NewPolicyRejection(code, message string) *DomainError {
	return &DomainError{Err: ErrPolicyRejected, Code: code, Message: message}
}

// NewUpstreamFailure wraps a transport-level failure. The message names the target and
// the cause; it is meant for logs and is never rendered to callers.
func NewUpstreamFailure(code, target string, cause error) *DomainError {
	msg := "upstream request to " + target + " failed"
	err := ErrUpstreamFailure
	if cause != nil {
		msg += ": " + cause.Error()
		err = fmt.Errorf("%w: %w", ErrUpstreamFailure, cause)
	}
	return &DomainError{
		Err:     err,
		Code:    code,
		Message: msg,
		Details: map[string]any{"target": target},
	}
}

// ErrorCode extracts the DomainError code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
