package governance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultUpstreamTimeout bounds a complete upstream exchange: connect, headers and body.
const DefaultUpstreamTimeout = 10 * time.Second

// ErrRequestTimeout is returned when an upstream call exceeds its timeout.
var ErrRequestTimeout = errors.New("request timeout exceeded")

// Failure classes reported by ClassifyFailure.
const (
	FailureTimeout    = "timeout"
	FailureConnection = "connection"
	FailureDNS        = "dns"
	FailureTransport  = "transport"
)

// TimeoutConfig defines timeout behavior for upstream requests.
type TimeoutConfig struct {
	// UpstreamTimeout is the maximum duration of one upstream exchange.
	UpstreamTimeout time.Duration
}

// DefaultTimeoutConfig returns the upstream timeout defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{UpstreamTimeout: DefaultUpstreamTimeout}
}

// TimeoutManager enforces timeout policies on requests.
type TimeoutManager struct {
	config TimeoutConfig
}

// NewTimeoutManager creates a timeout manager with the given configuration.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}
	return &TimeoutManager{config: config}
}

// Config returns a copy of the current timeout configuration.
func (tm *TimeoutManager) Config() TimeoutConfig {
	return tm.config
}

// WithUpstreamTimeout derives the context for one upstream call. Cancellation of the
// parent is not propagated: only the timeout ends the call. Values such as the active
// trace span are kept.
func (tm *TimeoutManager) WithUpstreamTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(context.WithoutCancel(ctx), tm.config.UpstreamTimeout,
		fmt.Errorf("%w after %v", ErrRequestTimeout, tm.config.UpstreamTimeout))
}

// ClassifyFailure maps a transport error to a coarse failure class.
func ClassifyFailure(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRequestTimeout) {
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return FailureConnection
	}

	errStr := err.Error()
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe"} {
		if strings.Contains(errStr, pattern) {
			return FailureConnection
		}
	}

	return FailureTransport
}
