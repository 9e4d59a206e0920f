package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-edge/internal/governance"
	"github.com/polisai/polis-edge/pkg/domain"
	"github.com/polisai/polis-edge/pkg/telemetry"
)

// HeaderForwardedFor carries the originating client address to the upstream.
const HeaderForwardedFor = "X-Forwarded-For"

// UpstreamResponse is the raw result of an upstream exchange. Body is never decoded.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Upstream performs the call to a resolved target.
type Upstream interface {
	Forward(ctx context.Context, target string, req domain.InboundRequest) (UpstreamResponse, error)
}

// ForwarderConfig holds configuration for creating a Forwarder.
type ForwarderConfig struct {
	// Client defaults to NewUpstreamClient().
	Client   *http.Client
	Timeouts governance.TimeoutConfig
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// Forwarder relays requests to upstream targets over HTTP(S). It is safe for
// concurrent use.
type Forwarder struct {
	client   *http.Client
	timeouts *governance.TimeoutManager
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewUpstreamClient returns the shared upstream client. Responses are never
// transparently decompressed so bodies are relayed byte for byte.
func NewUpstreamClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	transport.MaxIdleConnsPerHost = 32

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}
}

// NewForwarder constructs a Forwarder with the upstream timeout applied to every call.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = NewUpstreamClient()
	}

	return &Forwarder{
		client:   client,
		timeouts: governance.NewTimeoutManager(cfg.Timeouts),
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Timeout returns the effective upstream timeout.
func (f *Forwarder) Timeout() time.Duration {
	return f.timeouts.Config().UpstreamTimeout
}

// Forward calls target with the method, headers and body of req. The timeout covers
// connecting, awaiting headers and reading the body; cancellation of ctx is not
// propagated. Any HTTP response, whatever its status, is returned as is. Transport
// failures are returned as a *domain.DomainError wrapping domain.ErrUpstreamFailure.
func (f *Forwarder) Forward(ctx context.Context, target string, req domain.InboundRequest) (UpstreamResponse, error) {
	targetURL, err := url.Parse(target)
	if err != nil || targetURL.Host == "" {
		if err == nil {
			err = fmt.Errorf("target %q has no host", target)
		}
		f.metrics.RecordUpstreamFailure("invalid", governance.FailureTransport)
		return UpstreamResponse{}, domain.NewUpstreamFailure(domain.CodeUpstreamFailure, target, fmt.Errorf("parse target: %w", err))
	}
	if req.RawQuery != "" {
		if targetURL.RawQuery != "" {
			targetURL.RawQuery += "&" + req.RawQuery
		} else {
			targetURL.RawQuery = req.RawQuery
		}
	}

	ctx, cancel := f.timeouts.WithUpstreamTimeout(ctx)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	outReq, err := http.NewRequestWithContext(ctx, method, targetURL.String(), body)
	if err != nil {
		return UpstreamResponse{}, domain.NewUpstreamFailure(domain.CodeUpstreamFailure, target, fmt.Errorf("create upstream request: %w", err))
	}
	outReq.Header = outboundHeaders(req)
	outReq.Host = targetURL.Host

	f.logger.DebugContext(ctx, "forwarding request upstream",
		"method", method,
		"target_url", targetURL.String(),
		"timeout_ms", f.Timeout().Milliseconds(),
	)

	start := time.Now()
	resp, err := f.client.Do(outReq)
	if err != nil {
		return UpstreamResponse{}, f.failure(ctx, targetURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.LogAttrs(ctx, slog.LevelWarn, "failed to close response body", slog.String("error", cerr.Error()))
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return UpstreamResponse{}, f.failure(ctx, targetURL, fmt.Errorf("read upstream body: %w", err))
	}

	f.metrics.RecordUpstream(targetURL.Host, time.Since(start))

	return UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       payload,
	}, nil
}

func (f *Forwarder) failure(ctx context.Context, target *url.URL, err error) error {
	if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", cause, err)
	}

	reason := governance.ClassifyFailure(err)
	f.metrics.RecordUpstreamFailure(target.Host, reason)

	code := domain.CodeUpstreamFailure
	if reason == governance.FailureTimeout {
		code = domain.CodeUpstreamTimeout
	}
	return domain.NewUpstreamFailure(code, target.Redacted(), err)
}

// outboundHeaders clones the inbound headers without hop-by-hop fields and resolves
// X-Forwarded-For: the client address when known, else the inbound value, else absent.
func outboundHeaders(req domain.InboundRequest) http.Header {
	headers := make(http.Header, len(req.Headers))
	copyHeaders(headers, req.Headers)

	headers.Del("Host")
	headers.Del("Content-Length")

	if req.ClientAddress != "" {
		headers.Set(HeaderForwardedFor, req.ClientAddress)
	} else if headers.Get(HeaderForwardedFor) == "" {
		headers.Del(HeaderForwardedFor)
	}
	return headers
}

// copyHeaders copies HTTP headers from src to dst, filtering hop-by-hop headers and the
// fields src names in its Connection header.
func copyHeaders(dst, src http.Header) {
	connectionScoped := map[string]bool{}
	for _, v := range src.Values("Connection") {
		for _, field := range strings.Split(v, ",") {
			if field = strings.TrimSpace(field); field != "" {
				connectionScoped[textproto.CanonicalMIMEHeaderKey(field)] = true
			}
		}
	}

	for key, values := range src {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if isHopByHopHeader(canonical) || connectionScoped[canonical] {
			continue
		}
		for _, value := range values {
			dst.Add(canonical, value)
		}
	}
}

// isHopByHopHeader identifies HTTP hop-by-hop headers that must not be forwarded.
func isHopByHopHeader(header string) bool {
	switch textproto.CanonicalMIMEHeaderKey(header) {
	case "Connection", "Keep-Alive", "Proxy-Connection", "Proxy-Authenticate",
		"Proxy-Authorization", "Te", "Trailer", "Trailers", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}
