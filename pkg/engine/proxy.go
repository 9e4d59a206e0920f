package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-edge/internal/governance"
	"github.com/polisai/polis-edge/pkg/domain"
	"github.com/polisai/polis-edge/pkg/policy"
	"github.com/polisai/polis-edge/pkg/routing"
	"github.com/polisai/polis-edge/pkg/storage"
	"github.com/polisai/polis-edge/pkg/telemetry"
)

// HeaderRequestID carries the request identifier in and out of the proxy.
const HeaderRequestID = "X-Request-Id"

type requestIDContextKey struct{}

// WithRequestID stores id in ctx for Proxy.Handle to pick up.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext extracts the request ID from ctx.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}

// Options configures a Proxy. Every field is optional.
type Options struct {
	// Upstream defaults to a Forwarder built from Client and Timeouts.
	Upstream Upstream
	Client   *http.Client
	Timeouts governance.TimeoutConfig
	// Landing defaults to the embedded document.
	Landing storage.LandingPage
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Decision is the routing verdict for a request, reached without contacting upstream.
type Decision struct {
	Outcome domain.Outcome
	// Err is set for rejections and for not-found.
	Err error
	// Match is set when Outcome is domain.OutcomeRouted.
	Match routing.Match
}

// Proxy drives a request through the root page check, the access guard, the path
// matcher and the upstream call. It holds only immutable state.
type Proxy struct {
	matcher   *routing.Matcher
	guard     *policy.Guard
	assembler *Assembler
	upstream  Upstream
	landing   storage.LandingPage
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NewProxy builds a proxy over its own copy of cfg.
func NewProxy(cfg domain.ProxyConfig, opts Options) *Proxy {
	cfg = cfg.Clone()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upstream := opts.Upstream
	if upstream == nil {
		upstream = NewForwarder(ForwarderConfig{
			Client:   opts.Client,
			Timeouts: opts.Timeouts,
			Logger:   logger,
			Metrics:  opts.Metrics,
		})
	}

	landing := opts.Landing
	if landing == nil {
		landing = storage.Embedded()
	}

	opts.Metrics.SetRulesLoaded(len(cfg.Rules))

	return &Proxy{
		matcher:   routing.NewMatcher(cfg.Rules),
		guard:     policy.NewGuard(cfg.Security, logger),
		assembler: NewAssembler(cfg.Security, cfg.Performance),
		upstream:  upstream,
		landing:   landing,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// Assembler returns the response assembler, for hosting boundaries that render their
// own synthetic responses.
func (p *Proxy) Assembler() *Assembler {
	return p.assembler
}

// Decide evaluates the root page check, then the access guard, then the path matcher.
func (p *Proxy) Decide(req domain.InboundRequest) Decision {
	if req.Path == "/" {
		return Decision{Outcome: domain.OutcomeRootPage}
	}

	if err := p.guard.Check(req); err != nil {
		outcome := domain.OutcomeBlockedExtension
		if domain.ErrorCode(err) == domain.CodeHotlinkForbidden {
			outcome = domain.OutcomeBlockedHotlink
		}
		return Decision{Outcome: outcome, Err: err}
	}

	match, ok := p.matcher.Resolve(req.Path)
	if !ok {
		return Decision{
			Outcome: domain.OutcomeNotFound,
			Err: &domain.DomainError{
				Err:     domain.ErrRouteNotFound,
				Code:    domain.CodeRouteNotFound,
				Message: MessageNotFound,
			},
		}
	}
	return Decision{Outcome: domain.OutcomeRouted, Match: match}
}

// Handle produces the response for req. It never fails: every error becomes a
// response carrying the security headers.
func (p *Proxy) Handle(ctx context.Context, req domain.InboundRequest) domain.OutboundResponse {
	start := time.Now()

	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, span := telemetry.StartRequestSpan(ctx, req.Method, req.Path)
	defer span.End()

	logger := p.logger.With(
		"request_id", requestID,
		"method", req.Method,
		"path", req.Path,
	)

	decision := p.Decide(req)
	outcome := decision.Outcome

	var resp domain.OutboundResponse
	switch outcome {
	case domain.OutcomeRootPage:
		resp = p.assembler.Landing(p.landing.Document())

	case domain.OutcomeBlockedExtension, domain.OutcomeBlockedHotlink:
		code := domain.ErrorCode(decision.Err)
		telemetry.RecordSecurityEvent(span, code)
		logger.InfoContext(ctx, "request rejected by access guard", "code", code)
		resp = p.assembler.Plain(http.StatusForbidden, rejectionMessage(decision.Err))

	case domain.OutcomeNotFound:
		logger.DebugContext(ctx, "no rule matches path")
		resp = p.assembler.Plain(http.StatusNotFound, MessageNotFound)

	default:
		resp, outcome = p.forward(ctx, logger, span, decision.Match, req)
	}

	resp.Headers.Set(HeaderRequestID, requestID)

	duration := time.Since(start)
	telemetry.RecordOutcome(span, outcome, resp.StatusCode)
	p.metrics.RecordRequest(outcome, resp.StatusCode, duration)

	logger.InfoContext(ctx, "request handled",
		"outcome", string(outcome),
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)
	return resp
}

func (p *Proxy) forward(ctx context.Context, logger *slog.Logger, span trace.Span, match routing.Match, req domain.InboundRequest) (domain.OutboundResponse, domain.Outcome) {
	host := ""
	if u, err := url.Parse(match.Target); err == nil {
		host = u.Host
	}
	telemetry.RecordRoute(span, match.Index, match.Rule.Source, host)

	up, err := p.upstream.Forward(ctx, match.Target, req)
	if err != nil {
		logger.ErrorContext(ctx, "upstream request failed",
			"rule", match.Index,
			"upstream", host,
			"code", domain.ErrorCode(err),
			"error", err,
		)
		return p.assembler.UpstreamError(http.StatusInternalServerError), domain.OutcomeForwardFailed
	}

	if up.StatusCode < 200 || up.StatusCode > 299 {
		logger.WarnContext(ctx, "upstream returned non-success status",
			"rule", match.Index,
			"upstream", host,
			"upstream_status", up.StatusCode,
		)
		return p.assembler.UpstreamError(up.StatusCode), domain.OutcomeForwardFailed
	}

	return p.assembler.Forwarded(up), domain.OutcomeForwarded
}

func rejectionMessage(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return policy.MessageForbidden
}
