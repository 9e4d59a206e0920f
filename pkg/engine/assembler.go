package engine

import (
	"encoding/base64"
	"net/http"
	"net/textproto"
	"slices"
	"strings"

	"github.com/polisai/polis-edge/pkg/domain"
)

// Messages rendered in synthetic responses.
const (
	MessageNotFound            = "Not Found"
	MessageInternalServerError = "Internal Server Error"
	MessagePayloadTooLarge     = "Payload Too Large"
	MessageBadRequest          = "Bad Request"
)

// Assembler builds the final responses. Its header layers are computed once from the
// policies and never mutated, so every response receives a freshly merged map.
type Assembler struct {
	security http.Header
	cors     http.Header
	cache    http.Header
}

// NewAssembler compiles the header layers of security and performance.
func NewAssembler(security domain.SecurityPolicy, performance domain.PerformancePolicy) *Assembler {
	a := &Assembler{
		security: http.Header{},
		cors:     http.Header{},
		cache:    http.Header{},
	}
	for name, value := range security.Headers {
		a.security.Set(name, value)
	}

	cors := security.CORS
	if cors.AllowOrigin != "" {
		a.cors.Set("Access-Control-Allow-Origin", cors.AllowOrigin)
	}
	if len(cors.AllowMethods) > 0 {
		a.cors.Set("Access-Control-Allow-Methods", strings.Join(cors.AllowMethods, ", "))
	}
	if len(cors.AllowHeaders) > 0 {
		a.cors.Set("Access-Control-Allow-Headers", strings.Join(cors.AllowHeaders, ", "))
	}

	if performance.CacheControl != "" {
		a.cache.Set("Cache-Control", performance.CacheControl)
	}
	return a
}

// MergeHeaders overlays layers in order into a new map. A later layer replaces every
// value an earlier layer holds for the same case-insensitive key.
func MergeHeaders(layers ...http.Header) http.Header {
	merged := http.Header{}
	for _, layer := range layers {
		for key, values := range layer {
			merged[textproto.CanonicalMIMEHeaderKey(key)] = slices.Clone(values)
		}
	}
	return merged
}

// SecurityHeaders returns a copy of the security header layer.
func (a *Assembler) SecurityHeaders() http.Header {
	return a.security.Clone()
}

// Forwarded relays a successful upstream response: upstream headers, then security
// headers, then CORS, then Cache-Control. The body is always base64 encoded.
func (a *Assembler) Forwarded(up UpstreamResponse) domain.OutboundResponse {
	upstream := http.Header{}
	copyHeaders(upstream, up.Header)

	return domain.OutboundResponse{
		StatusCode:          up.StatusCode,
		Headers:             MergeHeaders(upstream, a.security, a.cors, a.cache),
		Body:                []byte(base64.StdEncoding.EncodeToString(up.Body)),
		BodyIsBinaryEncoded: true,
	}
}

// Plain renders a synthetic plain-text response carrying the security headers.
func (a *Assembler) Plain(status int, message string) domain.OutboundResponse {
	return domain.OutboundResponse{
		StatusCode: status,
		Headers:    MergeHeaders(http.Header{"Content-Type": {"text/plain"}}, a.security),
		Body:       []byte(message),
	}
}

// Landing renders the landing document for the root path.
func (a *Assembler) Landing(document []byte) domain.OutboundResponse {
	return domain.OutboundResponse{
		StatusCode: http.StatusOK,
		Headers:    MergeHeaders(http.Header{"Content-Type": {"text/html"}}, a.security),
		Body:       slices.Clone(document),
	}
}

// UpstreamError hides an upstream failure behind the generic message. A status below
// 100 means no response was received and becomes 500.
func (a *Assembler) UpstreamError(status int) domain.OutboundResponse {
	if status < 100 || status > 999 {
		status = http.StatusInternalServerError
	}
	return a.Plain(status, MessageInternalServerError)
}
