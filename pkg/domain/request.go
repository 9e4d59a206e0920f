package domain

import "net/http"

// InboundRequest is the hosting-boundary independent view of a received request.
// Headers are canonicalised so lookups through Get are case-insensitive.
type InboundRequest struct {
	// Path is in escaped form, as sent on the wire: "/a%3Fb" names one segment.
	Path          string
	Method        string
	Headers       http.Header
	Body          []byte
	ClientAddress string
	RawQuery      string
}

// Header returns the first value of the named header, or "" when absent.
func (r InboundRequest) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// OutboundResponse is returned to the hosting boundary. When BodyIsBinaryEncoded is
// set, Body holds the base64 representation of the payload.
type OutboundResponse struct {
	StatusCode          int
	Headers             http.Header
	Body                []byte
	BodyIsBinaryEncoded bool
}

// Outcome names the terminal state a request reached.
type Outcome string

// Request outcomes. OutcomeRouted is the only non-terminal state: the request is
// forwarded next.
const (
	OutcomeRouted           Outcome = "routed"
	OutcomeRootPage         Outcome = "root_page"
	OutcomeBlockedExtension Outcome = "blocked_extension"
	OutcomeBlockedHotlink   Outcome = "blocked_hotlink"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeForwarded        Outcome = "forwarded"
	OutcomeForwardFailed    Outcome = "forward_failed"
)
