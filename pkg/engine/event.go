package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/polisai/polis-edge/pkg/domain"
)

// Event is the request shape delivered by serverless function hosts.
type Event struct {
	Path              string              `json:"path"`
	HTTPMethod        string              `json:"httpMethod"`
	Headers           map[string]string   `json:"headers,omitempty"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	QueryString       string              `json:"queryString,omitempty"`
	Body              string              `json:"body,omitempty"`
	IsBase64Encoded   bool                `json:"isBase64Encoded"`
	ClientIP          string              `json:"clientIP,omitempty"`
	RequestContext    EventRequestContext `json:"requestContext"`
}

// EventRequestContext carries host-provided request metadata.
type EventRequestContext struct {
	SourceIP string `json:"sourceIp,omitempty"`
}

// EventResponse is the response shape returned to serverless function hosts. Headers
// with several values, such as Set-Cookie, go in MultiValueHeaders only.
type EventResponse struct {
	StatusCode        int                 `json:"statusCode"`
	Headers           map[string]string   `json:"headers"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	Body              string              `json:"body"`
	IsBase64Encoded   bool                `json:"isBase64Encoded"`
}

// DecodeEvent reads one JSON event from r.
func DecodeEvent(r io.Reader) (Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// ToInbound converts the event into an InboundRequest. The client address prefers
// ClientIP over the request context source IP.
func (e Event) ToInbound() (domain.InboundRequest, error) {
	headers := http.Header{}
	for name, values := range e.MultiValueHeaders {
		for _, v := range values {
			headers.Add(name, v)
		}
	}
	for name, value := range e.Headers {
		headers.Set(name, value)
	}

	var body []byte
	if e.Body != "" {
		if e.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(e.Body)
			if err != nil {
				return domain.InboundRequest{}, fmt.Errorf("decode event body: %w", err)
			}
			body = decoded
		} else {
			body = []byte(e.Body)
		}
	}

	// Hosts deliver the decoded path.
	path := (&url.URL{Path: e.Path}).EscapedPath()
	if path == "" {
		path = "/"
	}
	method := e.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	client := e.ClientIP
	if client == "" {
		client = e.RequestContext.SourceIP
	}

	return domain.InboundRequest{
		Path:          path,
		Method:        strings.ToUpper(method),
		Headers:       headers,
		Body:          body,
		ClientAddress: client,
		RawQuery:      strings.TrimPrefix(e.QueryString, "?"),
	}, nil
}

// NewEventResponse converts resp for the serverless host.
func NewEventResponse(resp domain.OutboundResponse) EventResponse {
	out := EventResponse{
		StatusCode:      resp.StatusCode,
		Headers:         make(map[string]string, len(resp.Headers)),
		Body:            string(resp.Body),
		IsBase64Encoded: resp.BodyIsBinaryEncoded,
	}
	for name, values := range resp.Headers {
		switch len(values) {
		case 0:
		case 1:
			out.Headers[name] = values[0]
		default:
			if out.MultiValueHeaders == nil {
				out.MultiValueHeaders = map[string][]string{}
			}
			out.MultiValueHeaders[name] = append([]string(nil), values...)
		}
	}
	return out
}

// HandleEvent runs one serverless event through the proxy. A malformed event body is
// answered with 400.
func (p *Proxy) HandleEvent(ctx context.Context, ev Event) EventResponse {
	req, err := ev.ToInbound()
	if err != nil {
		p.logger.WarnContext(ctx, "rejected malformed event", "path", ev.Path, "error", err)
		return NewEventResponse(p.assembler.Plain(http.StatusBadRequest, MessageBadRequest))
	}
	return NewEventResponse(p.Handle(ctx, req))
}
