package engine

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/polisai/polis-edge/pkg/domain"
)

// DefaultMaxBodyBytes bounds the inbound request body buffered for forwarding.
const DefaultMaxBodyBytes int64 = 10 << 20

// HTTPHandler adapts a Proxy to net/http.
type HTTPHandler struct {
	proxy        *Proxy
	logger       *slog.Logger
	maxBodyBytes int64
}

// HTTPHandlerConfig holds configuration for creating an HTTPHandler.
type HTTPHandlerConfig struct {
	Proxy  *Proxy
	Logger *slog.Logger
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// NewHTTPHandler constructs the data-plane handler.
func NewHTTPHandler(cfg HTTPHandlerConfig) *HTTPHandler {
	if cfg.Proxy == nil {
		panic("engine: proxy is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &HTTPHandler{
		proxy:        cfg.Proxy,
		logger:       logger,
		maxBodyBytes: maxBody,
	}
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Wrap ResponseWriter to prevent superfluous WriteHeader calls
	w = &statusRecorder{ResponseWriter: w}
	ctx := r.Context()

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ctx = WithRequestID(ctx, requestID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		resp := h.proxy.Assembler().Plain(http.StatusBadRequest, MessageBadRequest)
		if errors.As(err, &tooLarge) {
			resp = h.proxy.Assembler().Plain(http.StatusRequestEntityTooLarge, MessagePayloadTooLarge)
		}
		h.logger.WarnContext(ctx, "failed to read request body",
			"request_id", requestID,
			"path", r.URL.Path,
			"error", err,
		)
		resp.Headers.Set(HeaderRequestID, requestID)
		h.writeResponse(w, r, resp)
		return
	}

	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	resp := h.proxy.Handle(ctx, inboundRequest(r, path, body))
	h.writeResponse(w, r, resp)
}

func (h *HTTPHandler) writeResponse(w http.ResponseWriter, r *http.Request, resp domain.OutboundResponse) {
	payload := resp.Body
	if resp.BodyIsBinaryEncoded {
		decoded, err := base64.StdEncoding.DecodeString(string(resp.Body))
		if err != nil {
			h.logger.ErrorContext(r.Context(), "failed to decode response body", "error", err)
			resp = h.proxy.Assembler().UpstreamError(http.StatusInternalServerError)
			payload = resp.Body
		} else {
			payload = decoded
		}
	}

	withBody := r.Method != http.MethodHead && bodyAllowedForStatus(resp.StatusCode)

	header := w.Header()
	for key, values := range resp.Headers {
		header[key] = values
	}
	if withBody {
		header.Set("Content-Length", strconv.Itoa(len(payload)))
	} else if !bodyAllowedForStatus(resp.StatusCode) {
		header.Del("Content-Length")
	}

	w.WriteHeader(resp.StatusCode)
	if !withBody {
		return
	}
	if _, err := w.Write(payload); err != nil {
		h.logger.DebugContext(r.Context(), "failed to write response body", "error", err)
	}
}

// bodyAllowedForStatus reports whether status may carry a body (RFC 9110 §6.4.1).
func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func inboundRequest(r *http.Request, path string, body []byte) domain.InboundRequest {
	return domain.InboundRequest{
		Path:          path,
		Method:        r.Method,
		Headers:       r.Header.Clone(),
		Body:          body,
		ClientAddress: clientAddress(r),
		RawQuery:      r.URL.RawQuery,
	}
}

// clientAddress returns the peer IP of r, without port.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.ResponseWriter.WriteHeader(code)
		r.wroteHeader = true
	}
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
