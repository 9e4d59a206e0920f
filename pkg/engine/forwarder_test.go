package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-edge/internal/governance"
	"github.com/polisai/polis-edge/pkg/domain"
)

func TestForwarder_RelaysRequest(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte{0x00, 0xff, 0x10})
	}))
	defer upstream.Close()

	f := NewForwarder(ForwarderConfig{})
	resp, err := f.Forward(context.Background(), upstream.URL+"/v1/items?fixed=1", domain.InboundRequest{
		Path:   "/api/v1/items",
		Method: http.MethodPost,
		Headers: http.Header{
			"Content-Type": {"application/json"},
			"Connection":   {"keep-alive, X-Drop-Me"},
			"X-Drop-Me":    {"1"},
			"Keep-Alive":   {"timeout=5"},
			"Host":         {"edge.example"},
		},
		Body:          []byte(`{"a":1}`),
		ClientAddress: "203.0.113.7",
		RawQuery:      "q=go",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, resp.Body)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v1/items", got.URL.Path)
	assert.Equal(t, "fixed=1&q=go", got.URL.RawQuery)
	assert.Equal(t, upstream.Listener.Addr().String(), got.Host)
	assert.Equal(t, "203.0.113.7", got.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Empty(t, got.Header.Get("X-Drop-Me"))
	assert.Empty(t, got.Header.Get("Keep-Alive"))
	assert.Equal(t, `{"a":1}`, string(gotBody))
}

func TestOutboundHeaders_ForwardedFor(t *testing.T) {
	tests := []struct {
		name    string
		client  string
		inbound string
		want    []string
	}{
		{name: "client address wins", client: "10.0.0.1", inbound: "198.51.100.1", want: []string{"10.0.0.1"}},
		{name: "inbound passthrough", inbound: "198.51.100.1", want: []string{"198.51.100.1"}},
		{name: "omitted when unknown", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.inbound != "" {
				headers.Set("X-Forwarded-For", tt.inbound)
			}
			out := outboundHeaders(domain.InboundRequest{Headers: headers, ClientAddress: tt.client})
			assert.Equal(t, tt.want, out.Values("X-Forwarded-For"))
		})
	}
}

func TestForwarder_NonSuccessIsReturned(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "secret topology detail", http.StatusBadGateway)
	}))
	defer upstream.Close()

	resp, err := NewForwarder(ForwarderConfig{}).Forward(context.Background(), upstream.URL, domain.InboundRequest{Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestForwarder_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	f := NewForwarder(ForwarderConfig{Timeouts: governance.TimeoutConfig{UpstreamTimeout: 50 * time.Millisecond}})

	start := time.Now()
	_, err := f.Forward(context.Background(), upstream.URL, domain.InboundRequest{Method: http.MethodGet})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
	assert.Equal(t, domain.CodeUpstreamTimeout, domain.ErrorCode(err))
}

func TestForwarder_IgnoresCallerCancellation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := NewForwarder(ForwarderConfig{}).Forward(ctx, upstream.URL, domain.InboundRequest{Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, "late", string(resp.Body))
}

func TestForwarder_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewForwarder(ForwarderConfig{}).Forward(context.Background(), "http://"+addr+"/x", domain.InboundRequest{Method: http.MethodGet})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamFailure))
	assert.Equal(t, domain.CodeUpstreamFailure, domain.ErrorCode(err))
}

func TestForwarder_InvalidTarget(t *testing.T) {
	_, err := NewForwarder(ForwarderConfig{}).Forward(context.Background(), "not a url", domain.InboundRequest{})
	require.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

func TestIsHopByHopHeader(t *testing.T) {
	for _, h := range []string{"connection", "Keep-Alive", "TRANSFER-ENCODING", "upgrade", "Te", "Trailer"} {
		assert.True(t, isHopByHopHeader(h), h)
	}
	for _, h := range []string{"Content-Type", "Cache-Control", "X-Forwarded-For"} {
		assert.False(t, isHopByHopHeader(h), h)
	}
}
