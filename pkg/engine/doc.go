// Package engine implements the request path of the edge proxy.
//
// Architecture:
//
// proxy.go        - Proxy state machine (root page, access guard, path matcher, upstream)
// forwarder.go    - Upstream HTTP client with timeout and header rewriting
// assembler.go    - Ordered header merge and final response rendering
// http_handler.go - net/http data-plane adapter
// event.go        - Serverless event adapter
//
// The Proxy holds only immutable state built from a domain.ProxyConfig and is safe for
// concurrent use. Every response it produces, including rejections and failures,
// carries the configured security headers.
package engine
