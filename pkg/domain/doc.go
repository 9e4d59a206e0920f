// Package domain defines the core types of the edge proxy: the canonical rule set,
// the security and performance policies, and the request/response values that flow
// through a single request's handling.
//
// This package has ZERO dependencies outside the Go standard library. Its types are:
//
// - Independent of the hosting boundary (net/http server, serverless event, CLI)
// - Immutable once constructed for the lifetime of the process or the request
// - Testable in isolation without mocks
//
// Other packages (config, routing, policy, engine) consume these types. The
// dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
