// Package policy implements the access gates evaluated before a request is routed:
// the blocked-extension gate and referer-based hotlink protection.
//
// Referer patterns are compiled once into a closed set of matchers (Any,
// WildcardSubdomain, LocalHost, ExactHost), each a pure predicate over the parsed
// Referer URL. Hotlink protection inspects only the client-supplied Referer header. It
// deters casual embedding of proxied resources and is not an access control: a client
// that omits or forges the header passes or fails it at will.
package policy
