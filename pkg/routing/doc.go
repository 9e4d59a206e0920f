// Package routing resolves inbound request paths against the ordered rule set.
//
// Rules are evaluated in declared order and the first match wins. Wildcard rules
// ("/api/*") match by prefix; literal rules match only when designated path-rooted.
// The unmatched remainder of the path is substituted into the destination template.
package routing
