package domain

import (
	"maps"
	"slices"
	"strings"
)

// Rule markers.
const (
	// WildcardMarker terminates a prefix source pattern, e.g. "/api/*".
	WildcardMarker = "*"
	// RemainderPlaceholder is replaced in a destination by the unmatched rest of the path.
	RemainderPlaceholder = "$1"
)

// Rule maps an inbound path pattern to an upstream destination template.
type Rule struct {
	Source      string
	Destination string
	// PathRooted designates a literal source that also matches every path below it
	// ("/gemini" matches "/gemini" and "/gemini/..."). An empty remainder then becomes "/".
	PathRooted bool
}

// IsWildcard reports whether the rule source is a prefix pattern.
func (r Rule) IsWildcard() bool {
	return strings.HasSuffix(r.Source, WildcardMarker)
}

// Prefix returns the source without its wildcard marker.
func (r Rule) Prefix() string {
	return strings.TrimSuffix(r.Source, WildcardMarker)
}

// RuleSet is the ordered list of routing rules. Order is part of the contract: the
// first matching rule wins.
type RuleSet []Rule

// HotlinkPolicy restricts requests by their Referer header.
type HotlinkPolicy struct {
	Enabled         bool
	AllowedReferers []string
}

// CORSPolicy holds the CORS response headers applied to forwarded responses.
type CORSPolicy struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
}

// SecurityPolicy describes response headers and request gates applied to every request.
type SecurityPolicy struct {
	Headers           map[string]string
	BlockedExtensions []string
	HotlinkProtection HotlinkPolicy
	CORS              CORSPolicy
}

// PerformancePolicy holds the caching directives applied to forwarded responses.
// ContentEncoding is carried for the platform emitters that consume the same rule set.
type PerformancePolicy struct {
	CacheControl    string
	ContentEncoding []string
}

// ProxyConfig is the canonical rule set: routing rules plus security and performance
// policy. It is loaded once at startup and never mutated afterwards.
type ProxyConfig struct {
	Rules       RuleSet
	Security    SecurityPolicy
	Performance PerformancePolicy
}

// Clone returns a deep copy so the holder cannot observe later mutations of the source.
func (c ProxyConfig) Clone() ProxyConfig {
	return ProxyConfig{
		Rules: slices.Clone(c.Rules),
		Security: SecurityPolicy{
			Headers:           maps.Clone(c.Security.Headers),
			BlockedExtensions: slices.Clone(c.Security.BlockedExtensions),
			HotlinkProtection: HotlinkPolicy{
				Enabled:         c.Security.HotlinkProtection.Enabled,
				AllowedReferers: slices.Clone(c.Security.HotlinkProtection.AllowedReferers),
			},
			CORS: CORSPolicy{
				AllowOrigin:  c.Security.CORS.AllowOrigin,
				AllowMethods: slices.Clone(c.Security.CORS.AllowMethods),
				AllowHeaders: slices.Clone(c.Security.CORS.AllowHeaders),
			},
		},
		Performance: PerformancePolicy{
			CacheControl:    c.Performance.CacheControl,
			ContentEncoding: slices.Clone(c.Performance.ContentEncoding),
		},
	}
}
