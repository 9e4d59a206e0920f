package policy

import (
	"net"
	"net/url"
	"strings"
)

// RefererMatcher accepts or rejects a parsed Referer URL.
type RefererMatcher interface {
	Accepts(referer *url.URL) bool
	String() string
}

// Any accepts every referer, including an absent one.
type Any struct{}

// Accepts implements RefererMatcher.
func (Any) Accepts(*url.URL) bool { return true }

func (Any) String() string { return "*" }

// WildcardSubdomain accepts http(s) referers whose host is Domain or any subdomain of it.
type WildcardSubdomain struct {
	Domain string
}

// Accepts implements RefererMatcher.
func (m WildcardSubdomain) Accepts(u *url.URL) bool {
	if !webScheme(u) || hasPort(u) {
		return false
	}
	host := strings.ToLower(u.Host)
	domain := strings.ToLower(m.Domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func (m WildcardSubdomain) String() string { return "*." + m.Domain }

// LocalHost accepts http(s) referers from a loopback name, on any port.
type LocalHost struct {
	Host string
}

// Accepts implements RefererMatcher.
func (m LocalHost) Accepts(u *url.URL) bool {
	if !webScheme(u) {
		return false
	}
	return strings.EqualFold(u.Hostname(), m.Host)
}

func (m LocalHost) String() string { return m.Host }

// ExactHost accepts http(s) referers whose host equals Host exactly, without a port.
type ExactHost struct {
	Host string
}

// Accepts implements RefererMatcher.
func (m ExactHost) Accepts(u *url.URL) bool {
	if !webScheme(u) || hasPort(u) {
		return false
	}
	return strings.EqualFold(u.Host, m.Host)
}

func (m ExactHost) String() string { return m.Host }

// ParseRefererPattern compiles one allowed-referer entry into its matcher variant.
func ParseRefererPattern(pattern string) RefererMatcher {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "*":
		return Any{}
	case strings.HasPrefix(pattern, "*."):
		return WildcardSubdomain{Domain: pattern[2:]}
	case pattern == "localhost" || pattern == "127.0.0.1":
		return LocalHost{Host: pattern}
	default:
		return ExactHost{Host: pattern}
	}
}

// ParseReferer parses a raw Referer header value. An empty or unparsable value yields a
// URL no scheme-restricted matcher accepts.
func ParseReferer(raw string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &url.URL{}
	}
	return u
}

// webScheme reports whether u is an http(s) URL with a host, followed by nothing or by
// a path. A query or fragment directly after the host is rejected.
func webScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return false
	}
	return u.Path != "" || (u.RawQuery == "" && !u.ForceQuery && u.Fragment == "")
}

func hasPort(u *url.URL) bool {
	_, port, err := net.SplitHostPort(u.Host)
	return err == nil && port != ""
}
