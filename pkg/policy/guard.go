package policy

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/polisai/polis-edge/pkg/domain"
)

// Rejection messages rendered to callers.
const (
	MessageForbidden        = "Forbidden"
	MessageHotlinkForbidden = "Hotlinking Forbidden"
)

// Guard evaluates the blocked-extension and hotlink gates. It is built once from the
// security policy and is safe for concurrent use.
type Guard struct {
	extensions     []string
	hotlink        bool
	refererMatches []RefererMatcher
	logger         *slog.Logger
}

// NewGuard compiles the gates of policy.
func NewGuard(policy domain.SecurityPolicy, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		hotlink: policy.HotlinkProtection.Enabled,
		logger:  logger,
	}
	for _, ext := range policy.BlockedExtensions {
		if ext = strings.ToLower(strings.TrimSpace(ext)); ext != "" {
			g.extensions = append(g.extensions, ext)
		}
	}
	for _, pattern := range policy.HotlinkProtection.AllowedReferers {
		g.refererMatches = append(g.refererMatches, ParseRefererPattern(pattern))
	}
	return g
}

// Check runs both gates in order. It returns nil when the request may be routed, or a
// *domain.DomainError wrapping domain.ErrPolicyRejected.
func (g *Guard) Check(req domain.InboundRequest) error {
	if ext, blocked := g.BlockedExtension(req.Path); blocked {
		g.logger.Debug("access guard: blocked extension",
			"path", req.Path,
			"extension", ext,
		)
		return domain.NewPolicyRejection(domain.CodeBlockedExtension, MessageForbidden)
	}

	if g.hotlink && !g.RefererAllowed(req.Header("Referer")) {
		g.logger.Debug("access guard: hotlink rejected",
			"path", req.Path,
			"referer", req.Header("Referer"),
		)
		return domain.NewPolicyRejection(domain.CodeHotlinkForbidden, MessageHotlinkForbidden)
	}

	return nil
}

// BlockedExtension reports the first blocked suffix path ends with, case-insensitively.
// path is in escaped form. The escaped form, the decoded form and the decoded form cut
// at its first '?' or '#' are all checked, so an encoded delimiter cannot hide a suffix.
func (g *Guard) BlockedExtension(path string) (string, bool) {
	for _, form := range pathForms(path) {
		lower := strings.ToLower(form)
		for _, ext := range g.extensions {
			if strings.HasSuffix(lower, ext) {
				return ext, true
			}
		}
	}
	return "", false
}

func pathForms(path string) []string {
	forms := []string{path, cutDelimiters(path)}
	if decoded, err := url.PathUnescape(path); err == nil && decoded != path {
		forms = append(forms, decoded, cutDelimiters(decoded))
	}
	return forms
}

func cutDelimiters(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		return path[:i]
	}
	return path
}

// RefererAllowed evaluates the allowed-referer patterns in order and stops at the first
// acceptance. An empty referer is accepted only by "*".
func (g *Guard) RefererAllowed(referer string) bool {
	u := ParseReferer(referer)
	for _, m := range g.refererMatches {
		if m.Accepts(u) {
			return true
		}
	}
	return false
}

// Matchers returns the compiled referer matchers in evaluation order.
func (g *Guard) Matchers() []RefererMatcher {
	return append([]RefererMatcher(nil), g.refererMatches...)
}
