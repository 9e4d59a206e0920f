package routing

import (
	"strings"

	"github.com/polisai/polis-edge/pkg/domain"
)

// Match describes the rule that resolved a path and the upstream target it produced.
type Match struct {
	// Index is the position of the rule in the declared rule set.
	Index     int
	Rule      domain.Rule
	Remainder string
	Target    string
}

// Matcher resolves paths against an ordered rule set. It is immutable and safe for
// concurrent use.
type Matcher struct {
	rules []domain.Rule
}

// NewMatcher copies rules so later changes to the caller's slice are not observed.
func NewMatcher(rules domain.RuleSet) *Matcher {
	return &Matcher{rules: append([]domain.Rule(nil), rules...)}
}

// Rules returns a copy of the rules in evaluation order.
func (m *Matcher) Rules() []domain.Rule {
	return append([]domain.Rule(nil), m.rules...)
}

// Resolve returns the first rule matching path. The boolean is false when no rule
// matches (NoMatch).
func (m *Matcher) Resolve(path string) (Match, bool) {
	for i, rule := range m.rules {
		remainder, ok := matchRule(rule, path)
		if !ok {
			continue
		}
		return Match{
			Index:     i,
			Rule:      rule,
			Remainder: remainder,
			Target:    Expand(rule.Destination, remainder),
		}, true
	}
	return Match{}, false
}

// matchRule returns the substitution value for the placeholder when rule matches path.
func matchRule(rule domain.Rule, path string) (string, bool) {
	if rule.IsWildcard() {
		prefix := rule.Prefix()
		if !strings.HasPrefix(path, prefix) {
			return "", false
		}
		// Empty remainder stays empty for wildcard rules.
		return path[len(prefix):], true
	}

	if !rule.PathRooted {
		return "", false
	}

	literal := rule.Source
	if path != literal && !strings.HasPrefix(path, literal+"/") {
		return "", false
	}
	rest := path[len(literal):]
	if rest == "" {
		rest = "/"
	}
	return rest, true
}

var delimiterEscaper = strings.NewReplacer("?", "%3F", "#", "%23")

// Expand substitutes remainder for the first placeholder in destination. remainder is
// an escaped path; a literal '?' or '#' in it is escaped so it stays part of the path.
// A destination without a placeholder is returned unchanged.
func Expand(destination, remainder string) string {
	return strings.Replace(destination, domain.RemainderPlaceholder, delimiterEscaper.Replace(remainder), 1)
}

// Inert reports the literal rules that can never match at request time because they are
// not designated path-rooted.
func Inert(rules domain.RuleSet) []int {
	var idx []int
	for i, rule := range rules {
		if !rule.IsWildcard() && !rule.PathRooted {
			idx = append(idx, i)
		}
	}
	return idx
}
