package routing

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-edge/pkg/domain"
)

func TestMatcher_WildcardSubstitutesRemainder(t *testing.T) {
	m := NewMatcher(domain.RuleSet{{Source: "/api/*", Destination: "https://up.test/$1"}})

	match, ok := m.Resolve("/api/foo/bar")
	require.True(t, ok)
	assert.Equal(t, "https://up.test/foo/bar", match.Target)
	assert.Equal(t, "foo/bar", match.Remainder)
	assert.Equal(t, 0, match.Index)
}

func TestMatcher_WildcardEmptyRemainderStaysEmpty(t *testing.T) {
	m := NewMatcher(domain.RuleSet{
		{Source: "/api/*", Destination: "https://up.test/$1"},
		{Source: "/v1*", Destination: "https://v1.test/base$1"},
	})

	match, ok := m.Resolve("/api/")
	require.True(t, ok)
	assert.Equal(t, "https://up.test/", match.Target)
	assert.Equal(t, "", match.Remainder)

	match, ok = m.Resolve("/v1")
	require.True(t, ok)
	assert.Equal(t, "https://v1.test/base", match.Target)
}

func TestMatcher_PathRootedLiteral(t *testing.T) {
	m := NewMatcher(domain.RuleSet{{Source: "/gemini", Destination: "https://g.test$1", PathRooted: true}})

	tests := []struct {
		path   string
		target string
		ok     bool
	}{
		{path: "/gemini", target: "https://g.test/", ok: true},
		{path: "/gemini/", target: "https://g.test/", ok: true},
		{path: "/gemini/v1/models", target: "https://g.test/v1/models", ok: true},
		{path: "/geminix", ok: false},
		{path: "/other", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			match, ok := m.Resolve(tt.path)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.target, match.Target)
			}
		})
	}
}

func TestMatcher_LiteralWithoutDesignationNeverMatches(t *testing.T) {
	rules := domain.RuleSet{{Source: "/exact", Destination: "https://e.test$1"}}
	m := NewMatcher(rules)

	_, ok := m.Resolve("/exact")
	assert.False(t, ok)
	assert.Equal(t, []int{0}, Inert(rules))
}

func TestMatcher_FirstDeclaredRuleWins(t *testing.T) {
	m := NewMatcher(domain.RuleSet{
		{Source: "/api/*", Destination: "https://first.test/$1"},
		{Source: "/api/v2/*", Destination: "https://second.test/$1"},
	})

	match, ok := m.Resolve("/api/v2/users")
	require.True(t, ok)
	assert.Equal(t, 0, match.Index)
	assert.Equal(t, "https://first.test/v2/users", match.Target)
}

func TestMatcher_NoMatch(t *testing.T) {
	m := NewMatcher(domain.RuleSet{{Source: "/api/*", Destination: "https://up.test/$1"}})

	_, ok := m.Resolve("/static/logo.png")
	assert.False(t, ok)

	_, ok = NewMatcher(nil).Resolve("/anything")
	assert.False(t, ok)
}

func TestMatcher_CopiesRules(t *testing.T) {
	rules := domain.RuleSet{{Source: "/api/*", Destination: "https://up.test/$1"}}
	m := NewMatcher(rules)
	rules[0].Destination = "https://mutated.test/$1"

	match, ok := m.Resolve("/api/x")
	require.True(t, ok)
	assert.Equal(t, "https://up.test/x", match.Target)
}

func TestExpand(t *testing.T) {
	assert.Equal(t, "https://a.test/x", Expand("https://a.test/$1", "x"))
	assert.Equal(t, "https://a.test/static", Expand("https://a.test/static", "x"))
	assert.Equal(t, "https://a.test/x/$1", Expand("https://a.test/$1/$1", "x"))
	assert.Equal(t, "https://a.test/a%3Fb", Expand("https://a.test/$1", "a%3Fb"))
	assert.Equal(t, "https://a.test/a%3Fb%23c", Expand("https://a.test/$1", "a?b#c"))
}

func TestMatcher_EscapedRemainderStaysInPath(t *testing.T) {
	m := NewMatcher(domain.RuleSet{{Source: "/api/*", Destination: "https://up.test/$1"}})

	for _, path := range []string{"/api/a%3Fb", "/api/a%23frag", "/api/a?b"} {
		match, ok := m.Resolve(path)
		require.True(t, ok, path)

		u, err := url.Parse(match.Target)
		require.NoError(t, err)
		assert.Empty(t, u.RawQuery, path)
		assert.Empty(t, u.Fragment, path)
		assert.Equal(t, "up.test", u.Host)
	}
}

// Property: every path under a wildcard prefix resolves to the destination with the
// remainder appended verbatim.
func TestMatcherWildcardProperties(t *testing.T) {
	m := NewMatcher(domain.RuleSet{{Source: "/api/*", Destination: "https://up.test/$1"}})

	rapid.Check(t, func(t *rapid.T) {
		rest := rapid.StringMatching(`^[a-z0-9/._-]{0,40}$`).Draw(t, "rest")

		match, ok := m.Resolve("/api/" + rest)
		if !ok {
			t.Fatalf("expected match for /api/%s", rest)
		}
		if match.Target != "https://up.test/"+rest {
			t.Fatalf("unexpected target %q for rest %q", match.Target, rest)
		}
	})
}

// Property: paths outside every declared prefix never match.
func TestMatcherNoMatchProperties(t *testing.T) {
	m := NewMatcher(domain.RuleSet{
		{Source: "/api/*", Destination: "https://up.test/$1"},
		{Source: "/gemini", Destination: "https://g.test$1", PathRooted: true},
	})

	rapid.Check(t, func(t *rapid.T) {
		path := "/" + rapid.StringMatching(`^[a-z0-9/._-]{0,40}$`).Draw(t, "path")
		if strings.HasPrefix(path, "/api/") || path == "/gemini" || strings.HasPrefix(path, "/gemini/") {
			t.Skip("path is covered by a rule")
		}

		if _, ok := m.Resolve(path); ok {
			t.Fatalf("unexpected match for %q", path)
		}
	})
}

// Property: with two rules able to match the same path, only the first is reached.
func TestMatcherOrderProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := "/" + rapid.StringMatching(`^[a-z]{1,8}$`).Draw(t, "prefix") + "/"
		rest := rapid.StringMatching(`^[a-z0-9/]{0,20}$`).Draw(t, "rest")

		m := NewMatcher(domain.RuleSet{
			{Source: prefix + "*", Destination: "https://first.test/$1"},
			{Source: prefix + "*", Destination: "https://second.test/$1"},
		})

		match, ok := m.Resolve(prefix + rest)
		if !ok || match.Index != 0 || !strings.HasPrefix(match.Target, "https://first.test/") {
			t.Fatalf("expected first rule, got %+v (ok=%v)", match, ok)
		}
	})
}
