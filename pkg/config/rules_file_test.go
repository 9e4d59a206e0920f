package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-edge/pkg/domain"
)

const rulesJSON = `{
  "rules": [
    {"source": "/api/*", "destination": "https://up.test/$1"},
    {"source": "/gemini", "destination": "https://g.test$1", "pathRooted": true}
  ],
  "security": {
    "headers": {"X-Frame-Options": "DENY"},
    "blockedExtensions": [".php"],
    "hotlinkProtection": {"enabled": true, "allowedReferers": ["*.example.com"]},
    "cors": {"allowOrigin": "*", "allowMethods": ["GET"], "allowHeaders": ["Content-Type"]}
  },
  "performance": {"cacheControl": "public, max-age=60", "contentEncoding": ["gzip"]}
}`

const rulesYAML = `
rules:
  - source: /api/*
    destination: https://up.test/$1
  - source: /gemini
    destination: https://g.test$1
    pathRooted: true
security:
  headers:
    X-Frame-Options: DENY
  blockedExtensions: [".php"]
  hotlinkProtection:
    enabled: true
    allowedReferers: ["*.example.com"]
  cors:
    allowOrigin: "*"
    allowMethods: [GET]
    allowHeaders: [Content-Type]
performance:
  cacheControl: public, max-age=60
  contentEncoding: [gzip]
`

const rulesTOML = `
[[rules]]
source = "/api/*"
destination = "https://up.test/$1"

[[rules]]
source = "/gemini"
destination = "https://g.test$1"
pathRooted = true

[security]
blockedExtensions = [".php"]

[security.headers]
X-Frame-Options = "DENY"

[security.hotlinkProtection]
enabled = true
allowedReferers = ["*.example.com"]

[security.cors]
allowOrigin = "*"
allowMethods = ["GET"]
allowHeaders = ["Content-Type"]

[performance]
cacheControl = "public, max-age=60"
contentEncoding = ["gzip"]
`

func expectedRuleSet() domain.ProxyConfig {
	return domain.ProxyConfig{
		Rules: domain.RuleSet{
			{Source: "/api/*", Destination: "https://up.test/$1"},
			{Source: "/gemini", Destination: "https://g.test$1", PathRooted: true},
		},
		Security: domain.SecurityPolicy{
			Headers:           map[string]string{"X-Frame-Options": "DENY"},
			BlockedExtensions: []string{".php"},
			HotlinkProtection: domain.HotlinkPolicy{Enabled: true, AllowedReferers: []string{"*.example.com"}},
			CORS:              domain.CORSPolicy{AllowOrigin: "*", AllowMethods: []string{"GET"}, AllowHeaders: []string{"Content-Type"}},
		},
		Performance: domain.PerformancePolicy{CacheControl: "public, max-age=60", ContentEncoding: []string{"gzip"}},
	}
}

func TestLoadRuleSet_Formats(t *testing.T) {
	tests := map[string]string{
		"proxies.json": rulesJSON,
		"proxies.yaml": rulesYAML,
		"proxies.yml":  rulesYAML,
		"proxies.toml": rulesTOML,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadRuleSet(writeFile(t, name, content))
			require.NoError(t, err)
			assert.Equal(t, expectedRuleSet(), cfg)
		})
	}
}

func TestLoadRuleSet_SampleConfig(t *testing.T) {
	cfg, err := LoadRuleSet(filepath.Join("..", "..", "config", "proxies.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Rules)
	assert.NotEmpty(t, cfg.Security.Headers)
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("/etc/edge/RULES.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = FormatFromPath("rules.ini")
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestParseRuleSet_UnknownFields(t *testing.T) {
	_, err := ParseRuleSet([]byte(`{"rulez": []}`), FormatJSON)
	require.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = ParseRuleSet([]byte("rulez: []\n"), FormatYAML)
	require.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = ParseRuleSet([]byte("rulez = []\n"), FormatTOML)
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestRuleSetSpec_Validate(t *testing.T) {
	tests := []struct {
		name string
		rule RuleSpec
	}{
		{name: "relative source", rule: RuleSpec{Source: "api/*", Destination: "https://up.test/$1"}},
		{name: "inner wildcard", rule: RuleSpec{Source: "/a/*/b", Destination: "https://up.test/$1"}},
		{name: "wildcard path rooted", rule: RuleSpec{Source: "/a/*", Destination: "https://up.test/$1", PathRooted: true}},
		{name: "trailing slash rooted", rule: RuleSpec{Source: "/a/", Destination: "https://up.test$1", PathRooted: true}},
		{name: "two placeholders", rule: RuleSpec{Source: "/a/*", Destination: "https://up.test/$1/$1"}},
		{name: "bad scheme", rule: RuleSpec{Source: "/a/*", Destination: "ftp://up.test/$1"}},
		{name: "no host", rule: RuleSpec{Source: "/a/*", Destination: "https:///$1"}},
		{name: "empty destination", rule: RuleSpec{Source: "/a/*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := RuleSetSpec{Rules: []RuleSpec{tt.rule}}
			require.ErrorIs(t, spec.Validate(), domain.ErrConfigInvalid)
		})
	}
}

func TestRuleSetSpec_ValidateSecurity(t *testing.T) {
	spec := RuleSetSpec{Security: SecuritySpec{
		Headers:           map[string]string{"Bad Header": "x"},
		BlockedExtensions: []string{" "},
		HotlinkProtection: HotlinkSpec{AllowedReferers: []string{""}},
	}}

	err := spec.Validate()
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "security.headers")
	assert.Contains(t, err.Error(), "security.blockedExtensions[0]")
	assert.Contains(t, err.Error(), "allowedReferers[0]")
}

func TestRuleSetSpec_Warnings(t *testing.T) {
	spec := RuleSetSpec{
		Rules: []RuleSpec{
			{Source: "/api/*", Destination: "https://up.test/$1"},
			{Source: "/legacy", Destination: "https://legacy.test/"},
		},
		Security: SecuritySpec{HotlinkProtection: HotlinkSpec{Enabled: true}},
	}
	require.NoError(t, spec.Validate())

	warnings := spec.Warnings()
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "rules[1]")
	assert.Contains(t, warnings[1], "hotlinkProtection")
}

func TestRuleSetSpec_ToDomainIsIndependent(t *testing.T) {
	spec, err := ParseRuleSet([]byte(rulesJSON), FormatJSON)
	require.NoError(t, err)

	cfg := spec.ToDomain()
	spec.Security.Headers["X-Frame-Options"] = "ALLOW"
	spec.Security.BlockedExtensions[0] = ".txt"

	assert.Equal(t, "DENY", cfg.Security.Headers["X-Frame-Options"])
	assert.Equal(t, ".php", cfg.Security.BlockedExtensions[0])
}
