package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-edge/pkg/domain"
	"github.com/polisai/polis-edge/pkg/routing"
)

// Format identifies the encoding of a rule set file.
type Format string

// Supported rule set formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath selects the format by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: unsupported rule set extension %q", domain.ErrConfigInvalid, filepath.Ext(path))
	}
}

// RuleSetSpec is the on-disk rule set. Field names follow the proxies.json schema
// shared with the platform config emitters.
type RuleSetSpec struct {
	Rules       []RuleSpec      `json:"rules" yaml:"rules" toml:"rules"`
	Security    SecuritySpec    `json:"security" yaml:"security" toml:"security"`
	Performance PerformanceSpec `json:"performance" yaml:"performance" toml:"performance"`
}

// RuleSpec is one routing rule.
type RuleSpec struct {
	Source      string `json:"source" yaml:"source" toml:"source"`
	Destination string `json:"destination" yaml:"destination" toml:"destination"`
	PathRooted  bool   `json:"pathRooted,omitempty" yaml:"pathRooted,omitempty" toml:"pathRooted,omitempty"`
}

// SecuritySpec holds response headers and request gates.
type SecuritySpec struct {
	Headers           map[string]string `json:"headers" yaml:"headers" toml:"headers"`
	BlockedExtensions []string          `json:"blockedExtensions" yaml:"blockedExtensions" toml:"blockedExtensions"`
	HotlinkProtection HotlinkSpec       `json:"hotlinkProtection" yaml:"hotlinkProtection" toml:"hotlinkProtection"`
	CORS              CORSSpec          `json:"cors" yaml:"cors" toml:"cors"`
}

// HotlinkSpec configures Referer-based hotlink protection.
type HotlinkSpec struct {
	Enabled         bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedReferers []string `json:"allowedReferers" yaml:"allowedReferers" toml:"allowedReferers"`
}

// CORSSpec holds CORS response headers.
type CORSSpec struct {
	AllowOrigin  string   `json:"allowOrigin" yaml:"allowOrigin" toml:"allowOrigin"`
	AllowMethods []string `json:"allowMethods" yaml:"allowMethods" toml:"allowMethods"`
	AllowHeaders []string `json:"allowHeaders" yaml:"allowHeaders" toml:"allowHeaders"`
}

// PerformanceSpec holds caching directives.
type PerformanceSpec struct {
	CacheControl    string   `json:"cacheControl" yaml:"cacheControl" toml:"cacheControl"`
	ContentEncoding []string `json:"contentEncoding" yaml:"contentEncoding" toml:"contentEncoding"`
}

// LoadRuleSet reads, validates and converts the rule set at path.
func LoadRuleSet(path string) (domain.ProxyConfig, error) {
	spec, err := LoadRuleSetSpec(path)
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	return spec.ToDomain(), nil
}

// LoadRuleSetSpec reads and validates the rule set at path without converting it.
func LoadRuleSetSpec(path string) (*RuleSetSpec, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // Rule set path is controlled by admin/operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}

	spec, err := ParseRuleSet(data, format)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("rule set %s: %w", path, err)
	}
	return spec, nil
}

// ParseRuleSet decodes data in the given format. Unknown fields are rejected for JSON
// and YAML so typos surface at startup.
func ParseRuleSet(data []byte, format Format) (*RuleSetSpec, error) {
	var spec RuleSetSpec

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("%w: parse json: %w", domain.ErrConfigInvalid, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("%w: parse yaml: %w", domain.ErrConfigInvalid, err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &spec)
		if err != nil {
			return nil, fmt.Errorf("%w: parse toml: %w", domain.ErrConfigInvalid, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: parse toml: unknown keys %v", domain.ErrConfigInvalid, undecoded)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", domain.ErrConfigInvalid, format)
	}

	return &spec, nil
}

// Validate reports every structural problem of the rule set at once. The returned
// error wraps domain.ErrConfigInvalid.
func (s *RuleSetSpec) Validate() error {
	var errs []error

	for i, rule := range s.Rules {
		if err := rule.validate(); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
		}
	}

	for name := range s.Security.Headers {
		if name == "" || strings.ContainsAny(name, " :\t\r\n") {
			errs = append(errs, fmt.Errorf("security.headers: invalid header name %q", name))
		}
	}
	for i, ext := range s.Security.BlockedExtensions {
		if strings.TrimSpace(ext) == "" {
			errs = append(errs, fmt.Errorf("security.blockedExtensions[%d]: empty extension", i))
		}
	}
	for i, pattern := range s.Security.HotlinkProtection.AllowedReferers {
		if strings.TrimSpace(pattern) == "" {
			errs = append(errs, fmt.Errorf("security.hotlinkProtection.allowedReferers[%d]: empty pattern", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

func (r RuleSpec) validate() error {
	if !strings.HasPrefix(r.Source, "/") {
		return fmt.Errorf("source %q must start with /", r.Source)
	}

	rule := domain.Rule{Source: r.Source, Destination: r.Destination, PathRooted: r.PathRooted}
	if strings.Contains(rule.Prefix(), domain.WildcardMarker) {
		return fmt.Errorf("source %q: wildcard is only allowed as the last character", r.Source)
	}
	if rule.IsWildcard() && r.PathRooted {
		return fmt.Errorf("source %q: pathRooted applies to literal sources only", r.Source)
	}
	if r.PathRooted && r.Source != "/" && strings.HasSuffix(r.Source, "/") {
		return fmt.Errorf("source %q: path-rooted literal must not end with /", r.Source)
	}

	if strings.Count(r.Destination, domain.RemainderPlaceholder) > 1 {
		return fmt.Errorf("destination %q: at most one %s placeholder", r.Destination, domain.RemainderPlaceholder)
	}
	target, err := url.Parse(routing.Expand(r.Destination, ""))
	if err != nil {
		return fmt.Errorf("destination %q: %w", r.Destination, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return fmt.Errorf("destination %q: scheme must be http or https", r.Destination)
	}
	if target.Host == "" {
		return fmt.Errorf("destination %q: missing host", r.Destination)
	}
	return nil
}

// Warnings reports valid but suspicious settings.
func (s *RuleSetSpec) Warnings() []string {
	var warnings []string
	cfg := s.ToDomain()
	for _, i := range routing.Inert(cfg.Rules) {
		warnings = append(warnings, fmt.Sprintf(
			"rules[%d]: literal source %q is not pathRooted and never matches at request time", i, cfg.Rules[i].Source))
	}
	if s.Security.HotlinkProtection.Enabled && len(s.Security.HotlinkProtection.AllowedReferers) == 0 {
		warnings = append(warnings, "security.hotlinkProtection: enabled with no allowed referers, every routed request is rejected")
	}
	return warnings
}

// ToDomain converts the specification into the canonical rule set.
func (s *RuleSetSpec) ToDomain() domain.ProxyConfig {
	rules := make(domain.RuleSet, 0, len(s.Rules))
	for _, r := range s.Rules {
		rules = append(rules, domain.Rule{
			Source:      r.Source,
			Destination: r.Destination,
			PathRooted:  r.PathRooted,
		})
	}

	cfg := domain.ProxyConfig{
		Rules: rules,
		Security: domain.SecurityPolicy{
			Headers:           s.Security.Headers,
			BlockedExtensions: s.Security.BlockedExtensions,
			HotlinkProtection: domain.HotlinkPolicy{
				Enabled:         s.Security.HotlinkProtection.Enabled,
				AllowedReferers: s.Security.HotlinkProtection.AllowedReferers,
			},
			CORS: domain.CORSPolicy{
				AllowOrigin:  s.Security.CORS.AllowOrigin,
				AllowMethods: s.Security.CORS.AllowMethods,
				AllowHeaders: s.Security.CORS.AllowHeaders,
			},
		},
		Performance: domain.PerformancePolicy{
			CacheControl:    s.Performance.CacheControl,
			ContentEncoding: s.Performance.ContentEncoding,
		},
	}
	return cfg.Clone()
}
