// Package config loads YAML-described link-check configuration — group
// routing rules, auth, rate limits, and policies — and wires it onto a
// pkg/linkcheck.LinkStream. Secrets are never stored literally; auth
// fields reference environment variable names rather than carrying
// credentials themselves.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/coolbeans/antoracheck/pkg/linkcheck"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig configures a token-bucket rate limit for one group.
type RateLimitConfig struct {
	RequestsPerInterval int   `yaml:"requestsPerInterval"`
	IntervalMs          int64 `yaml:"intervalMs"`
}

// ContinuationRuleConfig configures a "stop after N occurrences of status
// code S" continuation policy.
type ContinuationRuleConfig struct {
	StatusCode int   `yaml:"statusCode"`
	MaxCount   int64 `yaml:"maxCount"`
}

// FragmentValidatorKind selects a built-in FragmentValidator for a group.
type FragmentValidatorKind string

const (
	FragmentValidatorDefault     FragmentValidatorKind = "default"
	FragmentValidatorAlwaysValid FragmentValidatorKind = "alwaysValid"
	FragmentValidatorGitHubBlob  FragmentValidatorKind = "githubBlob"
)

// GroupConfig describes one LinkGroup: the pattern it routes on, the
// headers/auth to send, its rate limit and policies, and its fragment
// validator.
type GroupConfig struct {
	Pattern string `yaml:"pattern"`

	Headers map[string]string `yaml:"headers,omitempty"`

	BasicAuthUsernameEnv string `yaml:"basicAuthUsernameEnv,omitempty"`
	BasicAuthPasswordEnv string `yaml:"basicAuthPasswordEnv,omitempty"`
	BearerTokenEnv       string `yaml:"bearerTokenEnv,omitempty"`

	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty"`

	FragmentValidator FragmentValidatorKind `yaml:"fragmentValidator,omitempty"`

	ContinuationRules []ContinuationRuleConfig `yaml:"continuationRules,omitempty"`
	FinalMinValidCount *int64                  `yaml:"finalMinValidCount,omitempty"`

	RandomOrder bool `yaml:"randomOrder,omitempty"`
}

// LinkCheckConfig is the top-level YAML document: global scheduler tuning
// plus an ordered list of group rules.
type LinkCheckConfig struct {
	RetryAttempts       int      `yaml:"retryAttempts"`
	OverallTimeoutMs    int64    `yaml:"overallTimeoutMs"`
	ExcludeResolved     []string `yaml:"excludeResolved,omitempty"`
	IncludeResolved     []string `yaml:"includeResolved,omitempty"`
	ExcludeEditThisPage bool     `yaml:"excludeEditThisPage,omitempty"`
	Groups              []GroupConfig `yaml:"groups,omitempty"`
}

// DefaultConfig returns a LinkCheckConfig carrying the same defaults
// pkg/linkcheck applies when unconfigured.
func DefaultConfig() *LinkCheckConfig {
	return &LinkCheckConfig{
		RetryAttempts:    1,
		OverallTimeoutMs: 30_000,
	}
}

// Load reads and parses a LinkCheckConfig from path.
func Load(path string) (*LinkCheckConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// BuildStream applies cfg onto a fresh linkcheck.LinkStream built from
// source, resolver, and httpClient.
func BuildStream(cfg *LinkCheckConfig, source linkcheck.LinkSource, resolver linkcheck.ResourceResolver, httpClient linkcheck.HTTPClient) (*linkcheck.LinkStream, error) {
	stream := linkcheck.NewLinkStream(source, resolver, httpClient)
	stream = stream.RetryAttempts(cfg.RetryAttempts)
	if cfg.OverallTimeoutMs > 0 {
		stream = stream.OverallTimeout(time.Duration(cfg.OverallTimeoutMs) * time.Millisecond)
	}
	if cfg.ExcludeEditThisPage {
		stream = stream.ExcludeEditThisPage()
	}

	var err error
	for _, pattern := range cfg.ExcludeResolved {
		if stream, err = stream.ExcludeResolved(pattern); err != nil {
			return nil, fmt.Errorf("config: excludeResolved %q: %w", pattern, err)
		}
	}
	for _, pattern := range cfg.IncludeResolved {
		if stream, err = stream.IncludeResolved(pattern); err != nil {
			return nil, fmt.Errorf("config: includeResolved %q: %w", pattern, err)
		}
	}

	for _, groupCfg := range cfg.Groups {
		if stream, err = applyGroup(stream, groupCfg); err != nil {
			return nil, err
		}
	}

	return stream, nil
}

func applyGroup(stream *linkcheck.LinkStream, groupCfg GroupConfig) (*linkcheck.LinkStream, error) {
	builder, err := stream.Group(groupCfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("config: group pattern %q: %w", groupCfg.Pattern, err)
	}

	for key, value := range groupCfg.Headers {
		builder = builder.Header(key, value)
	}
	if groupCfg.BasicAuthUsernameEnv != "" {
		builder = builder.BasicAuth(os.Getenv(groupCfg.BasicAuthUsernameEnv), os.Getenv(groupCfg.BasicAuthPasswordEnv))
	}
	if groupCfg.BearerTokenEnv != "" {
		builder = builder.BearerToken(os.Getenv(groupCfg.BearerTokenEnv))
	}
	if groupCfg.RateLimit != nil {
		interval := time.Duration(groupCfg.RateLimit.IntervalMs) * time.Millisecond
		builder = builder.RateLimit(linkcheck.RequestsPerTimeInterval(groupCfg.RateLimit.RequestsPerInterval, interval))
	}
	switch groupCfg.FragmentValidator {
	case FragmentValidatorAlwaysValid:
		builder = builder.FragmentValidator(linkcheck.AlwaysValid())
	case FragmentValidatorGitHubBlob:
		builder = builder.FragmentValidator(linkcheck.GitHubBlobFragmentValidator())
	case FragmentValidatorDefault, "":
		// leave the builder's own default (the HTML validator) in place.
	default:
		return nil, fmt.Errorf("config: unknown fragmentValidator %q for group %q", groupCfg.FragmentValidator, groupCfg.Pattern)
	}
	for _, rule := range groupCfg.ContinuationRules {
		builder = builder.ContinuationPolicy(linkcheck.MaxOccurrencesOf(rule.StatusCode, rule.MaxCount))
	}
	if groupCfg.FinalMinValidCount != nil {
		builder = builder.FinalPolicy(linkcheck.MinValidCount(*groupCfg.FinalMinValidCount))
	}
	if groupCfg.RandomOrder {
		builder = builder.RandomOrder()
	}

	return builder.EndGroup()
}
