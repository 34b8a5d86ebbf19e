package linkcheck

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"time"
)

// LinkSource produces the Link values a LinkStream validates. Discovery,
// crawling, and Antora site-building are the caller's concern; the core
// only consumes whatever LinkSource yields.
type LinkSource interface {
	Links(ctx context.Context) ([]Link, error)
}

// LinkSourceFunc adapts a function to a LinkSource.
type LinkSourceFunc func(ctx context.Context) ([]Link, error)

// Links calls fn.
func (fn LinkSourceFunc) Links(ctx context.Context) ([]Link, error) { return fn(ctx) }

// ResourceResolver maps resolved URIs back to on-disk source locations for
// error reporting, and identifies links that point at AsciiDoc source
// files (for the "edit this page" exclusion).
type ResourceResolver interface {
	IsAsciiDocSource(link Link) bool
	ResolveSourcePath(link Link) (file string, ok bool)
}

const (
	defaultRetryAttemptsConfig = 1
	defaultOverallTimeout      = 30 * time.Second
)

// LinkStream is the immutable pipeline orchestrator. Every builder method
// returns a new LinkStream; prior references remain valid and unaffected.
type LinkStream struct {
	source     LinkSource
	resolver   ResourceResolver
	httpClient HTTPClient
	validator  LinkValidator

	groups []*LinkGroup

	retryAttempts  int
	overallTimeout time.Duration

	logEnabled bool
	logger     *log.Logger

	excludePredicates []func(Link) bool
	includePatterns   []*regexp.Regexp
	excludeEditPage   bool
}

// NewLinkStream builds a LinkStream with the built-in defaults: a single
// sentinel group (pattern ".*", no rate limit, default HTML fragment
// validator), retryAttempts=1, overallTimeout=30s.
func NewLinkStream(source LinkSource, resolver ResourceResolver, httpClient HTTPClient) *LinkStream {
	sentinel, err := regexp.Compile(".*")
	if err != nil {
		panic(err) // ".*" always compiles
	}
	return &LinkStream{
		source:         source,
		resolver:       resolver,
		httpClient:     httpClient,
		validator:      NewLinkValidator(httpClient),
		groups:         []*LinkGroup{createDefaultGroup(sentinel)},
		retryAttempts:  defaultRetryAttemptsConfig,
		overallTimeout: defaultOverallTimeout,
	}
}

func createDefaultGroup(sentinel *regexp.Regexp) *LinkGroup {
	return &LinkGroup{
		pattern:           sentinel,
		headers:           NewHeader(),
		rateLimit:         None(),
		fragmentValidator: DefaultFragmentValidator(),
		stats:             NewLinkGroupStats(),
	}
}

func (stream *LinkStream) clone() *LinkStream {
	next := *stream
	return &next
}

// Log tees every link, immediately before validation, through a logger
// (log.Default() unless one is set with a future builder extension).
func (stream *LinkStream) Log() *LinkStream {
	next := stream.clone()
	next.logEnabled = true
	if next.logger == nil {
		next.logger = log.Default()
	}
	return next
}

// Exclude drops links for which predicate returns true.
func (stream *LinkStream) Exclude(predicate func(Link) bool) *LinkStream {
	next := stream.clone()
	next.excludePredicates = append(append([]func(Link) bool{}, next.excludePredicates...), predicate)
	return next
}

// ExcludeResolved drops links whose resolved URI matches pattern.
func (stream *LinkStream) ExcludeResolved(pattern string) (*LinkStream, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("linkcheck: excludeResolved pattern %q: %w", pattern, err)
	}
	return stream.Exclude(func(link Link) bool { return re.MatchString(link.ResolvedURI()) }), nil
}

// ExcludeResolvedURI drops links whose resolved URI equals uri exactly.
func (stream *LinkStream) ExcludeResolvedURI(uri string) *LinkStream {
	return stream.Exclude(func(link Link) bool { return link.ResolvedURI() == uri })
}

// ExcludeResolvedURIs drops links whose resolved URI is any of uris.
func (stream *LinkStream) ExcludeResolvedURIs(uris []string) *LinkStream {
	set := make(map[string]bool, len(uris))
	for _, uri := range uris {
		set[uri] = true
	}
	return stream.Exclude(func(link Link) bool { return set[link.ResolvedURI()] })
}

// IncludeResolved restricts validation to links whose resolved URI matches
// at least one configured include pattern. Calling it more than once is
// additive (OR of patterns), matching the source's repeated-call semantics.
func (stream *LinkStream) IncludeResolved(pattern string) (*LinkStream, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("linkcheck: includeResolved pattern %q: %w", pattern, err)
	}
	next := stream.clone()
	next.includePatterns = append(append([]*regexp.Regexp{}, next.includePatterns...), re)
	return next, nil
}

// ExcludeEditThisPage drops links the ResourceResolver identifies as
// pointing at AsciiDoc source (the "edit this page" link Antora renders).
func (stream *LinkStream) ExcludeEditThisPage() *LinkStream {
	next := stream.clone()
	next.excludeEditPage = true
	return next
}

// RetryAttempts sets the number of retries permitted after the first
// attempt (total attempts = n + 1).
func (stream *LinkStream) RetryAttempts(n int) *LinkStream {
	next := stream.clone()
	next.retryAttempts = n
	return next
}

// OverallTimeout sets the hard wall-clock budget for one Validate call.
func (stream *LinkStream) OverallTimeout(d time.Duration) *LinkStream {
	next := stream.clone()
	next.overallTimeout = d
	return next
}

// Group opens a builder for a new LinkGroup matched against pattern. Call
// EndGroup on the returned builder to insert it into this stream.
func (stream *LinkStream) Group(pattern string) (*GroupBuilder, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("linkcheck: group pattern %q: %w", pattern, err)
	}
	return newGroupBuilder(stream, re), nil
}

// withGroupInserted returns a new stream with group inserted immediately
// before the sentinel, preserving first-match-wins with the sentinel as
// the guaranteed fallback.
func (stream *LinkStream) withGroupInserted(group *LinkGroup) *LinkStream {
	next := stream.clone()
	groups := make([]*LinkGroup, 0, len(next.groups)+1)
	groups = append(groups, next.groups[:len(next.groups)-1]...)
	groups = append(groups, group)
	groups = append(groups, next.groups[len(next.groups)-1])
	next.groups = groups
	return next
}

// RateLimit is deprecated sugar for Group(pattern).RateLimit(rl).EndGroup().
//
// Deprecated: prefer Group(pattern) directly when additional per-group
// configuration (headers, policies, fragment validator) is also needed.
func (stream *LinkStream) RateLimit(pattern string, rateLimit RateLimit) (*LinkStream, error) {
	builder, err := stream.Group(pattern)
	if err != nil {
		return nil, err
	}
	return builder.RateLimit(rateLimit).EndGroup()
}

// routeGroup finds the first group whose pattern matches uri's resolved
// URI, falling back to the sentinel. Both the first-pass and the retry
// call site route through this single function.
func (stream *LinkStream) routeGroup(link Link) *LinkGroup {
	for _, group := range stream.groups {
		if group.Matches(link.ResolvedURI()) {
			return group
		}
	}
	return stream.groups[len(stream.groups)-1]
}

func (stream *LinkStream) createRequest(link Link, attemptsLeft int) ValidationRequest {
	group := stream.routeGroup(link)
	return newValidationRequest(link, group, attemptsLeft)
}

func (stream *LinkStream) initialAttempts() int {
	return stream.retryAttempts + 1
}

// Validate runs the pipeline using the stream's default LinkValidator.
func (stream *LinkStream) Validate(ctx context.Context) (*ValidationErrorStream, error) {
	return stream.ValidateWith(ctx, stream.validator)
}

type retryEntry struct {
	link           Link
	attemptsLeft   int
	retryAtEpochMs int64
	lastStatus     int
	lastMessage    string
}

// ValidateWith runs the pipeline with an explicit LinkValidator, per
// spec.md §4.5's execution protocol: deadline computation, stream
// transformation, first-pass execution, ascending-retry-time retry loop,
// and final-policy evaluation.
func (stream *LinkStream) ValidateWith(ctx context.Context, validator LinkValidator) (*ValidationErrorStream, error) {
	deadline := time.Now().Add(stream.overallTimeout)

	links, err := stream.source.Links(ctx)
	if err != nil {
		return nil, fmt.Errorf("linkcheck: reading link source: %w", err)
	}
	links = stream.filterLinks(links)
	links = stream.applyStreamTransformers(links)

	var terminal []ValidationResult
	var retryable []retryEntry

	for _, link := range links {
		if stream.logEnabled {
			stream.logger.Printf("validating %s", link.ResolvedURI())
		}

		request := stream.createRequest(link, stream.initialAttempts())
		if !request.ShouldContinue {
			continue
		}

		if !time.Now().Before(deadline) {
			terminal = append(terminal, deadlineExpiredResult(link, stream.overallTimeout, "Did not try"))
			continue
		}

		result := validator.Validate(ctx, request)
		switch {
		case result.IsValid():
			// nothing to report
		case result.ShouldRetry():
			retryable = append(retryable, retryEntry{
				link:           result.Link(),
				attemptsLeft:   request.AttemptsLeft - 1,
				retryAtEpochMs: result.RetryAtEpochMs(),
				lastStatus:     result.StatusCode(),
				lastMessage:    result.Message(),
			})
		default:
			terminal = append(terminal, result)
		}
	}

	terminal, retryable, err = stream.drainRetries(ctx, validator, deadline, terminal, retryable)
	if err != nil {
		return nil, err
	}

	for _, group := range stream.groups {
		if result, ok := group.EvaluateFinal(); ok {
			terminal = append(terminal, result)
		}
	}

	for _, entry := range retryable {
		terminal = append(terminal, Retry(entry.link, entry.lastStatus, entry.lastMessage, entry.retryAtEpochMs))
	}

	return newValidationErrorStream(terminal, stream.resolver), nil
}

// drainRetries repeatedly takes the retry entry with the smallest
// retryAtEpochMs, sleeps until it is due (or moves it to terminal if it
// would fire past the deadline), and re-validates it, until the retryable
// list is empty or an interrupt aborts the whole validation.
func (stream *LinkStream) drainRetries(ctx context.Context, validator LinkValidator, deadline time.Time, terminal []ValidationResult, retryable []retryEntry) ([]ValidationResult, []retryEntry, error) {
	for len(retryable) > 0 {
		sort.Slice(retryable, func(i, j int) bool {
			return retryable[i].retryAtEpochMs < retryable[j].retryAtEpochMs
		})
		head := retryable[0]
		retryable = retryable[1:]

		request := stream.createRequest(head.link, head.attemptsLeft)
		if !request.ShouldContinue {
			continue
		}

		if head.retryAtEpochMs >= deadline.UnixMilli() {
			terminal = append(terminal, deadlineExpiredResult(head.link, stream.overallTimeout, "Did not try (again)"))
			continue
		}

		waitFor := time.Until(time.UnixMilli(head.retryAtEpochMs))
		if waitFor > 0 {
			timer := time.NewTimer(waitFor)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return terminal, retryable, fmt.Errorf("linkcheck: validation aborted during retry wait: %w", ctx.Err())
			}
		}

		result := validator.Validate(ctx, request)
		switch {
		case result.IsValid():
			// drop
		case result.ShouldRetry():
			retryable = append(retryable, retryEntry{
				link:           result.Link(),
				attemptsLeft:   request.AttemptsLeft - 1,
				retryAtEpochMs: result.RetryAtEpochMs(),
				lastStatus:     result.StatusCode(),
				lastMessage:    result.Message(),
			})
		default:
			terminal = append(terminal, result)
		}
	}
	return terminal, retryable, nil
}

func deadlineExpiredResult(link Link, timeout time.Duration, prefix string) ValidationResult {
	return Invalid(link, 0, fmt.Sprintf("%s, overall timeout of %d ms expired", prefix, timeout.Milliseconds()))
}

func (stream *LinkStream) filterLinks(links []Link) []Link {
	filtered := make([]Link, 0, len(links))
	for _, link := range links {
		if stream.excludeEditPage && stream.resolver != nil && stream.resolver.IsAsciiDocSource(link) {
			continue
		}
		if stream.excluded(link) {
			continue
		}
		if !stream.included(link) {
			continue
		}
		filtered = append(filtered, link)
	}
	return filtered
}

func (stream *LinkStream) excluded(link Link) bool {
	for _, predicate := range stream.excludePredicates {
		if predicate(link) {
			return true
		}
	}
	return false
}

func (stream *LinkStream) included(link Link) bool {
	if len(stream.includePatterns) == 0 {
		return true
	}
	for _, pattern := range stream.includePatterns {
		if pattern.MatchString(link.ResolvedURI()) {
			return true
		}
	}
	return false
}

// applyStreamTransformers applies every group's transformers, in group
// order, to the full link sequence — e.g. RandomOrder moves a group's
// members, shuffled, after every other link while leaving those other
// links' relative order untouched.
func (stream *LinkStream) applyStreamTransformers(links []Link) []Link {
	for _, group := range stream.groups {
		for _, transformer := range group.streamTransformers {
			links = transformer(links, func(link Link) bool { return group.Matches(link.ResolvedURI()) })
		}
	}
	return links
}
