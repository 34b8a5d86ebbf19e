package linkcheck

import (
	"encoding/base64"
	"fmt"
	"math/rand"
	"regexp"
)

// LinkMapper rewrites a Link before it is validated, e.g. to substitute a
// staging host for a production one.
type LinkMapper func(link Link) Link

// StreamTransformer reorders or filters the full incoming link sequence
// before validation begins. matches reports whether a given link belongs
// to the owning group; a transformer must leave non-matching links'
// relative order untouched.
type StreamTransformer func(links []Link, matches func(Link) bool) []Link

// randomOrderTransformer partitions links into the group's members and the
// complement, shuffles the members, and concatenates complement +
// member-shuffled — preserving the complement's relative order exactly, per
// the source's randomOrder() semantics.
func randomOrderTransformer(links []Link, matches func(Link) bool) []Link {
	var members, complement []Link
	for _, link := range links {
		if matches(link) {
			members = append(members, link)
		} else {
			complement = append(complement, link)
		}
	}
	rand.Shuffle(len(members), func(i, j int) {
		members[i], members[j] = members[j], members[i]
	})
	return append(complement, members...)
}

// LinkGroup is an immutable policy bundle matched against resolved link
// URIs. All fields except stats are copy-on-write; stats is shared and
// mutable across every request routed to the group.
type LinkGroup struct {
	pattern              *regexp.Regexp
	linkMapper           LinkMapper
	headers              Header
	rateLimit            RateLimit
	streamTransformers   []StreamTransformer
	continuationPolicies []AggregatePolicy
	finalPolicies        []AggregatePolicy
	fragmentValidator    FragmentValidator
	stats                *LinkGroupStats
}

// Matches reports whether resolvedURI (the resolved URI, without fragment)
// matches this group's pattern.
func (group *LinkGroup) Matches(resolvedURI string) bool {
	return group.pattern.MatchString(resolvedURI)
}

// Pattern returns the group's routing pattern.
func (group *LinkGroup) Pattern() *regexp.Regexp {
	return group.pattern
}

// Stats returns the group's shared statistics instance.
func (group *LinkGroup) Stats() *LinkGroupStats {
	return group.stats
}

// FragmentValidatorFor returns the group's configured fragment validator.
func (group *LinkGroup) FragmentValidatorFor() FragmentValidator {
	return group.fragmentValidator
}

// RateLimitFor returns the group's configured rate limit.
func (group *LinkGroup) RateLimitFor() RateLimit {
	return group.rateLimit
}

// HeadersFor returns the group's configured headers.
func (group *LinkGroup) HeadersFor() Header {
	return group.headers
}

// MapLink applies the group's link mapper, if any.
func (group *LinkGroup) MapLink(link Link) Link {
	if group.linkMapper == nil {
		return link
	}
	return group.linkMapper(link)
}

// EvaluateContinuation runs the group's continuation policies against its
// current stats.
func (group *LinkGroup) EvaluateContinuation() AggregatePolicyResult {
	return evaluateAll(group.continuationPolicies, group.stats)
}

// EvaluateFinal runs the group's final policies against its current stats,
// returning a synthetic invalid ValidationResult if any fail. Per the
// source, a group with no failing final policy contributes nothing — the
// caller must check ok before using the result.
func (group *LinkGroup) EvaluateFinal() (result ValidationResult, ok bool) {
	verdict := evaluateAll(group.finalPolicies, group.stats)
	if verdict.Valid {
		return ValidationResult{}, false
	}
	syntheticLink := NewLinkResolved(group.pattern.String())
	return Invalid(syntheticLink, finalPolicyStatusCode, verdict.Message), true
}

// finalPolicyStatusCode is the sentinel status used for synthetic results
// produced by a failing final policy.
const finalPolicyStatusCode = -5

// GroupBuilder incrementally configures a LinkGroup. Every configuring
// method returns a new builder; the receiver is left untouched. EndGroup()
// inserts the finished group into the parent LinkStream immediately before
// the sentinel group, detaches the builder from that stream, and returns
// the updated stream.
type GroupBuilder struct {
	group  LinkGroup
	parent *LinkStream
}

func newGroupBuilder(parent *LinkStream, pattern *regexp.Regexp) *GroupBuilder {
	return &GroupBuilder{
		parent: parent,
		group: LinkGroup{
			pattern:           pattern,
			headers:           NewHeader(),
			rateLimit:         None(),
			fragmentValidator: DefaultFragmentValidator(),
			stats:             NewLinkGroupStats(),
		},
	}
}

func (builder *GroupBuilder) clone() *GroupBuilder {
	next := *builder
	return &next
}

// RateLimit sets the group's rate limit.
func (builder *GroupBuilder) RateLimit(rateLimit RateLimit) *GroupBuilder {
	next := builder.clone()
	next.group.rateLimit = rateLimit
	return next
}

// LinkMapper sets the group's link rewriter.
func (builder *GroupBuilder) LinkMapper(mapper LinkMapper) *GroupBuilder {
	next := builder.clone()
	next.group.linkMapper = mapper
	return next
}

// FragmentValidator sets the group's fragment validator.
func (builder *GroupBuilder) FragmentValidator(validator FragmentValidator) *GroupBuilder {
	next := builder.clone()
	next.group.fragmentValidator = validator
	return next
}

// Header adds a header to be sent with every request in this group.
func (builder *GroupBuilder) Header(key, value string) *GroupBuilder {
	next := builder.clone()
	next.group.headers = next.group.headers.Add(key, value)
	return next
}

// BasicAuth adds an HTTP Basic Authorization header for username/password.
func (builder *GroupBuilder) BasicAuth(username, password string) *GroupBuilder {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return builder.Header("Authorization", "Basic "+token)
}

// BearerToken adds an HTTP Bearer Authorization header.
func (builder *GroupBuilder) BearerToken(token string) *GroupBuilder {
	return builder.Header("Authorization", "Bearer "+token)
}

// ContinuationPolicy adds a policy evaluated before each request in this
// group; if any continuation policy is invalid, the request is skipped.
func (builder *GroupBuilder) ContinuationPolicy(policy AggregatePolicy) *GroupBuilder {
	next := builder.clone()
	next.group.continuationPolicies = append(append([]AggregatePolicy{}, next.group.continuationPolicies...), policy)
	return next
}

// FinalPolicy adds a policy evaluated once after all retries for this group
// have drained.
func (builder *GroupBuilder) FinalPolicy(policy AggregatePolicy) *GroupBuilder {
	next := builder.clone()
	next.group.finalPolicies = append(append([]AggregatePolicy{}, next.group.finalPolicies...), policy)
	return next
}

// RandomOrder shuffles this group's members among themselves while
// preserving the relative order of every other link in the stream.
func (builder *GroupBuilder) RandomOrder() *GroupBuilder {
	next := builder.clone()
	next.group.streamTransformers = append(append([]StreamTransformer{}, next.group.streamTransformers...), randomOrderTransformer)
	return next
}

// EndGroup finalizes the group and inserts it into the parent stream's
// group list immediately before the sentinel, returning the updated
// stream. Calling EndGroup on a builder with no parent (already consumed,
// or constructed outside of LinkStream.Group) is a configuration fault.
func (builder *GroupBuilder) EndGroup() (*LinkStream, error) {
	if builder.parent == nil {
		return nil, fmt.Errorf("linkcheck: EndGroup called on a group builder with no parent stream")
	}
	parent := builder.parent
	builder.parent = nil
	group := builder.group
	return parent.withGroupInserted(&group), nil
}
