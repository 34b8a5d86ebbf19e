package linkcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	links []Link
}

func (f fakeSource) Links(ctx context.Context) ([]Link, error) {
	return f.links, nil
}

func newStream(t *testing.T, links []Link) *LinkStream {
	t.Helper()
	return NewLinkStream(fakeSource{links: links}, nil, NewDefaultHTTPClient(nil))
}

// TestScenarioS1SimpleNotFound covers scenario S1: one link, server returns
// 404, output is exactly one invalid mentioning 404, no retries.
func TestScenarioS1SimpleNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	stream := newStream(t, []Link{NewLink("missing", server.URL+"/missing#sec")}).RetryAttempts(0)
	errs, err := stream.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if errs.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", errs.Count())
	}
	result := errs.ToList()[0]
	if result.StatusCode() != http.StatusNotFound {
		t.Errorf("StatusCode() = %d, want 404", result.StatusCode())
	}
	if !strings.Contains(result.Message(), "404") {
		t.Errorf("Message() = %q, want it to mention 404", result.Message())
	}
}

// TestScenarioS2RetryAfterThenSuccess covers scenario S2's success branch:
// 429 with Retry-After, then 200 on retry -> empty output.
func TestScenarioS2RetryAfterThenSuccess(t *testing.T) {
	var attempt atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	stream := newStream(t, []Link{NewLinkResolved(server.URL + "/ok")}).
		RetryAttempts(1).
		OverallTimeout(10 * time.Second)

	errs, err := stream.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if errs.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 (second attempt should succeed), errors: %v", errs.Count(), errs.ToList())
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("server saw %d attempts, want 2", got)
	}
}

// TestScenarioS2RetryAfterExhausted covers S2's failure branch: 429 again
// on the retry -> one invalid with statusCode 429.
func TestScenarioS2RetryAfterExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	stream := newStream(t, []Link{NewLinkResolved(server.URL + "/limited")}).
		RetryAttempts(1).
		OverallTimeout(10 * time.Second)

	errs, err := stream.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if errs.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", errs.Count())
	}
	if got := errs.ToList()[0].StatusCode(); got != http.StatusTooManyRequests {
		t.Errorf("StatusCode() = %d, want 429", got)
	}
}

// TestScenarioS3Deadline covers scenario S3: a link whose attempt starts
// before the deadline finishes however it finishes; a link whose attempt
// would start after the deadline is synthesized as "Did not try".
func TestScenarioS3Deadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(90 * time.Millisecond)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	links := []Link{
		NewLinkResolved(server.URL + "/first"),
		NewLinkResolved(server.URL + "/second"),
	}
	stream := newStream(t, links).RetryAttempts(0).OverallTimeout(60 * time.Millisecond)

	errs, err := stream.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if errs.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", errs.Count())
	}

	results := errs.ToList()
	first, second := results[0], results[1]
	if first.Link().ResolvedURI() != server.URL+"/first" {
		first, second = second, first
	}
	if first.StatusCode() != http.StatusNotFound {
		t.Errorf("first link StatusCode() = %d, want 404", first.StatusCode())
	}
	if second.StatusCode() != 0 || !strings.HasPrefix(second.Message(), "Did not try") {
		t.Errorf("second link = %+v, want status 0 and a 'Did not try' message", second)
	}
}

// TestScenarioS4ContinuationPolicy covers scenario S4: a group with a
// continuation policy that fails after 3x429 stops issuing requests after
// the third attempt; the remaining 7 links are dropped silently.
func TestScenarioS4ContinuationPolicy(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	links := make([]Link, 10)
	for i := range links {
		links[i] = NewLinkResolved(server.URL + "/" + strconv.Itoa(i))
	}

	stream := newStream(t, links).RetryAttempts(0)
	pattern := regexp.QuoteMeta(server.URL) + "/.*"
	builder, err := stream.Group(pattern)
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	stream, err = builder.ContinuationPolicy(MaxOccurrencesOf(http.StatusTooManyRequests, 3)).EndGroup()
	if err != nil {
		t.Fatalf("EndGroup() error = %v", err)
	}

	errs, err := stream.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := requestCount.Load(); got != 3 {
		t.Fatalf("server received %d requests, want exactly 3", got)
	}
	if errs.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", errs.Count())
	}
}

// TestFinalPolicySynthesizesInvalid extends S4 with a final policy: a
// group with no valid responses and MinValidCount(1) as a final policy
// contributes one synthetic invalid keyed on the group's pattern.
func TestFinalPolicySynthesizesInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	stream := newStream(t, []Link{NewLinkResolved(server.URL + "/x")}).RetryAttempts(0)
	pattern := regexp.QuoteMeta(server.URL) + "/.*"
	builder, err := stream.Group(pattern)
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	stream, err = builder.FinalPolicy(MinValidCount(1)).EndGroup()
	if err != nil {
		t.Fatalf("EndGroup() error = %v", err)
	}

	errs, err := stream.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	// One real 404 plus one synthetic final-policy invalid.
	if errs.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", errs.Count())
	}
	var sawSynthetic bool
	for _, result := range errs.ToList() {
		if result.StatusCode() == finalPolicyStatusCode {
			sawSynthetic = true
		}
	}
	if !sawSynthetic {
		t.Error("expected one synthetic result with the final-policy sentinel status code")
	}
}

// TestPropertyGroupRouting covers property 1: the chosen group is the
// first whose pattern matches, or the sentinel otherwise.
func TestPropertyGroupRouting(t *testing.T) {
	stream := newStream(t, nil)
	firstBuilder, err := stream.Group(`https://a\.test/.*`)
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	stream, err = firstBuilder.EndGroup()
	if err != nil {
		t.Fatalf("EndGroup() error = %v", err)
	}
	secondBuilder, err := stream.Group(`https://.*\.test/.*`)
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	stream, err = secondBuilder.EndGroup()
	if err != nil {
		t.Fatalf("EndGroup() error = %v", err)
	}

	matchesFirst := stream.routeGroup(NewLinkResolved("https://a.test/page"))
	if matchesFirst.Pattern().String() != `https://a\.test/.*` {
		t.Errorf("expected the first matching group, got pattern %q", matchesFirst.Pattern().String())
	}

	matchesSecond := stream.routeGroup(NewLinkResolved("https://b.test/page"))
	if matchesSecond.Pattern().String() != `https://.*\.test/.*` {
		t.Errorf("expected the second group, got pattern %q", matchesSecond.Pattern().String())
	}

	fallsToSentinel := stream.routeGroup(NewLinkResolved("https://unrelated.example/page"))
	if fallsToSentinel.Pattern().String() != ".*" {
		t.Errorf("expected the sentinel group, got pattern %q", fallsToSentinel.Pattern().String())
	}
}

// TestPropertySentinelStability covers property 2: the sentinel group
// remains last after any sequence of group insertions.
func TestPropertySentinelStability(t *testing.T) {
	stream := newStream(t, nil)
	for _, pattern := range []string{"a", "b", "c"} {
		builder, err := stream.Group(pattern)
		if err != nil {
			t.Fatalf("Group(%q) error = %v", pattern, err)
		}
		stream, err = builder.EndGroup()
		if err != nil {
			t.Fatalf("EndGroup() error = %v", err)
		}
	}
	if got := stream.groups[len(stream.groups)-1].Pattern().String(); got != ".*" {
		t.Errorf("last group pattern = %q, want %q", got, ".*")
	}
	if len(stream.groups) != 4 {
		t.Errorf("len(groups) = %d, want 4 (3 inserted + sentinel)", len(stream.groups))
	}
}

// TestPropertyImmutability covers property 3: no builder method mutates
// the receiver.
func TestPropertyImmutability(t *testing.T) {
	original := newStream(t, nil)
	modified := original.RetryAttempts(7).OverallTimeout(time.Minute).Log()

	if original.retryAttempts == 7 {
		t.Error("RetryAttempts mutated the original stream")
	}
	if original.overallTimeout == time.Minute {
		t.Error("OverallTimeout mutated the original stream")
	}
	if original.logEnabled {
		t.Error("Log mutated the original stream")
	}
	if modified.retryAttempts != 7 || modified.overallTimeout != time.Minute || !modified.logEnabled {
		t.Error("the modified stream did not pick up the builder changes")
	}
}

// TestPropertyRetryOrdering covers property 4: of two retryable results
// with t1 < t2, the one with t1 is retried first.
func TestPropertyRetryOrdering(t *testing.T) {
	stream := newStream(t, nil)
	var order []string

	now := time.Now()
	later := retryEntry{link: NewLinkResolved("https://b.test"), attemptsLeft: 1, retryAtEpochMs: now.Add(40 * time.Millisecond).UnixMilli()}
	earlier := retryEntry{link: NewLinkResolved("https://a.test"), attemptsLeft: 1, retryAtEpochMs: now.Add(10 * time.Millisecond).UnixMilli()}

	recordingValidator := recordingOrderValidator{order: &order}
	terminal, retryable, err := stream.drainRetries(context.Background(), recordingValidator, now.Add(time.Second), nil, []retryEntry{later, earlier})
	if err != nil {
		t.Fatalf("drainRetries() error = %v", err)
	}
	if len(retryable) != 0 {
		t.Fatalf("expected no leftover retryable entries, got %d", len(retryable))
	}
	if len(terminal) != 0 {
		t.Fatalf("expected no terminal entries (validator reports valid), got %d", len(terminal))
	}
	if len(order) != 2 || order[0] != "https://a.test" || order[1] != "https://b.test" {
		t.Errorf("validation order = %v, want [https://a.test https://b.test]", order)
	}
}

type recordingOrderValidator struct {
	order *[]string
}

func (v recordingOrderValidator) Validate(ctx context.Context, request ValidationRequest) ValidationResult {
	*v.order = append(*v.order, request.Link.ResolvedURI())
	return Valid(request.Link, 200)
}

// TestPropertyIdempotence covers property 9: two back-to-back Validate()
// calls on identically built streams produce equal classifications.
func TestPropertyIdempotence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	build := func() *LinkStream {
		return newStream(t, []Link{NewLinkResolved(server.URL + "/x")}).RetryAttempts(0)
	}

	firstErrs, err := build().Validate(context.Background())
	if err != nil {
		t.Fatalf("first Validate() error = %v", err)
	}
	secondErrs, err := build().Validate(context.Background())
	if err != nil {
		t.Fatalf("second Validate() error = %v", err)
	}

	if firstErrs.Count() != secondErrs.Count() {
		t.Fatalf("Count() differs across runs: %d vs %d", firstErrs.Count(), secondErrs.Count())
	}
	for i := range firstErrs.ToList() {
		a, b := firstErrs.ToList()[i], secondErrs.ToList()[i]
		if a.StatusCode() != b.StatusCode() || a.Message() != b.Message() {
			t.Errorf("result %d differs across runs: %+v vs %+v", i, a, b)
		}
	}
}
