package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultRetryAfter = 10 * time.Second
	maxRetryAfter     = 120 * time.Second
)

// retryableStatuses is the set of HTTP statuses that schedule a retry
// rather than failing terminally: a persistent redirect that did not
// resolve during the client's own redirect-following, and the classic
// rate-limit/server-overload statuses.
var retryableStatuses = map[int]bool{
	http.StatusMovedPermanently:     true, // 301
	http.StatusTooManyRequests:      true, // 429
	http.StatusInternalServerError:  true, // 500
	http.StatusNotImplemented:       true, // 501
	http.StatusBadGateway:           true, // 502
	http.StatusServiceUnavailable:   true, // 503
	http.StatusGatewayTimeout:       true, // 504
}

// LinkValidator executes a single ValidationRequest: one HTTP attempt,
// classified into valid, terminal invalid, or scheduled retry.
type LinkValidator interface {
	Validate(ctx context.Context, request ValidationRequest) ValidationResult
}

type defaultLinkValidator struct {
	client HTTPClient
}

// NewLinkValidator builds the default LinkValidator, issuing requests
// through client.
func NewLinkValidator(client HTTPClient) LinkValidator {
	return &defaultLinkValidator{client: client}
}

func (v *defaultLinkValidator) Validate(ctx context.Context, request ValidationRequest) ValidationResult {
	link := request.Link
	group := request.Group

	if err := group.RateLimitFor().Acquire(ctx); err != nil {
		return Invalid(link, 0, fmt.Sprintf("Rate limit wait aborted: %v", err))
	}

	response, err := v.client.Do(ctx, http.MethodGet, link.ResolvedURI(), group.HeadersFor())
	if err != nil {
		return v.classifyNetworkError(link, request, err)
	}

	group.Stats().RecordStatus(response.StatusCode)

	if response.IsSuccess() {
		if !link.HasFragment() {
			return Valid(link, response.StatusCode)
		}
		return group.FragmentValidatorFor().Validate(link, response)
	}

	return v.classifyStatus(link, request, response)
}

func (v *defaultLinkValidator) classifyStatus(link Link, request ValidationRequest, response *Response) ValidationResult {
	if !retryableStatuses[response.StatusCode] {
		return Invalid(link, response.StatusCode, fmt.Sprintf("Unexpected status code %d", response.StatusCode))
	}
	return v.scheduleOrFail(link, request, response.StatusCode, retryAfterDelay(response.Headers),
		fmt.Sprintf("Status code %d", response.StatusCode))
}

func (v *defaultLinkValidator) classifyNetworkError(link Link, request ValidationRequest, err error) ValidationResult {
	message := fmt.Sprintf("Network error: %v", err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Invalid(link, 0, message)
	}
	return v.scheduleOrFail(link, request, 0, defaultRetryAfter, message)
}

func (v *defaultLinkValidator) scheduleOrFail(link Link, request ValidationRequest, statusCode int, delay time.Duration, message string) ValidationResult {
	remaining := request.AttemptsLeft - 1
	if remaining <= 0 {
		return Invalid(link, statusCode, message)
	}
	retryAtEpochMs := time.Now().Add(delay).UnixMilli()
	return Retry(link, statusCode, message, retryAtEpochMs)
}

// retryAfterDelay reads the Retry-After header (integer seconds or
// HTTP-date form), capped at maxRetryAfter, defaulting to
// defaultRetryAfter when absent or unparseable.
func retryAfterDelay(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		delay := time.Duration(seconds) * time.Second
		if delay > maxRetryAfter {
			return maxRetryAfter
		}
		if delay < 0 {
			return defaultRetryAfter
		}
		return delay
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return defaultRetryAfter
		}
		if delay > maxRetryAfter {
			return maxRetryAfter
		}
		return delay
	}
	return defaultRetryAfter
}
