package linkcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/net/html/charset"
)

// HTTPClient issues a single HTTP request and returns the response body
// fully read into memory. Implementations must surface network-level
// failures (DNS, TLS, connect, read timeout) as errors distinct from a
// successfully-received non-2xx HTTP response, which is not an error at
// this layer — classification happens in LinkValidator.
type HTTPClient interface {
	Do(ctx context.Context, method, uri string, headers Header) (*Response, error)
}

// defaultHTTPClient is the net/http-backed HTTPClient. It follows
// redirects (net/http's default policy, capped at 10 hops) and records the
// final status, transcoding the body to UTF-8 along the way so the HTML
// fragment validator never has to reason about source charset.
type defaultHTTPClient struct {
	client *http.Client
}

// NewDefaultHTTPClient builds an HTTPClient backed by client, or a fresh
// *http.Client with a 10-redirect cap if client is nil.
func NewDefaultHTTPClient(client *http.Client) HTTPClient {
	if client == nil {
		client = &http.Client{
			CheckRedirect: capRedirects(10),
		}
	}
	return &defaultHTTPClient{client: client}
}

func capRedirects(max int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}

func (c *defaultHTTPClient) Do(ctx context.Context, method, uri string, headers Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s %s: %w", method, uri, err)
	}
	headers.Apply(req)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "antoracheck-linkcheck/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, uri, err)
	}
	defer resp.Body.Close()

	utf8Reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		// Not all responses carry declarable text content (images,
		// binaries); fall back to the raw body rather than failing the
		// whole request.
		utf8Reader = resp.Body
	}

	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("read body for %s %s: %w", method, uri, err)
	}

	return NewResponse(resp.StatusCode, resp.Header, body), nil
}
