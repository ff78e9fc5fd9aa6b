package luminary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// Transport performs one HTTP request/response cycle against the serving API.
// Implementations own connection handling, TLS, and connection-level retry
// policy. The streaming engine itself never retries at this level: every retry
// above it is an explicit policy decision.
type Transport interface {
	Roundtrip(ctx context.Context, method, path string, body []byte, header http.Header) (*Response, error)
}

// Response is one transport response. The Body is a live byte stream for
// streaming calls and a buffered payload for everything else; closing it
// cancels any in-flight read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// ContentType returns the declared content type, lowercased.
func (r *Response) ContentType() string {
	return strings.ToLower(r.Header.Get("Content-Type"))
}

// DecodeJSON buffers the whole body, closes it, and unmarshals into v.
// For non-streaming calls only.
func (r *Response) DecodeJSON(v any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Credentials resolve the auth header for one request. Invoked once per
// request; credentials are not part of the protocol itself.
type Credentials interface {
	Apply(h http.Header)
}

// APIKey authenticates with the x-api-key header.
type APIKey string

func (k APIKey) Apply(h http.Header) { h.Set("x-api-key", string(k)) }

// BearerToken authenticates with an OAuth bearer token.
type BearerToken string

func (t BearerToken) Apply(h http.Header) { h.Set("Authorization", "Bearer "+string(t)) }

// HTTPTransport is the default Transport. It applies connection-level retries
// with exponential backoff on network failures, 429 and 5xx responses.
// Request bodies are buffered byte slices, so replaying an attempt is always
// safe. When the retry budget runs out on a retryable status, the last
// response is returned (buffered) so the caller can map it to an APIError.
type HTTPTransport struct {
	baseURL    string
	creds      Credentials
	client     *http.Client
	maxRetries uint64
	userAgent  string
}

// HTTPTransportOptions configures an HTTPTransport.
type HTTPTransportOptions struct {
	// Client overrides the underlying http.Client.
	Client *http.Client
	// MaxRetries bounds connection-level retry attempts after the first.
	// Negative disables retries. Default 2.
	MaxRetries int
}

// NewHTTPTransport creates a transport for the given base URL.
func NewHTTPTransport(baseURL string, creds Credentials, opts HTTPTransportOptions) (*HTTPTransport, error) {
	if baseURL == "" {
		return nil, &ConfigError{Field: "baseURL", Reason: "base URL is required"}
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, &ConfigError{Field: "baseURL", Reason: fmt.Sprintf("invalid base URL: %v", err)}
	}
	t := &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		client:     opts.Client,
		maxRetries: 2,
		userAgent:  "luminary-go/" + Version,
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	if opts.MaxRetries > 0 {
		t.maxRetries = uint64(opts.MaxRetries)
	} else if opts.MaxRetries < 0 {
		t.maxRetries = 0
	}
	return t, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Roundtrip implements Transport.
func (t *HTTPTransport) Roundtrip(ctx context.Context, method, path string, body []byte, header http.Header) (*Response, error) {
	var resp *Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", t.userAgent)
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if t.creds != nil {
			t.creds.Apply(req.Header)
		}

		httpResp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		if retryableStatus(httpResp.StatusCode) {
			// Buffer the error body so the final attempt's response
			// survives the retry loop.
			data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
			httpResp.Body.Close()
			resp = &Response{
				StatusCode: httpResp.StatusCode,
				Header:     httpResp.Header,
				Body:       io.NopCloser(bytes.NewReader(data)),
			}
			return fmt.Errorf("upstream status %d", httpResp.StatusCode)
		}
		resp = &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: httpResp.Body}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), t.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if resp != nil && !resp.OK() {
			return resp, nil
		}
		return nil, fmt.Errorf("luminary transport: %w", err)
	}
	return resp, nil
}
