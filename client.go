// Package luminary is a client-side engine for the Luminary generative-model
// serving API. It consumes the server's newline-delimited JSON streaming
// protocol and turns the raw byte stream into typed, ordered events, with
// independent ttft/idle/total timeout policies, mid-stream cancellation,
// tool-call delta reassembly, and a bounded validate-and-retry loop for
// schema-constrained outputs.
package luminary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Version is the library version advertised in the User-Agent header.
const Version = "0.1.0"

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.luminary.ai"

const messagesPath = "/v1/messages"

// Client issues generation requests through a Transport and wraps their
// responses in the streaming and structured consumers.
type Client struct {
	transport    Transport
	logger       *slog.Logger
	streamOpts   StreamOptions
	newRequestID func() string
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Logger receives debug-level lifecycle events. Defaults to discard.
	Logger *slog.Logger

	// StreamOptions sets the default per-stream deadlines. Takes precedence
	// over TimeoutProfile.
	StreamOptions *StreamOptions

	// TimeoutProfile names a profile from the embedded defaults
	// (e.g. "default", "realtime", "batch").
	TimeoutProfile string

	// NewRequestID overrides caller-side request id generation.
	NewRequestID func() string
}

// NewClient creates a client over the given transport.
func NewClient(transport Transport, opts ClientOptions) (*Client, error) {
	if transport == nil {
		return nil, &ConfigError{Field: "transport", Reason: "transport is required"}
	}
	c := &Client{
		transport: transport,
		logger:    opts.Logger,
		newRequestID: func() string {
			return "req_" + uuid.NewString()
		},
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if opts.NewRequestID != nil {
		c.newRequestID = opts.NewRequestID
	}
	switch {
	case opts.StreamOptions != nil:
		c.streamOpts = *opts.StreamOptions
	case opts.TimeoutProfile != "":
		so, err := StreamOptionsForProfile(opts.TimeoutProfile)
		if err != nil {
			return nil, err
		}
		c.streamOpts = so
	default:
		so, err := StreamOptionsForProfile("default")
		if err != nil {
			return nil, err
		}
		c.streamOpts = so
	}
	return c, nil
}

// Complete issues one non-streaming request and decodes the response body.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	requestID := c.newRequestID()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("luminary: marshal request: %w", err)
	}

	c.logger.Debug("dispatching request", "request_id", requestID, "model", req.Model)
	resp, err := c.transport.Roundtrip(ctx, http.MethodPost, messagesPath, body, c.headers(requestID))
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, c.apiError(resp, requestID)
	}

	var env completionEnvelope
	if err := resp.DecodeJSON(&env); err != nil {
		return nil, &ProtocolError{Reason: "malformed completion body", Err: err}
	}
	return env.completion(requestID), nil
}

// Stream issues a streaming request and returns an EventStream over the
// response body. The response must be 2xx and declare an NDJSON content type;
// both are enforced before any event is produced. opts == nil uses the
// client's default deadlines.
func (c *Client) Stream(ctx context.Context, req Request, opts *StreamOptions) (*EventStream, error) {
	resp, requestID, so, err := c.openStream(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	return newEventStream(ctx, resp.Body, requestID, so, c.logger), nil
}

// openStream dispatches a streaming request and validates the response up to,
// but not including, the first record.
func (c *Client) openStream(ctx context.Context, req Request, opts *StreamOptions) (*Response, string, StreamOptions, error) {
	so := c.streamOpts
	if opts != nil {
		so = *opts
	}
	if err := req.Validate(); err != nil {
		return nil, "", so, err
	}
	requestID := c.newRequestID()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", so, fmt.Errorf("luminary: marshal request: %w", err)
	}
	body, err = sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, "", so, fmt.Errorf("luminary: set stream flag: %w", err)
	}

	c.logger.Debug("dispatching streaming request", "request_id", requestID, "model", req.Model)
	resp, err := c.transport.Roundtrip(ctx, http.MethodPost, messagesPath, body, c.headers(requestID))
	if err != nil {
		return nil, "", so, err
	}
	if !resp.OK() {
		return nil, "", so, c.apiError(resp, requestID)
	}
	if resp.Body == nil {
		return nil, "", so, &ConfigError{Field: "response", Reason: "streaming response has no body"}
	}
	if ct := resp.ContentType(); !strings.Contains(ct, "ndjson") {
		resp.Body.Close()
		return nil, "", so, &ProtocolError{Reason: fmt.Sprintf("unexpected content type %q for streaming response", ct)}
	}
	return resp, requestID, so, nil
}

func (c *Client) headers(requestID string) http.Header {
	h := http.Header{}
	h.Set("X-Request-ID", requestID)
	return h
}

// apiError drains a non-2xx response into a typed error. Error bodies arrive
// either flat or nested under "error".
func (c *Client) apiError(resp *Response, requestID string) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
		Code:       "http_error",
		Message:    http.StatusText(resp.StatusCode),
	}
	if resp.Body != nil {
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err == nil {
			if v := gjson.GetBytes(data, "error.code"); v.Exists() {
				apiErr.Code = v.String()
			} else if v := gjson.GetBytes(data, "code"); v.Exists() {
				apiErr.Code = v.String()
			}
			if v := gjson.GetBytes(data, "error.message"); v.Exists() {
				apiErr.Message = v.String()
			} else if v := gjson.GetBytes(data, "message"); v.Exists() {
				apiErr.Message = v.String()
			}
		}
	}
	return apiErr
}
