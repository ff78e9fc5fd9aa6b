package luminary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AttemptRecord captures one failed structured attempt for diagnostics.
type AttemptRecord struct {
	// Attempt is the 1-based attempt number.
	Attempt int

	// Raw is the raw JSON text the model produced.
	Raw string

	// Err is the failure: a *DecodeError or a *SchemaValidationError.
	Err error
}

// StructuredResult carries a validated structured output.
type StructuredResult[T any] struct {
	Value T

	// Attempts is the attempt number at which validation succeeded.
	Attempts int

	// RequestID is the caller-side request id of the successful attempt.
	RequestID string
}

// RetryHandler produces corrective conversation turns after a failed attempt.
// Returning an empty slice declines the retry and fails the loop with an
// ExhaustedError.
type RetryHandler func(attempt int, raw string, cause error) []Message

// StructuredOptions configures the validate-and-retry loop.
type StructuredOptions struct {
	// MaxRetries bounds corrective attempts after the first. The loop runs
	// at most max(1, MaxRetries+1) attempts.
	MaxRetries int

	// SchemaName overrides the name advertised in the output-format
	// constraint.
	SchemaName string

	// RetryHandler overrides DefaultRetryHandler.
	RetryHandler RetryHandler
}

// DefaultRetryHandler proposes one corrective user turn describing the failure
// and asking for an exact-schema-conforming response. It never declines, so by
// default the loop runs until success or attempt exhaustion.
func DefaultRetryHandler(attempt int, raw string, cause error) []Message {
	var detail string
	var decodeErr *DecodeError
	var schemaErr *SchemaValidationError
	switch {
	case errors.As(cause, &decodeErr):
		detail = fmt.Sprintf("the response was not valid JSON: %v", decodeErr.Err)
	case errors.As(cause, &schemaErr):
		parts := make([]string, len(schemaErr.Issues))
		for i, issue := range schemaErr.Issues {
			parts[i] = issue.String()
		}
		detail = "the response did not conform to the schema: " + strings.Join(parts, "; ")
	default:
		detail = cause.Error()
	}
	return []Message{{
		Role: RoleUser,
		Content: fmt.Sprintf(
			"Your previous response could not be used: %s. Respond again with a single JSON value that conforms exactly to the requested schema, with no surrounding prose.",
			detail,
		),
	}}
}

// Structured issues sequential non-streaming attempts until the model produces
// output that decodes and validates against schema, or the attempt bound is
// reached. Attempts are never parallel: each corrective turn depends on the
// previous attempt's failure.
//
// Success short-circuits immediately with the parsed value, the attempt count,
// and the request id of the winning attempt. Transport and API failures
// propagate as-is; only decode and validation failures feed the retry loop.
func Structured[T any](ctx context.Context, c *Client, schema *Schema, req Request, opts *StructuredOptions) (*StructuredResult[T], error) {
	if schema == nil {
		return nil, &ConfigError{Field: "schema", Reason: "structured output requires a schema"}
	}
	if opts == nil {
		opts = &StructuredOptions{}
	}
	if opts.MaxRetries < 0 {
		return nil, &ConfigError{Field: "maxRetries", Reason: "must not be negative"}
	}
	handler := opts.RetryHandler
	if handler == nil {
		handler = DefaultRetryHandler
	}

	req.OutputFormat = schema.outputFormat(opts.SchemaName)

	maxAttempts := opts.MaxRetries + 1
	input := append([]Message(nil), req.Input...)
	var history []AttemptRecord
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req.Input = input
		comp, err := c.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		raw := comp.Text

		value, cause := decodeAndValidate[T](schema, raw, attempt)
		if cause == nil {
			c.logger.Debug("structured output validated", "request_id", comp.RequestID, "attempt", attempt)
			return &StructuredResult[T]{Value: *value, Attempts: attempt, RequestID: comp.RequestID}, nil
		}

		var decodeErr *DecodeError
		if attempt == 1 && opts.MaxRetries == 0 && errors.As(cause, &decodeErr) {
			// No retry budget: surface the decode failure directly, no
			// loop bookkeeping.
			return nil, cause
		}

		history = append(history, AttemptRecord{Attempt: attempt, Raw: raw, Err: cause})
		lastErr = cause
		c.logger.Debug("structured attempt failed", "request_id", comp.RequestID, "attempt", attempt, "error", cause)

		if attempt == maxAttempts {
			break
		}
		corrective := handler(attempt, raw, cause)
		if len(corrective) == 0 {
			return nil, &ExhaustedError{Attempts: history, Err: cause}
		}
		input = append(input, Message{Role: RoleAssistant, Content: raw})
		input = append(input, corrective...)
	}
	return nil, &ExhaustedError{Attempts: history, Err: lastErr}
}

// decodeAndValidate parses raw model output and checks it against the schema.
func decodeAndValidate[T any](schema *Schema, raw string, attempt int) (*T, error) {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &DecodeError{Attempt: attempt, Raw: raw, Err: err}
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, &DecodeError{Attempt: attempt, Raw: raw, Err: err}
	}
	return &value, nil
}

// StructuredStreamRequest opens a structured JSON stream with the same schema
// injection as Structured. It performs no retries: retry policy is exclusively
// a non-streaming concern.
func StructuredStreamRequest[T any](ctx context.Context, c *Client, schema *Schema, req Request, opts *StreamOptions) (*StructuredStream[T], error) {
	if schema == nil {
		return nil, &ConfigError{Field: "schema", Reason: "structured streaming requires a schema-constrained output format"}
	}
	req.OutputFormat = schema.outputFormat("")
	resp, requestID, so, err := c.openStream(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	return newStructuredStream[T](ctx, resp.Body, requestID, so, c.logger), nil
}
