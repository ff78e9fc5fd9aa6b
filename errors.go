package luminary

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the failure taxonomy.
// These can be checked with errors.Is().
var (
	// ErrConfiguration indicates caller misuse detectable without any I/O.
	ErrConfiguration = errors.New("luminary: invalid configuration")

	// ErrProtocol indicates a framing or envelope violation in the stream.
	// Protocol errors are not recoverable within the stream.
	ErrProtocol = errors.New("luminary: protocol violation")

	// ErrTimeout indicates one of the stream deadlines fired.
	ErrTimeout = errors.New("luminary: stream timed out")

	// ErrAPI indicates a server-declared error envelope or a non-2xx status.
	ErrAPI = errors.New("luminary: api error")

	// ErrStructured indicates structured output decoding or validation failed.
	ErrStructured = errors.New("luminary: structured output failed")
)

// ConfigError reports caller misuse detectable before any network traffic.
// Configuration errors are never retried.
type ConfigError struct {
	Field  string // the option or parameter at fault
	Reason string // human-readable explanation
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for '%s': %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// ProtocolError reports a malformed NDJSON record, a missing discriminator, a
// wrong content type, or a stream that ended in an ill-formed state.
type ProtocolError struct {
	Reason string
	Line   string // offending record, empty for stream-level violations
	Err    error  // underlying cause, usually a JSON decode error
}

func (e *ProtocolError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("protocol violation: %s (record: %.120s)", e.Reason, e.Line)
	}
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocol, e.Err}
	}
	return []error{ErrProtocol}
}

// TimeoutKind distinguishes which stream deadline fired.
type TimeoutKind string

const (
	// TimeoutTTFT fires when no structurally meaningful event arrived
	// before the time-to-first-token deadline.
	TimeoutTTFT TimeoutKind = "ttft"

	// TimeoutIdle fires when no bytes (keepalives included) arrived within
	// the idle window.
	TimeoutIdle TimeoutKind = "idle"

	// TimeoutTotal fires once the absolute deadline passes, regardless of
	// activity.
	TimeoutTotal TimeoutKind = "total"
)

// TimeoutError is terminal for its stream and is never auto-retried.
type TimeoutError struct {
	Kind  TimeoutKind
	Limit time.Duration // the configured deadline that fired
}

func (e *TimeoutError) Error() string {
	switch e.Kind {
	case TimeoutTTFT:
		return fmt.Sprintf("no first token within %s", e.Limit)
	case TimeoutIdle:
		return fmt.Sprintf("no bytes received for %s", e.Limit)
	default:
		return fmt.Sprintf("stream exceeded total deadline of %s", e.Limit)
	}
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// APIError carries a server-declared error: either a non-2xx HTTP response or
// a `type: "error"` record on a structured stream.
type APIError struct {
	Code       string
	Message    string
	StatusCode int    // HTTP status, 0 when declared mid-stream
	RequestID  string // caller-side request id
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error '%s' (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error '%s': %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrAPI }

// ValidationIssue is one schema violation at a JSON path.
type ValidationIssue struct {
	Path    string
	Message string
}

func (i ValidationIssue) String() string { return i.Path + ": " + i.Message }

// SchemaValidationError reports that decoded model output did not conform to
// the requested schema.
type SchemaValidationError struct {
	SchemaName string
	Issues     []ValidationIssue
}

func (e *SchemaValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("output does not conform to schema '%s': %s", e.SchemaName, strings.Join(msgs, "; "))
}

func (e *SchemaValidationError) Unwrap() error { return ErrStructured }

// DecodeError reports model output that was not valid JSON at all.
type DecodeError struct {
	Attempt int    // 1-based attempt number
	Raw     string // the raw text the model produced
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("attempt %d produced invalid JSON: %v", e.Attempt, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrStructured, e.Err}
	}
	return []error{ErrStructured}
}

// ExhaustedError reports that every structured attempt failed. Attempts holds
// the full per-attempt history for diagnostics; Err is the final failure.
type ExhaustedError struct {
	Attempts []AttemptRecord
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("structured output failed after %d attempts: %v", len(e.Attempts), e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrStructured, e.Err}
	}
	return []error{ErrStructured}
}

// IsTimeout checks if an error is one of the stream timeout kinds.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// TimeoutKindOf extracts the timeout kind so callers can distinguish stall
// causes. The second return is false when err is not a timeout.
func TimeoutKindOf(err error) (TimeoutKind, bool) {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// IsProtocol checks if an error is a framing or envelope violation.
func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }

// IsConfiguration checks if an error indicates caller misuse.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// AsAPIError extracts a server-declared error, if present.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
