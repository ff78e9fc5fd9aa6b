package luminary

import "encoding/json"

// EventType identifies the variant of a stream Event.
type EventType string

// Event variants. Every consumer switches on these; the optional field sets
// below are mutually exclusive per variant.
const (
	EventMessageStart EventType = "message_start"
	EventMessageDelta EventType = "message_delta"
	EventMessageStop  EventType = "message_stop"
	EventToolUseStart EventType = "tool_use_start"
	EventToolUseDelta EventType = "tool_use_delta"
	EventToolUseStop  EventType = "tool_use_stop"
	EventPing         EventType = "ping"
	EventCustom       EventType = "custom"
)

// Event is one normalized record from a streaming response. Exactly one Event
// is produced per non-keepalive record; keepalive records are absorbed by the
// stream and never surface. Events are immutable value objects owned by the
// caller once yielded.
type Event struct {
	// Type is the normalized variant tag.
	Type EventType

	// WireType is the raw `type` discriminator as received, preserved even
	// when the record maps to EventCustom.
	WireType string

	// Raw is the parsed record payload, verbatim.
	Raw map[string]any

	// TextDelta carries incremental text: the `delta` field on update
	// records, the `content` field on completion records.
	TextDelta string

	// ToolCallDelta is set on tool_use_start and tool_use_delta events.
	ToolCallDelta *ToolCallDelta

	// ToolCalls carries completed calls on tool_use_stop events.
	ToolCalls []ToolCall

	// ResponseID is the server-assigned id for this turn, when declared.
	ResponseID string

	Model      string
	StopReason string
	Usage      *Usage
	Citations  []Citation

	// RequestID is the caller-generated id for the request that produced
	// this stream. It is never server-assigned.
	RequestID string

	// Line is the raw NDJSON source line the event was decoded from.
	Line []byte
}

// meaningful reports whether the event counts as a first structural token for
// TTFT bookkeeping. Pings and custom records do not.
func (e *Event) meaningful() bool {
	switch e.Type {
	case EventMessageStart, EventMessageDelta, EventMessageStop,
		EventToolUseStart, EventToolUseDelta, EventToolUseStop:
		return true
	}
	return false
}

// Usage reports token consumption for a turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Citation references an external source from generated text.
type Citation struct {
	// Type indicates the citation kind, e.g. "url_citation".
	Type string `json:"type"`

	// URL is the cited resource URL.
	URL string `json:"url,omitempty"`

	// Title is the page or resource title.
	Title string `json:"title,omitempty"`

	// StartIndex is the character position in the text where the citation
	// starts (optional).
	StartIndex *int `json:"start_index,omitempty"`

	// EndIndex is the character position where the citation ends (optional).
	EndIndex *int `json:"end_index,omitempty"`

	// CitedText is the exact text that was cited (optional).
	CitedText *string `json:"cited_text,omitempty"`

	// ProviderData stores provider-specific citation data.
	ProviderData json.RawMessage `json:"provider_data,omitempty"`
}

// ToolCall is a complete, accumulated function invocation request.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its fully concatenated
// JSON-encoded argument string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallDelta is one streamed fragment of a tool call. Index is the stable
// position of the call within the response's tool-call list; Arguments is a
// fragment of a JSON string concatenated across deltas by the accumulator.
type ToolCallDelta struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *FunctionCallDelta `json:"function,omitempty"`
}

// FunctionCallDelta is the partial function payload of a ToolCallDelta.
type FunctionCallDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
