package luminary

import "encoding/json"

// Wire discriminators recognized by the envelope mapper.
const (
	wireStart        = "start"
	wireUpdate       = "update"
	wireCompletion   = "completion"
	wireToolUseStart = "tool_use_start"
	wireToolUseDelta = "tool_use_delta"
	wireToolUseStop  = "tool_use_stop"
	wirePing         = "ping"
	wireKeepalive    = "keepalive"
	wireError        = "error"
)

// wireEnvelope is the superset of top-level fields across record types.
// Delta and Content stay raw so records with unknown discriminators can carry
// arbitrary shapes in those slots without tripping the strict decode.
type wireEnvelope struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id"`
	Model      string          `json:"model"`
	Delta      json.RawMessage `json:"delta"`
	Content    json.RawMessage `json:"content"`
	Usage      *wireUsage      `json:"usage"`
	StopReason string          `json:"stop_reason"`
	Citations  []Citation      `json:"citations"`

	// Nested tool delta, or the legacy flattened equivalents.
	ToolCallDelta *wireToolCallDelta `json:"tool_call_delta"`
	Index         *int               `json:"index"`
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Arguments     string             `json:"arguments"`
	ToolType      string             `json:"tool_type"`

	ToolCalls []wireToolCall `json:"tool_calls"`
	ToolCall  *wireToolCall  `json:"tool_call"`
}

type wireToolCallDelta struct {
	Index    int               `json:"index"`
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Function *wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

// decodeRawObject parses one framed line into its raw object form and extracts
// the type discriminator. A parse failure, a non-object record, or a missing
// discriminator is a protocol failure, never a skipped record.
func decodeRawObject(line []byte) (map[string]any, string, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, "", &ProtocolError{Reason: "record is not valid JSON", Line: string(line), Err: err}
	}
	if raw == nil {
		return nil, "", &ProtocolError{Reason: "record is not a JSON object", Line: string(line)}
	}
	typ, ok := raw["type"].(string)
	if !ok || typ == "" {
		return nil, "", &ProtocolError{Reason: "record has no type discriminator", Line: string(line)}
	}
	return raw, typ, nil
}

// decodeEnvelope maps one framed NDJSON record to an Event. Keepalive records
// yield (nil, nil): the caller sees nothing, which is how idle keepalives are
// absorbed without touching first-token bookkeeping.
func decodeEnvelope(line []byte, requestID string) (*Event, error) {
	raw, typ, err := decodeRawObject(line)
	if err != nil {
		return nil, err
	}
	if typ == wireKeepalive {
		return nil, nil
	}

	ev := &Event{
		WireType:  typ,
		Raw:       raw,
		RequestID: requestID,
		Line:      append([]byte(nil), line...),
	}

	var env wireEnvelope
	strictErr := json.Unmarshal(line, &env)

	switch typ {
	case wireStart, wireUpdate, wireCompletion, wireToolUseStart, wireToolUseDelta, wireToolUseStop:
		if strictErr != nil {
			return nil, &ProtocolError{Reason: "malformed record fields", Line: string(line), Err: strictErr}
		}
		ev.ResponseID = env.RequestID
		ev.Model = normalizeModel(env.Model)
		ev.StopReason = normalizeStopReason(env.StopReason)
		ev.Usage = normalizeUsage(env.Usage)
		ev.Citations = env.Citations
	}

	switch typ {
	case wireStart:
		ev.Type = EventMessageStart
	case wireUpdate:
		ev.Type = EventMessageDelta
		ev.TextDelta = rawString(env.Delta)
	case wireCompletion:
		// The terminal record repeats the full text in `content`; consumers
		// accumulating text must use update deltas only to avoid double
		// counting.
		ev.Type = EventMessageStop
		ev.TextDelta = rawString(env.Content)
	case wireToolUseStart:
		ev.Type = EventToolUseStart
		ev.ToolCallDelta = env.toolCallDelta()
	case wireToolUseDelta:
		ev.Type = EventToolUseDelta
		ev.ToolCallDelta = env.toolCallDelta()
	case wireToolUseStop:
		ev.Type = EventToolUseStop
		ev.ToolCalls = env.completedToolCalls()
	case wirePing:
		ev.Type = EventPing
	default:
		// Unknown discriminator: payload preserved verbatim, common fields
		// salvaged opportunistically.
		ev.Type = EventCustom
		ev.ResponseID, _ = raw["request_id"].(string)
		if m, ok := raw["model"].(string); ok {
			ev.Model = normalizeModel(m)
		}
	}
	return ev, nil
}

// rawString decodes a raw JSON slot as a string, returning "" for anything
// else.
func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// toolCallDelta builds a delta from the nested object, falling back to the
// legacy flattened fields.
func (env *wireEnvelope) toolCallDelta() *ToolCallDelta {
	if w := env.ToolCallDelta; w != nil {
		d := &ToolCallDelta{Index: w.Index, ID: w.ID, Type: coerceToolType(w.Type)}
		if w.Function != nil {
			d.Function = &FunctionCallDelta{Name: w.Function.Name, Arguments: w.Function.Arguments}
		}
		return d
	}
	d := &ToolCallDelta{ID: env.ID, Type: coerceToolType(env.ToolType)}
	if env.Index != nil {
		d.Index = *env.Index
	}
	if env.Name != "" || env.Arguments != "" {
		d.Function = &FunctionCallDelta{Name: env.Name, Arguments: env.Arguments}
	}
	return d
}

// completedToolCalls reads the `tool_calls` array, or the singular `tool_call`
// when that is all the server sent.
func (env *wireEnvelope) completedToolCalls() []ToolCall {
	wire := env.ToolCalls
	if len(wire) == 0 && env.ToolCall != nil {
		wire = []wireToolCall{*env.ToolCall}
	}
	if len(wire) == 0 {
		return nil
	}
	calls := make([]ToolCall, 0, len(wire))
	for _, w := range wire {
		typ := coerceToolType(w.Type)
		if typ == "" {
			typ = "function"
		}
		calls = append(calls, ToolCall{
			ID:       w.ID,
			Type:     typ,
			Function: FunctionCall{Name: w.Function.Name, Arguments: w.Function.Arguments},
		})
	}
	return calls
}
