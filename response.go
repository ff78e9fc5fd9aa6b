package luminary

// Completion is the aggregate result of one model turn: either the decoded
// body of a non-streaming call, or the fold of a full event stream produced
// by Collect.
type Completion struct {
	// ID is the server-assigned response id.
	ID string

	// RequestID is the caller-generated id for the request.
	RequestID string

	Model    string
	Provider string

	// StopReason indicates why generation stopped (e.g. "stop", "max_tokens",
	// "tool_use").
	StopReason string

	Usage     *Usage
	Citations []Citation

	// Text is the full assistant text: the `content` field of a
	// non-streaming response, or the concatenation of update deltas when
	// collected from a stream.
	Text string

	ToolCalls []ToolCall
}

// completionEnvelope is the non-streaming response body.
type completionEnvelope struct {
	RequestID  string         `json:"request_id"`
	Model      string         `json:"model"`
	Provider   string         `json:"provider"`
	Content    string         `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *wireUsage     `json:"usage"`
	Citations  []Citation     `json:"citations"`
	ToolCalls  []wireToolCall `json:"tool_calls"`
}

func (env *completionEnvelope) completion(requestID string) *Completion {
	comp := &Completion{
		ID:         env.RequestID,
		RequestID:  requestID,
		Model:      normalizeModel(env.Model),
		Provider:   env.Provider,
		StopReason: normalizeStopReason(env.StopReason),
		Usage:      normalizeUsage(env.Usage),
		Citations:  env.Citations,
		Text:       env.Content,
	}
	for _, w := range env.ToolCalls {
		typ := coerceToolType(w.Type)
		if typ == "" {
			typ = "function"
		}
		comp.ToolCalls = append(comp.ToolCalls, ToolCall{
			ID:       w.ID,
			Type:     typ,
			Function: FunctionCall{Name: w.Function.Name, Arguments: w.Function.Arguments},
		})
	}
	return comp
}
