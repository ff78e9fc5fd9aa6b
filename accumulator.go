package luminary

// ToolCallAccumulator folds a sequence of streamed tool-call fragments into
// complete calls, keyed by the fragment's index. It is a pure in-memory
// reducer with no knowledge of network state, so it can be driven entirely
// from recorded delta sequences.
type ToolCallAccumulator struct {
	calls    map[int]*ToolCall
	maxIndex int
}

// NewToolCallAccumulator returns an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*ToolCall), maxIndex: -1}
}

// ProcessDelta merges one fragment. It reports true when the fragment started
// a new call at its index, false when it continued an existing one.
//
// Merge rules: id and type are first-wins (identity is never overwritten by
// later fragments), a non-empty name replaces the stored name, and argument
// fragments concatenate in arrival order.
func (a *ToolCallAccumulator) ProcessDelta(d *ToolCallDelta) bool {
	if d == nil {
		return false
	}
	if d.Index > a.maxIndex {
		a.maxIndex = d.Index
	}
	call, ok := a.calls[d.Index]
	if !ok {
		call = &ToolCall{ID: d.ID, Type: d.Type}
		if call.Type == "" {
			call.Type = "function"
		}
		if d.Function != nil {
			call.Function = FunctionCall{Name: d.Function.Name, Arguments: d.Function.Arguments}
		}
		a.calls[d.Index] = call
		return true
	}
	if d.Function != nil {
		if d.Function.Name != "" {
			call.Function.Name = d.Function.Name
		}
		call.Function.Arguments += d.Function.Arguments
	}
	return false
}

// ToolCalls returns the accumulated calls ordered by index, from 0 to the
// maximum observed index. Indices that never received a fragment are skipped,
// not padded.
func (a *ToolCallAccumulator) ToolCalls() []ToolCall {
	var calls []ToolCall
	for i := 0; i <= a.maxIndex; i++ {
		if c, ok := a.calls[i]; ok {
			calls = append(calls, *c)
		}
	}
	return calls
}
