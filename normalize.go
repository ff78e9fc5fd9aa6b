package luminary

import "strings"

// wireUsage tolerates both the current and the legacy token field names.
type wireUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// normalizeUsage folds legacy field names into the stable Usage shape and
// derives the total when the server omitted it.
func normalizeUsage(w *wireUsage) *Usage {
	if w == nil {
		return nil
	}
	u := &Usage{
		InputTokens:  w.InputTokens,
		OutputTokens: w.OutputTokens,
		TotalTokens:  w.TotalTokens,
	}
	if u.InputTokens == 0 {
		u.InputTokens = w.PromptTokens
	}
	if u.OutputTokens == 0 {
		u.OutputTokens = w.CompletionTokens
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// normalizeStopReason maps legacy finish reasons onto the stable set.
// Unrecognized values pass through untouched.
func normalizeStopReason(s string) string {
	switch s {
	case "length":
		return "max_tokens"
	case "function_call", "tool_calls":
		return "tool_use"
	default:
		return s
	}
}

func normalizeModel(s string) string { return strings.TrimSpace(s) }

// coerceToolType implements the lenient forward-compatibility policy: an
// unrecognized tool type collapses to "function" rather than being rejected.
// Empty stays empty so the accumulator can apply its own default at seed time.
func coerceToolType(s string) string {
	switch s {
	case "", "function":
		return s
	default:
		return "function"
	}
}
