package luminary

import "encoding/json"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. The structured retry loop appends
// assistant and corrective user turns to the input between attempts.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OutputFormatJSONSchema constrains the model to emit a single JSON value
// conforming to the attached schema.
const OutputFormatJSONSchema = "json_schema"

// OutputFormat constrains the shape of the model's output.
type OutputFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// Request contains the parameters for one generation request.
type Request struct {
	// Model is the model identifier (e.g. "lumen-2-pro").
	Model string `json:"model"`

	// Input is the conversation history.
	Input []Message `json:"input"`

	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// OutputFormat, when set, asks the server for schema-constrained output.
	OutputFormat *OutputFormat `json:"output_format,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate reports caller misuse detectable before any I/O.
func (r *Request) Validate() error {
	if r.Model == "" {
		return &ConfigError{Field: "model", Reason: "model is required"}
	}
	if len(r.Input) == 0 {
		return &ConfigError{Field: "input", Reason: "at least one input message is required"}
	}
	return nil
}
