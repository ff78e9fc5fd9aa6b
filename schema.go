package luminary

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Schema validates parsed JSON values against a compiled JSON Schema and
// reports issues as path/message pairs. It also carries the raw schema text so
// it can be advertised to the server as an output-format constraint.
type Schema struct {
	name     string
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// CompileSchema compiles raw JSON Schema text. The name is used in error
// reporting and as the default output-format name; empty defaults to "output".
func CompileSchema(name string, raw []byte) (*Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ConfigError{Field: "schema", Reason: fmt.Sprintf("schema is not valid JSON: %v", err)}
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, &ConfigError{Field: "schema", Reason: fmt.Sprintf("register schema: %v", err)}
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, &ConfigError{Field: "schema", Reason: fmt.Sprintf("compile schema: %v", err)}
	}
	if name == "" {
		name = "output"
	}
	return &Schema{
		name:     name,
		raw:      append(json.RawMessage(nil), raw...),
		compiled: compiled,
	}, nil
}

// Name returns the schema's reporting name.
func (s *Schema) Name() string { return s.name }

// JSON returns the raw schema text.
func (s *Schema) JSON() json.RawMessage { return s.raw }

// outputFormat derives the request constraint advertised to the server.
func (s *Schema) outputFormat(nameOverride string) *OutputFormat {
	name := s.name
	if nameOverride != "" {
		name = nameOverride
	}
	return &OutputFormat{Type: OutputFormatJSONSchema, Name: name, Schema: s.raw}
}

var issuePrinter = message.NewPrinter(language.English)

// Validate checks a parsed JSON value. A non-conforming value yields a
// *SchemaValidationError listing one issue per failing instance location.
func (s *Schema) Validate(v any) error {
	err := s.compiled.Validate(v)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	return &SchemaValidationError{SchemaName: s.name, Issues: collectIssues(verr)}
}

// collectIssues flattens the validator's cause tree into leaf issues.
func collectIssues(verr *jsonschema.ValidationError) []ValidationIssue {
	if len(verr.Causes) == 0 {
		return []ValidationIssue{{
			Path:    instancePath(verr.InstanceLocation),
			Message: verr.ErrorKind.LocalizedString(issuePrinter),
		}}
	}
	var issues []ValidationIssue
	for _, cause := range verr.Causes {
		issues = append(issues, collectIssues(cause)...)
	}
	return issues
}

func instancePath(segments []string) string {
	if len(segments) == 0 {
		return "$"
	}
	return "$." + strings.Join(segments, ".")
}
