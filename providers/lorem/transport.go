// Package lorem provides an in-process luminary.Transport that generates
// lorem ipsum responses. Used for examples, demos, and development without
// real credentials or network access.
package lorem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"
	"github.com/tidwall/gjson"

	luminary "github.com/luminary-ai/luminary-go"
)

// Transport serves models whose names start with "lorem-". The model suffix
// controls pacing:
//   - lorem-slow:   2 words/second
//   - lorem-medium: 10 words/second
//   - lorem-fast:   30 words/second
//
// Any other lorem-* model streams as fast as the consumer reads.
type Transport struct {
	generator *loremgen.Lorem

	// Words is the number of words per generated response. Default 12.
	Words int
}

// NewTransport creates a lorem transport.
func NewTransport() *Transport {
	return &Transport{generator: loremgen.New(), Words: 12}
}

// Roundtrip implements luminary.Transport. The marshaled request body is
// inspected for the model, the stream flag, and a structured output format.
func (t *Transport) Roundtrip(ctx context.Context, method, path string, body []byte, header http.Header) (*luminary.Response, error) {
	model := gjson.GetBytes(body, "model").String()
	if !strings.HasPrefix(model, "lorem-") {
		payload := []byte(`{"code":"invalid_model","message":"lorem transport only serves lorem-* models","status":404}`)
		return &luminary.Response{
			StatusCode: http.StatusNotFound,
			Header:     jsonHeader("application/json"),
			Body:       io.NopCloser(bytes.NewReader(payload)),
		}, nil
	}

	requestID := header.Get("X-Request-ID")
	if requestID == "" {
		requestID = "lorem_local"
	}

	if gjson.GetBytes(body, "stream").Bool() {
		if gjson.GetBytes(body, "output_format.type").String() == luminary.OutputFormatJSONSchema {
			return t.structuredStream(ctx, requestID, model), nil
		}
		return t.eventStream(ctx, requestID, model), nil
	}
	return t.completion(requestID, model), nil
}

func (t *Transport) words() []string {
	n := t.Words
	if n <= 0 {
		n = 12
	}
	words := make([]string, n)
	for i := range words {
		words[i] = t.generator.Word(2, 10)
	}
	return words
}

// wordDelay paces streamed records based on the model name, mirroring how the
// real serving tiers behave.
func wordDelay(model string) time.Duration {
	switch {
	case strings.HasSuffix(model, "-slow"):
		return 500 * time.Millisecond
	case strings.HasSuffix(model, "-medium"):
		return 100 * time.Millisecond
	case strings.HasSuffix(model, "-fast"):
		return 33 * time.Millisecond
	default:
		return 0
	}
}

// completion produces a buffered non-streaming response body.
func (t *Transport) completion(requestID, model string) *luminary.Response {
	words := t.words()
	text := strings.Join(words, " ")
	payload, _ := json.Marshal(map[string]any{
		"request_id":  "resp_" + requestID,
		"model":       model,
		"provider":    "lorem",
		"content":     text,
		"stop_reason": "stop",
		"usage": map[string]int{
			"input_tokens":  len(words),
			"output_tokens": len(words),
			"total_tokens":  2 * len(words),
		},
	})
	return &luminary.Response{
		StatusCode: http.StatusOK,
		Header:     jsonHeader("application/json"),
		Body:       io.NopCloser(bytes.NewReader(payload)),
	}
}

// eventStream produces a live NDJSON body: start, one update per word, then a
// completion record carrying usage and the stop reason.
func (t *Transport) eventStream(ctx context.Context, requestID, model string) *luminary.Response {
	words := t.words()
	delay := wordDelay(model)
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		write := func(record map[string]any) bool {
			line, _ := json.Marshal(record)
			_, err := fmt.Fprintf(pw, "%s\n", line)
			return err == nil
		}
		if !write(map[string]any{"type": "start", "request_id": "resp_" + requestID, "model": model, "provider": "lorem"}) {
			return
		}
		var sent []string
		for _, w := range words {
			if !pause(ctx, delay) {
				return
			}
			sent = append(sent, w)
			delta := w + " "
			if len(sent) == len(words) {
				delta = w
			}
			if !write(map[string]any{"type": "update", "delta": delta}) {
				return
			}
		}
		write(map[string]any{
			"type":        "completion",
			"content":     strings.Join(words, " "),
			"stop_reason": "stop",
			"usage": map[string]int{
				"input_tokens":  len(words),
				"output_tokens": len(words),
				"total_tokens":  2 * len(words),
			},
		})
	}()

	return &luminary.Response{
		StatusCode: http.StatusOK,
		Header:     jsonHeader("application/x-ndjson"),
		Body:       pr,
	}
}

// structuredStream produces a structured-mode NDJSON body with a payload of
// the shape {"text": "..."}: partial updates followed by one completion.
func (t *Transport) structuredStream(ctx context.Context, requestID, model string) *luminary.Response {
	words := t.words()
	delay := wordDelay(model)
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		write := func(record map[string]any) bool {
			line, _ := json.Marshal(record)
			_, err := fmt.Fprintf(pw, "%s\n", line)
			return err == nil
		}
		var sent []string
		for _, w := range words {
			if !pause(ctx, delay) {
				return
			}
			sent = append(sent, w)
			if !write(map[string]any{
				"type":    "update",
				"payload": map[string]string{"text": strings.Join(sent, " ")},
			}) {
				return
			}
		}
		write(map[string]any{
			"type":            "completion",
			"payload":         map[string]string{"text": strings.Join(words, " ")},
			"complete_fields": []string{"text"},
		})
	}()

	return &luminary.Response{
		StatusCode: http.StatusOK,
		Header:     jsonHeader("application/x-ndjson"),
		Body:       pr,
	}
}

// pause sleeps for d, honoring cancellation. Reports false when the context
// ended first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func jsonHeader(contentType string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return h
}
