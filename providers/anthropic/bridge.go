// Package anthropic adapts Anthropic SDK message streams into luminary
// Events, so applications consuming the Luminary protocol can share one event
// loop with a direct Anthropic backend.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	luminary "github.com/luminary-ai/luminary-go"
)

// EventBridge wraps an SDK message stream with the Next/Current/Err/Close
// iteration shape, yielding luminary Events. One SDK event can translate to
// zero or one luminary events; untranslatable SDK events are skipped.
type EventBridge struct {
	stream     *ssestream.Stream[anthropic.MessageStreamEventUnion]
	requestID  string
	blockTypes map[int]string // content block index -> block type
	queue      []*luminary.Event
	cur        *luminary.Event
}

// Stream opens an Anthropic streaming call and bridges it.
func Stream(ctx context.Context, client *anthropic.Client, params anthropic.MessageNewParams, requestID string) *EventBridge {
	return NewEventBridge(client.Messages.NewStreaming(ctx, params), requestID)
}

// NewEventBridge bridges an already-open SDK stream.
func NewEventBridge(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], requestID string) *EventBridge {
	return &EventBridge{
		stream:     stream,
		requestID:  requestID,
		blockTypes: make(map[int]string),
	}
}

// Next advances to the next bridged event.
func (b *EventBridge) Next() bool {
	for {
		if len(b.queue) > 0 {
			b.cur = b.queue[0]
			b.queue = b.queue[1:]
			return true
		}
		if !b.stream.Next() {
			return false
		}
		b.queue = b.translate(b.stream.Current())
	}
}

// Current returns the event produced by the last successful Next.
func (b *EventBridge) Current() *luminary.Event { return b.cur }

// Err returns the underlying stream error, if any.
func (b *EventBridge) Err() error { return b.stream.Err() }

// Close releases the underlying stream.
func (b *EventBridge) Close() error { return b.stream.Close() }

// translate maps one SDK event onto the luminary event taxonomy:
//   - message_start        -> message_start (id, model, input tokens)
//   - content_block_start  -> tool_use_start for tool blocks, skipped otherwise
//   - content_block_delta  -> message_delta (text) or tool_use_delta (json)
//   - content_block_stop   -> tool_use_stop for tool blocks, skipped otherwise
//   - message_delta        -> message_delta carrying stop reason and usage
//   - message_stop         -> message_stop
func (b *EventBridge) translate(event anthropic.MessageStreamEventUnion) []*luminary.Event {
	switch e := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		return []*luminary.Event{{
			Type:       luminary.EventMessageStart,
			WireType:   "message_start",
			ResponseID: e.Message.ID,
			Model:      string(e.Message.Model),
			Usage:      &luminary.Usage{InputTokens: int(e.Message.Usage.InputTokens)},
			RequestID:  b.requestID,
		}}

	case anthropic.ContentBlockStartEvent:
		b.blockTypes[int(e.Index)] = string(e.ContentBlock.Type)
		if e.ContentBlock.Type != "tool_use" {
			return nil
		}
		delta := &luminary.ToolCallDelta{
			Index: int(e.Index),
			ID:    e.ContentBlock.ID,
			Type:  "function",
		}
		if e.ContentBlock.Name != "" {
			delta.Function = &luminary.FunctionCallDelta{Name: e.ContentBlock.Name}
		}
		return []*luminary.Event{{
			Type:          luminary.EventToolUseStart,
			WireType:      "content_block_start",
			ToolCallDelta: delta,
			RequestID:     b.requestID,
		}}

	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			return []*luminary.Event{{
				Type:      luminary.EventMessageDelta,
				WireType:  "content_block_delta",
				TextDelta: e.Delta.Text,
				RequestID: b.requestID,
			}}
		case "input_json_delta":
			return []*luminary.Event{{
				Type:     luminary.EventToolUseDelta,
				WireType: "content_block_delta",
				ToolCallDelta: &luminary.ToolCallDelta{
					Index:    int(e.Index),
					Function: &luminary.FunctionCallDelta{Arguments: e.Delta.PartialJSON},
				},
				RequestID: b.requestID,
			}}
		}
		return nil

	case anthropic.ContentBlockStopEvent:
		if b.blockTypes[int(e.Index)] != "tool_use" {
			return nil
		}
		return []*luminary.Event{{
			Type:      luminary.EventToolUseStop,
			WireType:  "content_block_stop",
			RequestID: b.requestID,
		}}

	case anthropic.MessageDeltaEvent:
		return []*luminary.Event{{
			Type:       luminary.EventMessageDelta,
			WireType:   "message_delta",
			StopReason: string(e.Delta.StopReason),
			Usage:      &luminary.Usage{OutputTokens: int(e.Usage.OutputTokens)},
			RequestID:  b.requestID,
		}}

	case anthropic.MessageStopEvent:
		return []*luminary.Event{{
			Type:      luminary.EventMessageStop,
			WireType:  "message_stop",
			RequestID: b.requestID,
		}}

	default:
		return nil
	}
}
