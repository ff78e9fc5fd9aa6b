package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	luminary "github.com/luminary-ai/luminary-go"
)

// sdkEvent decodes a wire-shaped SSE payload into the SDK union, the same way
// the SDK stream does.
func sdkEvent(t *testing.T, raw string) anthropic.MessageStreamEventUnion {
	t.Helper()
	var ev anthropic.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("decode SDK event: %v", err)
	}
	return ev
}

func translateOne(t *testing.T, b *EventBridge, raw string) []*luminary.Event {
	t.Helper()
	return b.translate(sdkEvent(t, raw))
}

func TestTranslateMessageLifecycle(t *testing.T) {
	b := NewEventBridge(nil, "req_1")

	events := translateOne(t, b, `{
		"type": "message_start",
		"message": {
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [],
			"stop_reason": null,
			"usage": {"input_tokens": 7, "output_tokens": 0}
		}
	}`)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != luminary.EventMessageStart {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.ResponseID != "msg_1" || ev.Model != "claude-sonnet-4-5" {
		t.Errorf("identity: id=%q model=%q", ev.ResponseID, ev.Model)
	}
	if ev.Usage == nil || ev.Usage.InputTokens != 7 {
		t.Errorf("usage = %+v", ev.Usage)
	}
	if ev.RequestID != "req_1" {
		t.Errorf("request id = %q", ev.RequestID)
	}

	events = translateOne(t, b, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`)
	if len(events) != 1 || events[0].Type != luminary.EventMessageDelta || events[0].TextDelta != "Hi" {
		t.Fatalf("text delta = %+v", events)
	}

	events = translateOne(t, b, `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":12}}`)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].StopReason != "end_turn" {
		t.Errorf("stop reason = %q", events[0].StopReason)
	}
	if events[0].Usage == nil || events[0].Usage.OutputTokens != 12 {
		t.Errorf("usage = %+v", events[0].Usage)
	}

	events = translateOne(t, b, `{"type":"message_stop"}`)
	if len(events) != 1 || events[0].Type != luminary.EventMessageStop {
		t.Fatalf("message_stop = %+v", events)
	}
}

func TestTranslateToolUseBlocks(t *testing.T) {
	b := NewEventBridge(nil, "req_1")

	events := translateOne(t, b, `{
		"type": "content_block_start",
		"index": 1,
		"content_block": {"type": "tool_use", "id": "tu_1", "name": "get_weather", "input": {}}
	}`)
	if len(events) != 1 || events[0].Type != luminary.EventToolUseStart {
		t.Fatalf("tool start = %+v", events)
	}
	d := events[0].ToolCallDelta
	if d == nil || d.Index != 1 || d.ID != "tu_1" || d.Function == nil || d.Function.Name != "get_weather" {
		t.Fatalf("delta = %+v", d)
	}

	events = translateOne(t, b, `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`)
	if len(events) != 1 || events[0].Type != luminary.EventToolUseDelta {
		t.Fatalf("tool delta = %+v", events)
	}
	if got := events[0].ToolCallDelta.Function.Arguments; got != `{"city":` {
		t.Errorf("arguments = %q", got)
	}

	events = translateOne(t, b, `{"type":"content_block_stop","index":1}`)
	if len(events) != 1 || events[0].Type != luminary.EventToolUseStop {
		t.Fatalf("tool stop = %+v", events)
	}
}

func TestTranslateSkipsTextBlockBoundaries(t *testing.T) {
	b := NewEventBridge(nil, "req_1")

	if events := translateOne(t, b, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`); events != nil {
		t.Fatalf("text block start leaked: %+v", events)
	}
	if events := translateOne(t, b, `{"type":"content_block_stop","index":0}`); events != nil {
		t.Fatalf("text block stop leaked: %+v", events)
	}
}
