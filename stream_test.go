package luminary

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventStreamOver(t *testing.T, body string, opts StreamOptions) *EventStream {
	t.Helper()
	return newEventStream(context.Background(), io.NopCloser(strings.NewReader(body)), "req_1", opts, nil)
}

func TestEventStreamIteration(t *testing.T) {
	body := strings.Join([]string{
		`{"type":"start","request_id":"r1","model":"lumen-2-flash"}`,
		`{"type":"ping"}`,
		`{"type":"keepalive"}`,
		`{"type":"update","delta":"Hel"}`,
		`{"type":"update","delta":"lo"}`,
		`{"type":"completion","content":"Hello","stop_reason":"stop","usage":{"input_tokens":1,"output_tokens":1,"total_tokens":2}}`,
	}, "\n") + "\n"

	s := eventStreamOver(t, body, StreamOptions{})
	defer s.Close()

	var types []EventType
	var text strings.Builder
	for s.Next() {
		ev := s.Current()
		types = append(types, ev.Type)
		if ev.Type == EventMessageDelta {
			text.WriteString(ev.TextDelta)
		}
	}
	require.NoError(t, s.Err())

	// Keepalives never surface; everything else does, in arrival order.
	assert.Equal(t, []EventType{EventMessageStart, EventPing, EventMessageDelta, EventMessageDelta, EventMessageStop}, types)
	assert.Equal(t, "Hello", text.String())

	stats := s.Stats()
	assert.True(t, stats.ObservedFirst)
	assert.NoError(t, stats.FirstEventErr)
}

func TestEventStreamCollect(t *testing.T) {
	body := strings.Join([]string{
		`{"type":"start","request_id":"r1","model":"lumen-2-flash","provider":"acme"}`,
		`{"type":"update","delta":"Hel"}`,
		`{"type":"update","delta":"lo"}`,
		`{"type":"completion","content":"Hello","stop_reason":"stop","usage":{"input_tokens":1,"output_tokens":1,"total_tokens":2}}`,
	}, "\n") + "\n"

	s := eventStreamOver(t, body, StreamOptions{})
	comp, err := s.Collect()
	require.NoError(t, err)

	// Text is built from update deltas only; the terminal record's repeated
	// content must not be double counted.
	assert.Equal(t, "Hello", comp.Text)
	assert.Equal(t, "r1", comp.ID)
	assert.Equal(t, "req_1", comp.RequestID)
	assert.Equal(t, "lumen-2-flash", comp.Model)
	assert.Equal(t, "acme", comp.Provider)
	assert.Equal(t, "stop", comp.StopReason)
	require.NotNil(t, comp.Usage)
	assert.Equal(t, 2, comp.Usage.TotalTokens)
}

func TestEventStreamCollectDeltaOnlyAccumulation(t *testing.T) {
	// The deltas here deliberately overlap with the terminal content: the
	// collected text is the literal concatenation of update deltas, with no
	// diffing against the completion record.
	body := strings.Join([]string{
		`{"type":"start","request_id":"r1","model":"lumen-2-flash"}`,
		`{"type":"update","delta":"Hel"}`,
		`{"type":"update","delta":"Hello"}`,
		`{"type":"completion","content":"Hello","usage":{"input_tokens":1,"output_tokens":1,"total_tokens":2},"stop_reason":"stop"}`,
	}, "\n") + "\n"

	comp, err := eventStreamOver(t, body, StreamOptions{}).Collect()
	require.NoError(t, err)
	assert.Equal(t, "HelHello", comp.Text)
	assert.Equal(t, "r1", comp.ID)
	assert.Equal(t, "stop", comp.StopReason)
	assert.Equal(t, 2, comp.Usage.TotalTokens)
}

func TestEventStreamCollectToolCalls(t *testing.T) {
	t.Run("accumulated from deltas", func(t *testing.T) {
		body := strings.Join([]string{
			`{"type":"start","request_id":"r1","model":"m"}`,
			`{"type":"tool_use_start","tool_call_delta":{"index":0,"id":"call_1","type":"function","function":{"name":"lookup"}}}`,
			`{"type":"tool_use_delta","tool_call_delta":{"index":0,"function":{"arguments":"{\"q\":"}}}`,
			`{"type":"tool_use_delta","tool_call_delta":{"index":0,"function":{"arguments":"\"go\"}"}}}`,
			`{"type":"tool_use_stop"}`,
			`{"type":"completion","stop_reason":"tool_calls","usage":{"total_tokens":5}}`,
		}, "\n") + "\n"

		comp, err := eventStreamOver(t, body, StreamOptions{}).Collect()
		require.NoError(t, err)
		require.Len(t, comp.ToolCalls, 1)
		assert.Equal(t, "call_1", comp.ToolCalls[0].ID)
		assert.Equal(t, "lookup", comp.ToolCalls[0].Function.Name)
		assert.Equal(t, `{"q":"go"}`, comp.ToolCalls[0].Function.Arguments)
		assert.Equal(t, "tool_use", comp.StopReason)
	})

	t.Run("server-declared calls win", func(t *testing.T) {
		body := strings.Join([]string{
			`{"type":"start","request_id":"r1","model":"m"}`,
			`{"type":"tool_use_start","tool_call_delta":{"index":0,"id":"partial"}}`,
			`{"type":"tool_use_stop","tool_calls":[{"id":"final","type":"function","function":{"name":"lookup","arguments":"{}"}}]}`,
			`{"type":"completion","usage":{"total_tokens":5}}`,
		}, "\n") + "\n"

		comp, err := eventStreamOver(t, body, StreamOptions{}).Collect()
		require.NoError(t, err)
		require.Len(t, comp.ToolCalls, 1)
		assert.Equal(t, "final", comp.ToolCalls[0].ID)
	})
}

func TestEventStreamCollectIllFormed(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{
			name:   "no response id",
			body:   `{"type":"update","delta":"x"}` + "\n",
			reason: "response id",
		},
		{
			name: "no model",
			body: `{"type":"start","request_id":"r1"}` + "\n" +
				`{"type":"completion","usage":{"total_tokens":1}}` + "\n",
			reason: "model",
		},
		{
			name: "no usage",
			body: `{"type":"start","request_id":"r1","model":"m"}` + "\n" +
				`{"type":"update","delta":"x"}` + "\n",
			reason: "usage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eventStreamOver(t, tt.body, StreamOptions{}).Collect()
			require.Error(t, err)
			assert.True(t, IsProtocol(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestEventStreamMalformedRecord(t *testing.T) {
	body := `{"type":"start","request_id":"r1","model":"m"}` + "\n" + `{"type":` + "\n"

	s := eventStreamOver(t, body, StreamOptions{})
	require.True(t, s.Next())
	require.False(t, s.Next())

	err := s.Err()
	require.Error(t, err)
	assert.True(t, IsProtocol(err))

	// The stream is dead; further pulls stay terminal and the error sticks.
	assert.False(t, s.Next())
	assert.Equal(t, err, s.Err())
}

func TestEventStreamProtocolErrorOnFinalLine(t *testing.T) {
	// A malformed record with no trailing newline is flushed at EOF; the
	// decode failure must win over the clean-EOF termination racing behind it.
	body := `{"type":"start","request_id":"r1","model":"m"}` + "\n" + `{"broken`

	s := eventStreamOver(t, body, StreamOptions{})
	for s.Next() {
	}
	assert.True(t, IsProtocol(s.Err()), "got %v", s.Err())
}

func TestEventStreamCloseEarly(t *testing.T) {
	body := `{"type":"start","request_id":"r1","model":"m"}` + "\n" + `{"type":"update","delta":"x"}` + "\n"

	s := eventStreamOver(t, body, StreamOptions{})
	require.True(t, s.Next())
	require.NoError(t, s.Close())

	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
	require.NoError(t, s.Close())
}

func TestEventStreamContextCancellation(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := newEventStream(ctx, pr, "req_1", StreamOptions{}, nil)
	defer s.Close()

	go func() {
		pw.Write([]byte(`{"type":"start","request_id":"r1","model":"m"}` + "\n"))
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	require.True(t, s.Next())
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestEventStreamTTFTTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s := newEventStream(context.Background(), pr, "req_1", StreamOptions{TTFTTimeout: 60 * time.Millisecond}, nil)
	defer s.Close()

	// Keepalives keep bytes flowing but are not meaningful events, so the
	// first-token deadline still fires.
	go func() {
		for i := 0; i < 50; i++ {
			if _, err := pw.Write([]byte(`{"type":"keepalive"}` + "\n")); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	assert.False(t, s.Next())
	kind, ok := TimeoutKindOf(s.Err())
	require.True(t, ok, "got %v", s.Err())
	assert.Equal(t, TimeoutTTFT, kind)

	stats := s.Stats()
	assert.True(t, stats.ObservedFirst)
	assert.Error(t, stats.FirstEventErr)
}

func TestEventStreamIdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	// Idle is the shorter deadline here, so it must be the one that fires.
	s := newEventStream(context.Background(), pr, "req_1", StreamOptions{
		IdleTimeout:  60 * time.Millisecond,
		TotalTimeout: 5 * time.Second,
	}, nil)
	defer s.Close()

	go func() {
		pw.Write([]byte(`{"type":"start","request_id":"r1","model":"m"}` + "\n"))
		// Then stall.
	}()

	require.True(t, s.Next())
	assert.False(t, s.Next())
	kind, ok := TimeoutKindOf(s.Err())
	require.True(t, ok, "got %v", s.Err())
	assert.Equal(t, TimeoutIdle, kind)
}

func TestEventStreamTotalTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s := newEventStream(context.Background(), pr, "req_1", StreamOptions{TotalTimeout: 80 * time.Millisecond}, nil)
	defer s.Close()

	// A steadily active stream still hits the absolute deadline.
	go func() {
		for i := 0; i < 100; i++ {
			if _, err := pw.Write([]byte(`{"type":"keepalive"}` + "\n")); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	assert.False(t, s.Next())
	kind, ok := TimeoutKindOf(s.Err())
	require.True(t, ok, "got %v", s.Err())
	assert.Equal(t, TimeoutTotal, kind)
	assert.True(t, errors.Is(s.Err(), ErrTimeout))
}

func TestEventStreamZeroTimeoutsDisabled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s := newEventStream(context.Background(), pr, "req_1", StreamOptions{}, nil)
	defer s.Close()

	go func() {
		time.Sleep(80 * time.Millisecond)
		pw.Write([]byte(`{"type":"start","request_id":"r1","model":"m"}` + "\n"))
		pw.Close()
	}()

	require.True(t, s.Next())
	assert.Equal(t, EventMessageStart, s.Current().Type)
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
}
