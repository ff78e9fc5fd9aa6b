package luminary

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
)

// StructuredEventType identifies the variant of a structured stream event.
type StructuredEventType string

const (
	StructuredUpdate     StructuredEventType = "update"
	StructuredCompletion StructuredEventType = "completion"
	StructuredError      StructuredEventType = "error"
)

// StructuredEvent is one record of a schema-constrained stream. T is the
// caller-declared payload shape.
type StructuredEvent[T any] struct {
	Type StructuredEventType

	// Payload is the server-declared value at this point of the stream.
	Payload T

	// CompleteFields holds the field paths the server asserts are fully
	// materialized. Membership only; insertion order is not meaningful.
	CompleteFields map[string]struct{}

	// RequestID is the caller-generated id for the request.
	RequestID string
}

// structuredWire is the envelope subset recognized in structured mode.
type structuredWire struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	CompleteFields []string        `json:"complete_fields"`
	Code           string          `json:"code"`
	Message        string          `json:"message"`
	Status         int             `json:"status"`
}

// StructuredStream consumes the structured envelope subset: update,
// completion, and error. Record types outside the subset (start, tool_use_*,
// keepalives) are silently ignored, since structured mode does not use tool
// calls. A stream must produce exactly one terminal record (completion or
// error) before ending; reaching end-of-stream without one is a protocol
// violation. It shares the framing, timeout, and cancellation machinery of
// EventStream.
type StructuredStream[T any] struct {
	core        *streamCore
	ctx         context.Context
	cur         StructuredEvent[T]
	mapErr      error
	sawTerminal bool
}

func newStructuredStream[T any](ctx context.Context, body io.ReadCloser, requestID string, opts StreamOptions, logger *slog.Logger) *StructuredStream[T] {
	return &StructuredStream[T]{core: newStreamCore(body, requestID, opts, logger), ctx: ctx}
}

// Next advances to the next structured event, returning false on any terminal
// condition; consult Err afterwards.
func (s *StructuredStream[T]) Next() bool {
	if s.mapErr != nil {
		return false
	}
	if s.core.stopped() {
		if !s.sawTerminal && s.core.errValue() == nil {
			s.mapErr = &ProtocolError{Reason: "structured stream ended without a terminal event"}
		}
		return false
	}
	s.core.start(s.ctx)
	for {
		select {
		case line, ok := <-s.core.lines:
			if !ok {
				if !s.sawTerminal && s.core.errValue() == nil {
					s.mapErr = &ProtocolError{Reason: "structured stream ended without a terminal event"}
				}
				return false
			}
			advanced, err := s.consume(line)
			if err != nil {
				s.mapErr = err
				s.core.stop(err)
				return false
			}
			if advanced {
				return true
			}
		case <-s.core.done:
			if !s.sawTerminal && s.core.errValue() == nil {
				s.mapErr = &ProtocolError{Reason: "structured stream ended without a terminal event"}
			}
			return false
		}
	}
}

// consume maps one record. It reports whether an event was produced.
func (s *StructuredStream[T]) consume(line []byte) (bool, error) {
	_, typ, err := decodeRawObject(line)
	if err != nil {
		return false, err
	}

	switch typ {
	case wireUpdate, wireCompletion:
		var w structuredWire
		if err := json.Unmarshal(line, &w); err != nil {
			return false, &ProtocolError{Reason: "malformed structured record", Line: string(line), Err: err}
		}
		ev := StructuredEvent[T]{RequestID: s.core.requestID}
		if typ == wireCompletion {
			ev.Type = StructuredCompletion
			s.sawTerminal = true
		} else {
			ev.Type = StructuredUpdate
		}
		if len(w.Payload) > 0 {
			if err := json.Unmarshal(w.Payload, &ev.Payload); err != nil {
				return false, &ProtocolError{Reason: "structured payload does not match the declared shape", Line: string(line), Err: err}
			}
		}
		if len(w.CompleteFields) > 0 {
			ev.CompleteFields = make(map[string]struct{}, len(w.CompleteFields))
			for _, f := range w.CompleteFields {
				ev.CompleteFields[f] = struct{}{}
			}
		}
		s.core.observeFirst(nil)
		s.cur = ev
		return true, nil

	case wireError:
		// The error record is itself the terminal failure; anything the
		// server sends after it is discarded.
		var w structuredWire
		if err := json.Unmarshal(line, &w); err != nil {
			return false, &ProtocolError{Reason: "malformed structured record", Line: string(line), Err: err}
		}
		s.sawTerminal = true
		return false, &APIError{Code: w.Code, Message: w.Message, StatusCode: w.Status, RequestID: s.core.requestID}

	default:
		return false, nil
	}
}

// Current returns the event produced by the last successful Next.
func (s *StructuredStream[T]) Current() StructuredEvent[T] { return s.cur }

// Err returns the terminal error: nil only after a stream that produced its
// completion record (or was explicitly closed early).
func (s *StructuredStream[T]) Err() error {
	if s.mapErr != nil {
		return s.mapErr
	}
	return s.core.errValue()
}

// Close cancels the stream and releases the response body. Idempotent.
func (s *StructuredStream[T]) Close() error {
	// An early explicit close is caller intent, not a missing terminal.
	s.sawTerminal = true
	s.core.stop(nil)
	return nil
}

// Stats reports first-token latency instrumentation.
func (s *StructuredStream[T]) Stats() StreamStats { return s.core.stats() }
