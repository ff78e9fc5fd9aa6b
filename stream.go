package luminary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// streamState tracks the lifecycle of a stream consumer. Terminal states are
// sticky: once closed or errored, iteration yields nothing further.
type streamState int

const (
	stateIdle streamState = iota
	stateIterating
	stateClosed
	stateErrored
)

// streamCore owns the response body for exactly one consumer. The read loop
// pulls chunks, frames them into records, and hands complete lines to the
// wrapping stream type. All three deadline timers, explicit Close, and context
// cancellation converge on abort, so the read loop observes a single closed
// signal regardless of why the stream ended, and the body is released on every
// exit path.
type streamCore struct {
	body      io.ReadCloser
	requestID string
	logger    *slog.Logger
	opts      StreamOptions

	lines chan []byte
	done  chan struct{} // closed exactly once, by stop

	mu    sync.Mutex
	state streamState
	err   error

	stopOnce  sync.Once
	startOnce sync.Once

	startedAt  time.Time
	ttftTimer  *time.Timer
	idleTimer  *time.Timer
	totalTimer *time.Timer

	firstOnce sync.Once
	sawFirst  bool
	ttft      time.Duration
	ttftErr   error
}

func newStreamCore(body io.ReadCloser, requestID string, opts StreamOptions, logger *slog.Logger) *streamCore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &streamCore{
		body:      body,
		requestID: requestID,
		logger:    logger,
		opts:      opts,
		lines:     make(chan []byte),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	// TTFT and total run from request dispatch. Idle arms now as well: a
	// server that never sends a single byte trips it just like a mid-stream
	// stall would.
	if d := opts.TTFTTimeout; d > 0 {
		c.ttftTimer = time.AfterFunc(d, func() {
			c.stop(&TimeoutError{Kind: TimeoutTTFT, Limit: d})
		})
	}
	if d := opts.IdleTimeout; d > 0 {
		c.idleTimer = time.AfterFunc(d, func() {
			c.stop(&TimeoutError{Kind: TimeoutIdle, Limit: d})
		})
	}
	if d := opts.TotalTimeout; d > 0 {
		c.totalTimer = time.AfterFunc(d, func() {
			c.stop(&TimeoutError{Kind: TimeoutTotal, Limit: d})
		})
	}
	return c
}

// start launches the read loop on the first pull. A core that was already
// cancelled never starts reading.
func (c *streamCore) start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		if c.state != stateIdle {
			c.mu.Unlock()
			return
		}
		c.state = stateIterating
		c.mu.Unlock()
		go c.watch(ctx)
		go c.readLoop()
	})
}

func (c *streamCore) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		c.stop(ctx.Err())
	case <-c.done:
	}
}

// stop terminates the stream: err == nil for clean completion or explicit
// cancellation, non-nil for timeouts, protocol violations, and read failures.
// Idempotent; the first caller wins. Closing the body unblocks any in-flight
// Read.
func (c *streamCore) stop(err error) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		if err != nil {
			c.state = stateErrored
		} else {
			c.state = stateClosed
		}
		c.mu.Unlock()
		if err != nil {
			// Latency-to-failure stays measurable even when the stream
			// dies before its first event.
			c.observeFirst(err)
			c.logger.Debug("stream terminated", "request_id", c.requestID, "error", err)
		}
		if c.ttftTimer != nil {
			c.ttftTimer.Stop()
		}
		if c.idleTimer != nil {
			c.idleTimer.Stop()
		}
		if c.totalTimer != nil {
			c.totalTimer.Stop()
		}
		close(c.done)
		c.body.Close()
	})
}

func (c *streamCore) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// errValue returns the terminal error; nil after clean completion or explicit
// cancellation.
func (c *streamCore) errValue() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// touch resets the idle deadline. This is the single place byte arrival is
// observed, so keepalive-only chunks reset it like any other bytes.
func (c *streamCore) touch() {
	if c.idleTimer != nil {
		c.idleTimer.Reset(c.opts.IdleTimeout)
	}
}

// observeFirst records the first-token observation exactly once: on the first
// structurally meaningful event, or on failure before one.
func (c *streamCore) observeFirst(err error) {
	c.firstOnce.Do(func() {
		elapsed := time.Since(c.startedAt)
		c.mu.Lock()
		c.sawFirst = true
		c.ttft = elapsed
		c.ttftErr = err
		c.mu.Unlock()
		if c.ttftTimer != nil {
			c.ttftTimer.Stop()
		}
		if err != nil {
			c.logger.Debug("stream failed before first token", "request_id", c.requestID, "elapsed", elapsed, "error", err)
		} else {
			c.logger.Debug("first token", "request_id", c.requestID, "ttft", elapsed)
		}
	})
}

// readLoop is the single reader of the body. One in-flight read at a time;
// ordering falls out of sequential reads, and a slow consumer stalls the next
// read through the unbuffered lines channel.
func (c *streamCore) readLoop() {
	defer close(c.lines)
	var framer lineFramer
	buf := make([]byte, 4096)
	for {
		n, err := c.body.Read(buf)
		if n > 0 {
			c.touch()
			for _, line := range framer.feed(buf[:n]) {
				if !c.deliver(line) {
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				for _, line := range framer.flush() {
					if !c.deliver(line) {
						return
					}
				}
				c.stop(nil)
			} else if c.stopped() {
				// The read failed because stop closed the body; the
				// recorded cause stands.
			} else {
				c.stop(fmt.Errorf("luminary: read stream body: %w", err))
			}
			return
		}
	}
}

func (c *streamCore) deliver(line []byte) bool {
	select {
	case c.lines <- line:
		return true
	case <-c.done:
		return false
	}
}

// StreamStats reports first-event-latency instrumentation for one stream.
type StreamStats struct {
	// ObservedFirst is true once the first-token observation was recorded,
	// whether by a meaningful event or by an early failure.
	ObservedFirst bool

	// TTFT is the elapsed time from request dispatch to that observation.
	TTFT time.Duration

	// FirstEventErr is the error tagged on the observation when the stream
	// failed before producing any meaningful event.
	FirstEventErr error
}

func (c *streamCore) stats() StreamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StreamStats{ObservedFirst: c.sawFirst, TTFT: c.ttft, FirstEventErr: c.ttftErr}
}

// EventStream is a lazily-produced, single-pass, forward-only sequence of
// Events over one live streaming response body. It follows the iterator shape
// of the upstream SDK streams:
//
//	stream, err := client.Stream(ctx, req, nil)
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//		ev := stream.Current()
//		...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Stopping iteration early (break, return) plus the deferred Close is
// equivalent to explicit cancellation: the body is released and the stream is
// marked closed.
type EventStream struct {
	core   *streamCore
	ctx    context.Context
	cur    *Event
	mapErr error
}

func newEventStream(ctx context.Context, body io.ReadCloser, requestID string, opts StreamOptions, logger *slog.Logger) *EventStream {
	return &EventStream{core: newStreamCore(body, requestID, opts, logger), ctx: ctx}
}

// Next advances to the next event. It blocks until an event arrives, the
// stream ends, a deadline fires, or the stream is cancelled, and returns false
// on any terminal condition; consult Err afterwards. Keepalive records are
// absorbed here and never surface.
func (s *EventStream) Next() bool {
	if s.mapErr != nil || s.core.stopped() {
		return false
	}
	s.core.start(s.ctx)
	for {
		select {
		case line, ok := <-s.core.lines:
			if !ok {
				return false
			}
			ev, err := decodeEnvelope(line, s.core.requestID)
			if err != nil {
				s.mapErr = err
				s.core.stop(err)
				return false
			}
			if ev == nil {
				continue
			}
			if ev.meaningful() {
				s.core.observeFirst(nil)
			}
			s.cur = ev
			return true
		case <-s.core.done:
			return false
		}
	}
}

// Current returns the event produced by the last successful Next.
func (s *EventStream) Current() *Event { return s.cur }

// Err returns the terminal error. It is nil after clean completion and after
// explicit Close.
func (s *EventStream) Err() error {
	if s.mapErr != nil {
		return s.mapErr
	}
	return s.core.errValue()
}

// Close cancels the stream and releases the response body. Idempotent and
// safe to call at any time, including after natural completion.
func (s *EventStream) Close() error {
	s.core.stop(nil)
	return nil
}

// Stats reports first-token latency instrumentation.
func (s *EventStream) Stats() StreamStats { return s.core.stats() }

// Collect drains the stream and folds it into one Completion: text is the
// concatenation of update deltas (never the terminal record's full content, to
// avoid double counting), response id / model / stop reason / usage /
// citations are last-writer-wins, provider is read opportunistically from any
// record's raw payload, and tool calls come from the accumulator unless
// tool_use_stop records carried completed calls.
//
// A well-formed turn must have declared a response id, a model, and usage;
// Collect fails with a protocol error when the stream ends without them.
func (s *EventStream) Collect() (*Completion, error) {
	defer s.Close()

	comp := &Completion{RequestID: s.core.requestID}
	acc := NewToolCallAccumulator()
	var (
		text      strings.Builder
		completed []ToolCall
		sawUsage  bool
	)

	for s.Next() {
		ev := s.Current()
		switch ev.Type {
		case EventMessageDelta:
			text.WriteString(ev.TextDelta)
		case EventToolUseStart, EventToolUseDelta:
			acc.ProcessDelta(ev.ToolCallDelta)
		case EventToolUseStop:
			completed = append(completed, ev.ToolCalls...)
		}
		if ev.ResponseID != "" {
			comp.ID = ev.ResponseID
		}
		if ev.Model != "" {
			comp.Model = ev.Model
		}
		if ev.StopReason != "" {
			comp.StopReason = ev.StopReason
		}
		if ev.Usage != nil {
			comp.Usage = ev.Usage
			sawUsage = true
		}
		if len(ev.Citations) > 0 {
			comp.Citations = ev.Citations
		}
		if p := gjson.GetBytes(ev.Line, "provider"); p.Exists() {
			comp.Provider = p.String()
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	switch {
	case comp.ID == "":
		return nil, &ProtocolError{Reason: "stream ended without a response id"}
	case comp.Model == "":
		return nil, &ProtocolError{Reason: "stream ended without a model id"}
	case !sawUsage:
		return nil, &ProtocolError{Reason: "stream ended without usage"}
	}

	comp.Text = text.String()
	comp.ToolCalls = completed
	if len(comp.ToolCalls) == 0 {
		comp.ToolCalls = acc.ToolCalls()
	}
	return comp, nil
}
