package dispatch

import (
	"context"
	"sync/atomic"

	"github.com/modelrelay/modelrelay/internal/event"
	"github.com/modelrelay/modelrelay/internal/streamparse"
	"github.com/modelrelay/modelrelay/pkg/types"
)

// StreamEvent is one item of the streaming sequence. Attempt identifies the
// transport attempt the chunk belongs to: a retried attempt re-delivers the
// stream from its first byte, so a consumer seeing Attempt increase must
// discard everything accumulated so far.
type StreamEvent struct {
	Attempt int                `json:"attempt"`
	Chunk   *types.StreamChunk `json:"chunk"`
}

// StreamResult is the consumer end of one streaming generation.
type StreamResult struct {
	events chan StreamEvent
	err    atomic.Pointer[resultErr]
}

type resultErr struct{ err error }

// Events returns the ordered event channel. It closes when the stream ends;
// Err then reports how.
func (r *StreamResult) Events() <-chan StreamEvent { return r.events }

// Err returns the terminal error, valid once Events is closed.
func (r *StreamResult) Err() error {
	if e := r.err.Load(); e != nil {
		return e.err
	}
	return nil
}

func (r *StreamResult) fail(err error) { r.err.Store(&resultErr{err: err}) }

// GenerateStream runs the streaming path. The same retry state machine as
// the blocking path wraps consumption of the entire stream: a retryable
// mid-stream failure abandons the attempt and replays the whole stream from
// scratch; there is no resumption. A full drain ends the call successfully
// regardless of attempt number.
func (d *Dispatcher) GenerateStream(ctx context.Context, req *types.GenerateRequest) (*StreamResult, error) {
	call, err := d.prepare(req, true)
	if err != nil {
		return nil, err
	}

	result := &StreamResult{events: make(chan StreamEvent)}
	go d.runStream(ctx, call, result)
	return result, nil
}

func (d *Dispatcher) runStream(ctx context.Context, call *preparedCall, result *StreamResult) {
	defer close(result.events)

	bo := newRetrySchedule(call.cfg)
	var lastErr error

	for attempt := 1; attempt <= call.attempts; attempt++ {
		if ctx.Err() != nil {
			result.fail(cancelled(ctx))
			return
		}

		err := d.streamAttempt(ctx, call, attempt, result)
		if err == nil {
			if attempt > 1 {
				d.publish(call.cfg, event.RetryEvent{Type: event.RetrySuccess, Attempt: attempt, MaxAttempts: call.attempts})
			}
			return
		}

		// A decode failure terminates the call even when attempts remain,
		// matching the blocking path's treatment of parse errors.
		if types.KindOf(err) == types.ErrParse {
			result.fail(err)
			return
		}

		lastErr = err
		next, retry := d.nextAttempt(ctx, call, attempt, err, bo)
		if !retry {
			if next != nil {
				result.fail(next)
				return
			}
			break
		}
	}

	result.fail(terminalError(lastErr))
}

// streamAttempt opens one transport stream and pushes every decoded chunk to
// the consumer. A nil return means the stream drained cleanly.
func (d *Dispatcher) streamAttempt(ctx context.Context, call *preparedCall, attempt int, result *StreamResult) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := d.transport.ExecuteStream(attemptCtx, call.request)
	if err != nil {
		return err
	}

	deliver := func(raw []byte) error {
		chunk, perr := call.formatter.ParseStreamChunk(raw)
		if perr != nil {
			return perr
		}
		select {
		case result.events <- StreamEvent{Attempt: attempt, Chunk: chunk}:
			return nil
		case <-ctx.Done():
			return cancelled(ctx)
		}
	}

	remaining := ""
	for text := range stream.Chunks() {
		events, rest := streamparse.Parse(remaining+text, false)
		remaining = rest
		for _, raw := range events {
			if err := deliver(raw); err != nil {
				// Stop the transport and drain before reporting.
				cancel()
				for range stream.Chunks() {
				}
				return err
			}
		}
	}

	if err := stream.Err(); err != nil {
		return err
	}

	// Flush whatever the final network read left behind.
	if remaining != "" {
		events, _ := streamparse.Parse(remaining, true)
		for _, raw := range events {
			if err := deliver(raw); err != nil {
				return err
			}
		}
	}

	return nil
}
