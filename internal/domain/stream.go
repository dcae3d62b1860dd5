package domain

import (
	"context"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StreamState is the lifecycle of a StreamHandle. It only moves forward:
// StreamOpen -> StreamClosedOK | StreamClosedError.
type StreamState int

const (
	StreamOpen StreamState = iota
	StreamClosedOK
	StreamClosedError
)

func (s StreamState) String() string {
	switch s {
	case StreamOpen:
		return "open"
	case StreamClosedOK:
		return "closed_ok"
	case StreamClosedError:
		return "closed_error"
	default:
		return "unknown"
	}
}

// StreamHandle is the consumer side of an in-flight streaming unit.
//
// The producer pushes into a bounded buffer, the consumer pulls with Next or
// All. Halting (Close or the drain deadline) cancels the producer context,
// which is what stops the transport read loop.
type StreamHandle struct {
	id string
	op string

	frags    chan Fragment
	halted   chan struct{}
	finished chan struct{}
	cancel   context.CancelFunc
	timer    *time.Timer
	opened   time.Time
	bus      Publisher
	span     trace.Span

	mu    sync.Mutex
	state StreamState
	err   error

	emitted    atomic.Int64
	haltOnce   sync.Once
	finishOnce sync.Once
}

func newStreamHandle(id, op string, buffer int, cancel context.CancelFunc, bus Publisher) *StreamHandle {
	if buffer < 1 {
		buffer = 1
	}
	if bus == nil {
		bus = NopPublisher
	}
	return &StreamHandle{
		id:       id,
		op:       op,
		frags:    make(chan Fragment, buffer),
		halted:   make(chan struct{}),
		finished: make(chan struct{}),
		cancel:   cancel,
		opened:   time.Now(),
		bus:      bus,
	}
}

// ID returns the stream identifier (the ID of its work unit).
func (h *StreamHandle) ID() string { return h.id }

// State returns the current lifecycle state.
func (h *StreamHandle) State() StreamState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the terminal error, nil while open or after a clean close.
func (h *StreamHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed when the producer has returned and its slot is free.
func (h *StreamHandle) Done() <-chan struct{} { return h.finished }

// Emitted returns how many fragments the producer has pushed.
func (h *StreamHandle) Emitted() int { return int(h.emitted.Load()) }

// Next blocks until the next fragment, the end of the stream, the drain
// deadline or ctx. At normal end it returns a FragmentDone fragment.
// Producer failures arrive as FragmentError values, not as errors; the
// returned error is reserved for the consumer side (deadline, cancel).
func (h *StreamHandle) Next(ctx context.Context) (Fragment, error) {
	select {
	case <-h.halted:
		return h.haltedResult()
	default:
	}
	select {
	case f, ok := <-h.frags:
		if !ok {
			return Fragment{Kind: FragmentDone}, nil
		}
		return f, nil
	case <-h.halted:
		return h.haltedResult()
	case <-ctx.Done():
		return Fragment{}, AsError(h.op, ctx.Err())
	}
}

func (h *StreamHandle) haltedResult() (Fragment, error) {
	if err := h.Err(); err != nil {
		return Fragment{}, err
	}
	return Fragment{Kind: FragmentDone}, nil
}

// All is the lazy sequence of fragments. It yields (fragment, nil) until the
// stream ends, or a single (Fragment{}, err) when the drain fails. Leaving
// the loop early closes the handle.
func (h *StreamHandle) All(ctx context.Context) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		defer h.Close()
		for {
			f, err := h.Next(ctx)
			if err != nil {
				yield(Fragment{}, err)
				return
			}
			if f.Kind == FragmentDone {
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Collect drains the stream and concatenates text fragments. Error fragments
// are returned as the error.
func (h *StreamHandle) Collect(ctx context.Context) (string, error) {
	var b strings.Builder
	for f, err := range h.All(ctx) {
		if err != nil {
			return b.String(), err
		}
		if f.IsError() {
			return b.String(), f.Err
		}
		b.WriteString(f.Text)
	}
	return b.String(), nil
}

// Close abandons the stream. The producer context is canceled, so its
// transport stops reading at the next opportunity. Safe to call repeatedly.
func (h *StreamHandle) Close() {
	h.halt(NewError(KindCanceled, h.op, "stream closed by consumer", nil))
}

func (h *StreamHandle) halt(err error) {
	h.haltOnce.Do(func() {
		h.mu.Lock()
		if h.state == StreamOpen {
			h.state = StreamClosedError
			h.err = err
		}
		h.mu.Unlock()
		close(h.halted)
		h.cancel()
	})
}

func (h *StreamHandle) expireAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	h.timer = time.AfterFunc(d, func() {
		h.halt(DeadlineError(h.op, d))
	})
}

// emit is the producer side of the buffer.
func (h *StreamHandle) emit(ctx context.Context, f Fragment) error {
	select {
	case <-h.halted:
		return h.haltErr()
	default:
	}
	select {
	case h.frags <- f:
		h.emitted.Add(1)
		return nil
	case <-h.halted:
		return h.haltErr()
	case <-ctx.Done():
		return AsError(h.op, ctx.Err())
	}
}

func (h *StreamHandle) haltErr() error {
	if err := h.Err(); err != nil {
		return err
	}
	return ErrCanceled
}

// deliverError pushes err as the final in-band fragment unless the consumer is gone.
func (h *StreamHandle) deliverError(err error) {
	select {
	case h.frags <- ErrorFragment(err):
		h.emitted.Add(1)
	case <-h.halted:
	}
}

// finish closes the buffer and settles the state. Called exactly once, after
// the producer returned or when it will never run.
func (h *StreamHandle) finish(err error) {
	h.finishOnce.Do(func() {
		if h.timer != nil {
			h.timer.Stop()
		}
		h.mu.Lock()
		if h.state == StreamOpen {
			if err != nil {
				h.state = StreamClosedError
				h.err = err
			} else {
				h.state = StreamClosedOK
			}
		}
		state, final := h.state, h.err
		h.mu.Unlock()

		close(h.frags)
		close(h.finished)
		h.cancel()

		if h.span != nil {
			h.span.SetAttributes(
				attribute.String("visionrelay.state", state.String()),
				attribute.Int("visionrelay.fragments", h.Emitted()),
			)
			if final != nil {
				h.span.RecordError(final)
				h.span.SetStatus(codes.Error, Describe(final))
			}
			h.span.End()
		}

		h.bus.Publish(NewEvent(TopicStreamClosed, StreamEvent{
			StreamID:  h.id,
			Op:        h.op,
			State:     state,
			Fragments: h.Emitted(),
			Duration:  time.Since(h.opened),
			Err:       final,
		}))
	})
}
