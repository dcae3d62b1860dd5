package domain

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultRelayBuffer = 64

// Submitter is the part of a pool the relay and supervisor need.
type Submitter interface {
	Submit(ctx context.Context, unit *WorkUnit) (*Future, error)
}

// StreamRelay runs streaming producers inside pool slots and hands the
// consumer a StreamHandle that can be read before the producer finishes.
type StreamRelay struct {
	exec   Submitter
	budget Budget
	buffer int
	bus    Publisher
	tracer trace.Tracer
	log    zerolog.Logger
}

// RelayOption configures a StreamRelay.
type RelayOption func(*StreamRelay)

// WithRelayBuffer sets how many fragments may wait for the consumer.
func WithRelayBuffer(n int) RelayOption {
	return func(r *StreamRelay) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithRelayPublisher publishes stream lifecycle events to bus.
func WithRelayPublisher(bus Publisher) RelayOption {
	return func(r *StreamRelay) {
		if bus != nil {
			r.bus = bus
		}
	}
}

// WithTracer records a span per stream and, through the supervisor, per call.
func WithTracer(t trace.Tracer) RelayOption {
	return func(r *StreamRelay) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithRelayLogger sets the logger.
func WithRelayLogger(l zerolog.Logger) RelayOption {
	return func(r *StreamRelay) { r.log = l }
}

// NewStreamRelay creates a relay over exec. budget.Submit bounds the wait for
// a slot and budget.Total bounds the whole drain.
func NewStreamRelay(exec Submitter, budget Budget, opts ...RelayOption) *StreamRelay {
	r := &StreamRelay{
		exec:   exec,
		budget: budget,
		buffer: defaultRelayBuffer,
		bus:    NopPublisher,
		tracer: noop.NewTracerProvider().Tracer(""),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start submits producer to the pool and returns its handle immediately.
// The returned error only covers failing to queue the unit (pool closed,
// queue full past the submission budget, ctx done).
func (r *StreamRelay) Start(ctx context.Context, op string, producer Producer) (*StreamHandle, error) {
	if producer == nil {
		return nil, NewError(KindInvalidInput, op, "nil producer", nil)
	}

	unit := NewWorkUnit(op, 0, nil)
	unit.StartTimeout = r.budget.Submit

	ctx, span := r.tracer.Start(ctx, "stream "+op, trace.WithAttributes(
		attribute.String("visionrelay.op", op),
		attribute.String("visionrelay.unit_id", unit.ID),
	))
	runCtx, cancel := context.WithCancel(ctx)
	var ran atomic.Bool

	h := newStreamHandle(unit.ID, op, r.buffer, cancel, r.bus)
	h.span = span

	unit.Run = func(ctx context.Context) (any, error) {
		ran.Store(true)
		err := r.produce(ctx, h, producer)
		return h.Emitted(), err
	}

	// Opened is published before submission so every stream.closed,
	// including a rejected submission, follows its stream.opened.
	r.bus.Publish(NewEvent(TopicStreamOpened, StreamEvent{StreamID: h.id, Op: op, State: StreamOpen}))

	h.expireAfter(r.budget.Total)
	fut, err := r.exec.Submit(runCtx, unit)
	if err != nil {
		h.halt(err)
		h.finish(err)
		return nil, err
	}

	r.log.Debug().Str("op", op).Str("stream", h.id).Msg("stream submitted")

	// Units the pool never runs (abandoned past the submission budget, pool
	// stopped) still have to close their handle.
	go func() {
		<-fut.Done()
		if ran.Load() {
			return
		}
		_, err := fut.Result(0)
		if err == nil {
			err = NewError(KindInternal, op, "unit resolved without running", nil)
		}
		if KindOf(err) == KindDeadlineExceeded {
			h.halt(err)
		} else {
			h.deliverError(err)
		}
		h.finish(err)
	}()

	return h, nil
}

func (r *StreamRelay) produce(ctx context.Context, h *StreamHandle, producer Producer) (err error) {
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = NewError(KindInternal, h.op, fmt.Sprintf("producer panicked: %v", rec), nil)
		}
		halted := false
		select {
		case <-h.halted:
			halted = true
		default:
		}
		if err != nil && !halted {
			err = AsError(h.op, err)
			h.deliverError(err)
			r.log.Error().Err(err).Str("op", h.op).Str("stream", h.id).
				Dur("elapsed", time.Since(started)).Msg("stream producer failed")
		}
		if halted && err == nil {
			err = h.Err()
		}
		h.finish(err)
	}()

	sink := SinkFunc(func(_ context.Context, text string) error {
		return h.emit(ctx, TextFragment(text))
	})
	return producer(ctx, sink)
}
