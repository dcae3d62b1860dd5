package domain

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZanzyTHEbar/visionrelay/internal/utils"
)

// Budget holds the wall-clock limits applied to a dispatch.
type Budget struct {
	Submit  time.Duration // Obtaining a slot
	Encode  time.Duration // Blocking sub-operations such as reading an image
	Network time.Duration // The upstream HTTP exchange
	Total   time.Duration // End to end, including relay overhead
}

// DefaultBudget mirrors the limits the service has always used.
func DefaultBudget() Budget {
	return Budget{
		Submit:  30 * time.Second,
		Encode:  30 * time.Second,
		Network: 60 * time.Second,
		Total:   120 * time.Second,
	}
}

// Supervisor dispatches units to a pool and enforces the budget.
type Supervisor struct {
	exec   Submitter
	budget Budget
	relay  *StreamRelay
	log    zerolog.Logger
}

// NewSupervisor wires a supervisor and its relay over exec.
func NewSupervisor(exec Submitter, budget Budget, log zerolog.Logger, opts ...RelayOption) *Supervisor {
	opts = append([]RelayOption{WithRelayLogger(log)}, opts...)
	return &Supervisor{
		exec:   exec,
		budget: budget,
		relay:  NewStreamRelay(exec, budget, opts...),
		log:    log,
	}
}

// Budget returns the configured limits.
func (s *Supervisor) Budget() Budget { return s.budget }

// Call runs fn in a pool slot and waits up to timeout for its result. A
// slot must pick the unit up within the submission budget. On timeout the
// unit keeps running in the background; its result is discarded.
func (s *Supervisor) Call(ctx context.Context, op string, timeout time.Duration, fn UnitFunc) (any, error) {
	start := time.Now()
	s.log.Debug().Str("op", op).Msg("starting pooled call")

	unit := NewWorkUnit(op, 0, fn)
	unit.StartTimeout = s.budget.Submit

	ctx, span := s.relay.tracer.Start(ctx, "call "+op, trace.WithAttributes(
		attribute.String("visionrelay.op", op),
		attribute.String("visionrelay.unit_id", unit.ID),
	))
	defer span.End()

	fut, err := s.exec.Submit(ctx, unit)
	if err != nil {
		s.log.Error().Err(err).Str("op", op).Msg("submit failed")
		failSpan(span, err)
		return nil, err
	}

	v, err := fut.Result(timeout)
	elapsed := time.Since(start)
	if err != nil {
		failSpan(span, err)
		s.log.Error().Err(err).Str("op", op).Str("unit", unit.ID).
			Msgf("pooled call failed after %s", utils.FormatDuration(elapsed))
		return nil, err
	}
	s.log.Info().Str("op", op).Str("unit", unit.ID).
		Msgf("pooled call completed in %s", utils.FormatDuration(elapsed))
	return v, nil
}

// Call is Supervisor.Call with a typed result.
func Call[T any](ctx context.Context, s *Supervisor, op string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := s.Call(ctx, op, timeout, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, NewError(KindInternal, op, "unexpected result type", nil)
	}
	return t, nil
}

// Stream starts producer through the relay; the drain is bounded by budget.Total.
func (s *Supervisor) Stream(ctx context.Context, op string, producer Producer) (*StreamHandle, error) {
	h, err := s.relay.Start(ctx, op, producer)
	if err != nil {
		s.log.Error().Err(err).Str("op", op).Msg("stream submit failed")
		return nil, err
	}
	s.log.Info().Str("op", op).Str("stream", h.ID()).Msg("starting pooled stream")
	return h, nil
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, Describe(err))
}
