package domain_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

func TestDefaultBudget(t *testing.T) {
	assert.Equal(t, domain.Budget{
		Submit:  30 * time.Second,
		Encode:  30 * time.Second,
		Network: 60 * time.Second,
		Total:   120 * time.Second,
	}, domain.DefaultBudget())
}

func TestSupervisor_Call(t *testing.T) {
	sup := domain.NewSupervisor(newPool(t, 2), testBudget(), zerolog.Nop())

	got, err := domain.Call(context.Background(), sup, "test.call", time.Second, func(ctx context.Context) (string, error) {
		return "answer", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "answer", got)
}

func TestSupervisor_CallPropagatesUnitError(t *testing.T) {
	sup := domain.NewSupervisor(newPool(t, 1), testBudget(), zerolog.Nop())
	upstream := domain.UpstreamStatusError("test.call", 401, "bad key")

	_, err := domain.Call(context.Background(), sup, "test.call", time.Second, func(ctx context.Context) (int, error) {
		return 0, upstream
	})

	assert.Same(t, upstream, err)
}

func TestSupervisor_CallTimeoutLeavesUnitRunning(t *testing.T) {
	pool := newPool(t, 1)
	sup := domain.NewSupervisor(pool, testBudget(), zerolog.Nop())
	release := make(chan struct{})
	var finished atomic.Bool

	_, err := sup.Call(context.Background(), "test.call", 20*time.Millisecond, func(ctx context.Context) (any, error) {
		<-release
		finished.Store(true)
		return nil, nil
	})

	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	assert.Equal(t, 1, pool.Stats().Busy, "the unit keeps its slot")

	close(release)
	assert.Eventually(t, finished.Load, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return pool.Stats().Busy == 0 }, time.Second, 5*time.Millisecond)
}

func TestSupervisor_SubmitBudget(t *testing.T) {
	pool := newPool(t, 1)
	release := make(chan struct{})
	defer close(release)
	_, err := pool.Submit(context.Background(), domain.NewWorkUnit("blocker", 0, func(context.Context) (any, error) {
		<-release
		return nil, nil
	}))
	require.NoError(t, err)

	budget := testBudget()
	budget.Submit = 30 * time.Millisecond
	sup := domain.NewSupervisor(pool, budget, zerolog.Nop())

	var ran atomic.Bool
	start := time.Now()
	_, err = sup.Call(context.Background(), "test.call", time.Second, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})

	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, ran.Load())
}

func TestSupervisor_Stream(t *testing.T) {
	rec := &recorder{}
	sup := domain.NewSupervisor(newPool(t, 1), testBudget(), zerolog.Nop(),
		domain.WithRelayBuffer(2), domain.WithRelayPublisher(rec))

	h, err := sup.Stream(context.Background(), "test.stream", emitAll("sat", "ellite"))
	require.NoError(t, err)

	text, err := h.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "satellite", text)
	assert.Len(t, rec.streamEvents(domain.TopicStreamOpened), 1)
}

func TestSupervisor_RecordsSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("test")
	sup := domain.NewSupervisor(newPool(t, 1), testBudget(), zerolog.Nop(), domain.WithTracer(tracer))

	_, err := sup.Call(context.Background(), "test.ok", time.Second, func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)
	_, err = sup.Call(context.Background(), "test.fail", time.Second, func(ctx context.Context) (any, error) {
		return nil, domain.UpstreamStatusError("test.fail", 401, "bad key")
	})
	require.Error(t, err)

	h, err := sup.Stream(context.Background(), "test.stream", emitAll("a", "b"))
	require.NoError(t, err)
	_, err = h.Collect(context.Background())
	require.NoError(t, err)
	waitDone(t, h)

	ended := spans.Ended()
	require.Len(t, ended, 3)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}

	assert.Equal(t, codes.Unset, byName["call test.ok"].Status().Code)
	assert.Equal(t, codes.Error, byName["call test.fail"].Status().Code)
	assert.Equal(t, "API Error: 401 - bad key", byName["call test.fail"].Status().Description)
	assert.Equal(t, codes.Unset, byName["stream test.stream"].Status().Code)
}
