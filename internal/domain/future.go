package domain

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type futureState int

const (
	futurePending futureState = iota
	futureRunning
	futureDone
)

// Future is the result handle of a submitted WorkUnit.
// Executors call MarkStarted and Resolve; everyone else only reads.
type Future struct {
	unitID string
	op     string

	mu      sync.Mutex
	state   futureState
	value   any
	err     error
	started chan struct{}
	done    chan struct{}
}

// NewFuture creates a pending future for unit.
func NewFuture(unit *WorkUnit) *Future {
	return &Future{
		unitID:  unit.ID,
		op:      unit.Op,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// UnitID returns the ID of the unit behind this future.
func (f *Future) UnitID() string { return f.unitID }

// Started is closed once a slot begins running the unit.
func (f *Future) Started() <-chan struct{} { return f.started }

// Done is closed once a result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// MarkStarted moves the future to running. It returns false when the future
// was already abandoned or resolved, in which case the unit must not run.
func (f *Future) MarkStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != futurePending {
		return false
	}
	f.state = futureRunning
	close(f.started)
	return true
}

// Resolve stores the outcome. Only the first call has an effect.
func (f *Future) Resolve(value any, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == futureDone {
		return false
	}
	f.state = futureDone
	f.value, f.err = value, err
	close(f.done)
	return true
}

// Abandon resolves a future that no slot has picked up yet with err, so the
// pool skips the unit when it reaches the head of the queue. It returns false
// once the unit is running or finished.
func (f *Future) Abandon(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != futurePending {
		return false
	}
	f.state = futureDone
	f.err = err
	close(f.done)
	return true
}

// Result blocks until the unit completes or timeout elapses. On timeout it
// fails with KindDeadlineExceeded; the unit keeps running in its slot.
// A non-positive timeout waits indefinitely.
func (f *Future) Result(timeout time.Duration) (any, error) {
	if timeout <= 0 {
		<-f.done
		return f.value, f.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		return nil, DeadlineError(f.op, timeout)
	}
}

// Wait blocks until the unit completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, AsError(f.op, ctx.Err())
	}
}

// Await is Result with the value asserted to T.
func Await[T any](f *Future, timeout time.Duration) (T, error) {
	var zero T
	v, err := f.Result(timeout)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, NewError(KindInternal, f.op, fmt.Sprintf("unexpected result type %T", v), nil)
	}
	return t, nil
}
