package ports

import (
	"context"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// UnitExecutor defines the port for submitting work units to an execution engine (like a worker pool).
// This decouples the relay and supervisor from the specific implementation of unit execution.
type UnitExecutor interface {
	// Submit queues a unit for execution.
	// Implementations block while internal capacity is reached, until ctx is done.
	// ctx is also the context the unit runs with.
	Submit(ctx context.Context, unit *domain.WorkUnit) (*domain.Future, error)

	// Stop shuts down the executor. Queued units resolve with domain.ErrPoolClosed.
	Stop()
}
