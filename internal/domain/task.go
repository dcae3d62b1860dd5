package domain

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/visionrelay/internal/utils"
)

// UnitStatus defines the current state of a work unit.
type UnitStatus int

const (
	// Pending units are queued and waiting for a free slot.
	Pending UnitStatus = iota
	// Running units occupy a pool slot.
	Running
	// Completed units returned without error.
	Completed
	// Failed units returned an error, panicked or timed out.
	Failed
	// Abandoned units were given up by their submitter before a slot picked them up.
	Abandoned
)

func (s UnitStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// UnitFunc is the blocking operation carried by a WorkUnit.
type UnitFunc func(ctx context.Context) (any, error)

// WorkUnit is an opaque blocking operation handed to a pool.
// The submitter owns it until Submit returns; afterwards the executing slot does.
type WorkUnit struct {
	ID      string        // Unique identifier, generated when empty
	Op      string        // Operation identifier used in logs, events and metrics
	Timeout time.Duration // Run budget enforced on the unit's context; zero means none
	Run     UnitFunc

	// StartTimeout bounds the time between Submit and a slot picking the unit
	// up. Past it the unit is abandoned with KindDeadlineExceeded. Zero waits forever.
	StartTimeout time.Duration

	SubmittedAt time.Time
}

// NewWorkUnit creates a unit with a fresh ID.
func NewWorkUnit(op string, timeout time.Duration, run UnitFunc) *WorkUnit {
	return &WorkUnit{
		ID:      utils.GenerateUnitID(),
		Op:      op,
		Timeout: timeout,
		Run:     run,
	}
}

// Validate reports whether the unit can be executed.
func (u *WorkUnit) Validate() error {
	if u == nil || u.Run == nil {
		return NewError(KindInvalidInput, "", "work unit has no run function", nil)
	}
	return nil
}
