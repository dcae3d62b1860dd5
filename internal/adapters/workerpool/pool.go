package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
	"github.com/ZanzyTHEbar/visionrelay/internal/ports"
	"github.com/ZanzyTHEbar/visionrelay/internal/utils"
)

const (
	defaultWorkers   = 5
	defaultQueueSize = 100
)

var _ ports.UnitExecutor = (*WorkerPool)(nil)

// SlotInfo is a snapshot of one execution slot.
type SlotInfo struct {
	ID     int       `json:"id"`
	Busy   bool      `json:"busy"`
	UnitID string    `json:"unit_id,omitempty"`
	Op     string    `json:"op,omitempty"`
	Since  time.Time `json:"since,omitzero"`
}

// Stats is a snapshot of pool occupancy and counters.
type Stats struct {
	Size      int    `json:"size"`
	Busy      int    `json:"busy"`
	Queued    int    `json:"queued"`
	QueueCap  int    `json:"queue_capacity"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Abandoned uint64 `json:"abandoned"`
}

// queued is a unit waiting for a slot.
type queued struct {
	unit    *domain.WorkUnit
	fut     *domain.Future
	ctx     context.Context
	timer   *time.Timer
	stopCtx func() bool
}

// release disarms the start timeout and the context watcher.
func (q *queued) release() {
	if q.timer != nil {
		q.timer.Stop()
	}
	if q.stopCtx != nil {
		q.stopCtx()
	}
}

// WorkerPool runs work units on a fixed set of slots, in submission order.
type WorkerPool struct {
	size     int
	queue    chan *queued
	stopChan chan struct{}
	ctx      context.Context // canceled by Stop; parent of every running unit
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      zerolog.Logger
	bus      domain.Publisher

	submitMu sync.RWMutex // held shared by Submit, exclusively by Stop
	closed   atomic.Bool
	stopOnce sync.Once

	mu    sync.Mutex // protects slots
	slots []SlotInfo

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	abandoned atomic.Uint64
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithLogger sets the pool logger.
func WithLogger(l zerolog.Logger) Option {
	return func(wp *WorkerPool) { wp.log = l }
}

// WithPublisher publishes unit lifecycle events to bus.
func WithPublisher(bus domain.Publisher) Option {
	return func(wp *WorkerPool) {
		if bus != nil {
			wp.bus = bus
		}
	}
}

// NewWorkerPool creates a pool with size slots and a FIFO queue holding up to
// queueSize waiting units. Slots start immediately.
func NewWorkerPool(size, queueSize int, opts ...Option) (*WorkerPool, error) {
	if size < 0 || queueSize < 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "workerpool.new",
			fmt.Sprintf("invalid pool dimensions: size=%d queue=%d", size, queueSize), nil)
	}
	if size == 0 {
		size = defaultWorkers
	}
	if queueSize == 0 {
		queueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	wp := &WorkerPool{
		size:     size,
		queue:    make(chan *queued, queueSize),
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		log:      zerolog.Nop(),
		bus:      domain.NopPublisher,
		slots:    make([]SlotInfo, size),
	}
	for _, opt := range opts {
		opt(wp)
	}

	wp.log.Info().Int("workers", size).Int("queue_size", queueSize).Msg("Initializing worker pool")

	for i := range size {
		wp.slots[i].ID = i
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return wp, nil
}

// Submit queues unit and returns its future. It blocks while the queue is
// full, until ctx is done, the unit's StartTimeout passes or the pool stops.
// ctx is also the parent context the unit runs with.
func (wp *WorkerPool) Submit(ctx context.Context, unit *domain.WorkUnit) (*domain.Future, error) {
	if err := unit.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	wp.submitMu.RLock()
	defer wp.submitMu.RUnlock()
	if wp.closed.Load() {
		return nil, poolClosed(unit.Op)
	}

	if unit.ID == "" {
		unit.ID = utils.GenerateUnitID()
	}
	unit.SubmittedAt = time.Now()
	fut := domain.NewFuture(unit)
	item := &queued{unit: unit, fut: fut, ctx: ctx}

	// Both watchers only abandon; the slot that finally dequeues the unit
	// skips it and records the outcome.
	enqueueCtx := ctx
	if unit.StartTimeout > 0 {
		d := unit.StartTimeout
		item.timer = time.AfterFunc(d, func() {
			fut.Abandon(domain.DeadlineError(unit.Op, d))
		})
		var cancel context.CancelFunc
		enqueueCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	item.stopCtx = context.AfterFunc(ctx, func() {
		fut.Abandon(domain.AsError(unit.Op, ctx.Err()))
	})

	select {
	case wp.queue <- item:
	case <-enqueueCtx.Done():
		item.release()
		if ctx.Err() == nil {
			err := domain.DeadlineError(unit.Op, unit.StartTimeout)
			fut.Abandon(err)
			return nil, err
		}
		return nil, domain.AsError(unit.Op, ctx.Err())
	case <-wp.stopChan:
		item.release()
		return nil, poolClosed(unit.Op)
	}

	wp.submitted.Add(1)
	wp.publish(domain.TopicUnitSubmitted, domain.UnitEvent{
		UnitID: unit.ID,
		Op:     unit.Op,
		Slot:   -1,
		Status: domain.Pending,
	})
	wp.log.Debug().Str("unit", unit.ID).Str("op", unit.Op).Int("queued", len(wp.queue)).Msg("unit submitted")
	return fut, nil
}

// worker is the execution loop for a single slot.
func (wp *WorkerPool) worker(slot int) {
	defer wp.wg.Done()
	for {
		select {
		case item := <-wp.queue:
			wp.execute(slot, item)
		case <-wp.stopChan:
			return
		}
	}
}

func (wp *WorkerPool) execute(slot int, item *queued) {
	item.release()
	unit, fut := item.unit, item.fut
	waited := time.Since(unit.SubmittedAt)

	if wp.closed.Load() {
		fut.Abandon(poolClosed(unit.Op))
	}
	if !fut.MarkStarted() {
		_, err := fut.Result(0)
		wp.abandoned.Add(1)
		wp.publish(domain.TopicUnitFailed, domain.UnitEvent{
			UnitID: unit.ID,
			Op:     unit.Op,
			Slot:   slot,
			Status: domain.Abandoned,
			Waited: waited,
			Err:    err,
		})
		wp.log.Debug().Str("unit", unit.ID).Str("op", unit.Op).Err(err).Msg("skipping abandoned unit")
		return
	}

	wp.occupy(slot, unit)
	defer wp.vacate(slot)
	wp.publish(domain.TopicUnitStarted, domain.UnitEvent{
		UnitID: unit.ID,
		Op:     unit.Op,
		Slot:   slot,
		Status: domain.Running,
		Waited: waited,
	})

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if unit.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(item.ctx, unit.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(item.ctx)
	}
	stop := context.AfterFunc(wp.ctx, cancel)

	start := time.Now()
	value, err := wp.run(runCtx, unit)
	elapsed := time.Since(start)
	if err != nil && unit.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded {
		err = domain.DeadlineError(unit.Op, unit.Timeout)
	}
	stop()
	cancel()

	ev := domain.UnitEvent{
		UnitID:   unit.ID,
		Op:       unit.Op,
		Slot:     slot,
		Waited:   waited,
		Duration: elapsed,
	}
	if err != nil {
		err = domain.AsError(unit.Op, err)
		wp.failed.Add(1)
		ev.Status, ev.Err = domain.Failed, err
		fut.Resolve(nil, err)
		wp.publish(domain.TopicUnitFailed, ev)
		wp.log.Debug().Str("unit", unit.ID).Str("op", unit.Op).Int("slot", slot).Err(err).
			Msgf("unit failed after %s", utils.FormatDuration(elapsed))
		return
	}
	wp.completed.Add(1)
	ev.Status = domain.Completed
	fut.Resolve(value, nil)
	wp.publish(domain.TopicUnitCompleted, ev)
	wp.log.Debug().Str("unit", unit.ID).Str("op", unit.Op).Int("slot", slot).
		Msgf("unit completed in %s", utils.FormatDuration(elapsed))
}

// run executes the unit and turns a panic into a KindInternal error.
func (wp *WorkerPool) run(ctx context.Context, unit *domain.WorkUnit) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.log.Error().Str("unit", unit.ID).Str("op", unit.Op).
				Interface("panic", r).Bytes("stack", debug.Stack()).Msg("unit panicked")
			err = domain.NewError(domain.KindInternal, unit.Op, fmt.Sprintf("unit panicked: %v", r), nil)
		}
	}()
	return unit.Run(ctx)
}

// Stop shuts the pool down. Running units see their context canceled and
// are waited for; queued units resolve with domain.ErrPoolClosed.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.log.Info().Int("workers", wp.size).Int("queued", len(wp.queue)).Msg("Worker pool stopping")
		wp.closed.Store(true)
		close(wp.stopChan)
		wp.cancel()

		// Submit holds submitMu shared; once the write lock is granted every
		// Submit that passed the closed check has finished enqueueing.
		wp.submitMu.Lock()
		wp.submitMu.Unlock()

		wp.wg.Wait()
		for {
			select {
			case item := <-wp.queue:
				item.release()
				err := poolClosed(item.unit.Op)
				if item.fut.Abandon(err) {
					wp.abandoned.Add(1)
					wp.publish(domain.TopicUnitFailed, domain.UnitEvent{
						UnitID: item.unit.ID,
						Op:     item.unit.Op,
						Slot:   -1,
						Status: domain.Abandoned,
						Waited: time.Since(item.unit.SubmittedAt),
						Err:    err,
					})
				}
			default:
				wp.log.Info().Uint64("completed", wp.completed.Load()).Uint64("failed", wp.failed.Load()).
					Msg("Worker pool stopped")
				return
			}
		}
	})
}

// Size returns the number of slots.
func (wp *WorkerPool) Size() int { return wp.size }

// Stats returns current occupancy and counters.
func (wp *WorkerPool) Stats() Stats {
	wp.mu.Lock()
	busy := 0
	for _, s := range wp.slots {
		if s.Busy {
			busy++
		}
	}
	wp.mu.Unlock()

	return Stats{
		Size:      wp.size,
		Busy:      busy,
		Queued:    len(wp.queue),
		QueueCap:  cap(wp.queue),
		Submitted: wp.submitted.Load(),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
		Abandoned: wp.abandoned.Load(),
	}
}

// Slots returns a copy of every slot's state.
func (wp *WorkerPool) Slots() []SlotInfo {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	out := make([]SlotInfo, len(wp.slots))
	copy(out, wp.slots)
	return out
}

func (wp *WorkerPool) occupy(slot int, unit *domain.WorkUnit) {
	wp.mu.Lock()
	wp.slots[slot] = SlotInfo{ID: slot, Busy: true, UnitID: unit.ID, Op: unit.Op, Since: time.Now()}
	wp.mu.Unlock()
}

func (wp *WorkerPool) vacate(slot int) {
	wp.mu.Lock()
	wp.slots[slot] = SlotInfo{ID: slot}
	wp.mu.Unlock()
}

func (wp *WorkerPool) publish(topic string, ev domain.UnitEvent) {
	wp.bus.Publish(domain.NewEvent(topic, ev))
}

func poolClosed(op string) error {
	return domain.NewError(domain.KindPoolClosed, op, "worker pool stopped", nil)
}
