package audiobook

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Processor runs a single job to a terminal status.
type Processor interface {
	Process(ctx context.Context, id uuid.UUID)
}

// Dispatcher runs each job in its own goroutine, at most limit at a time.
type Dispatcher struct {
	base context.Context
	proc Processor
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Jobs run under base, so cancelling it
// stops jobs that are still waiting for a slot.
func NewDispatcher(base context.Context, proc Processor, limit int) *Dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{
		base: base,
		proc: proc,
		sem:  semaphore.NewWeighted(int64(limit)),
	}
}

// Dispatch schedules id and returns immediately.
func (d *Dispatcher) Dispatch(id uuid.UUID) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(d.base, 1); err != nil {
			slog.Warn("job not started, dispatcher stopping", "job_id", id, "error", err)
			return
		}
		defer d.sem.Release(1)

		// Acquire may succeed on an already cancelled context.
		if err := d.base.Err(); err != nil {
			slog.Warn("job not started, dispatcher stopping", "job_id", id, "error", err)
			return
		}

		d.proc.Process(d.base, id)
	}()
}

// Wait blocks until every dispatched job has returned or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Scheduler = (*Dispatcher)(nil)
