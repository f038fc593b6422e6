// Package dispatch runs best-effort side effects (notifications, audit
// appends) after the primary write has committed. Enqueueing never blocks
// and a task failure never reaches the caller that enqueued it.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

type Task func(ctx context.Context) error

type job struct {
	name string
	ctx  context.Context
	run  Task
}

// DefaultTimeout bounds a task when New is given no usable timeout.
const DefaultTimeout = 10 * time.Second

type Dispatcher struct {
	queue   chan job
	timeout time.Duration
	logger  observability.Logger
	g       errgroup.Group

	mu     sync.RWMutex
	closed bool
}

func New(workers, queueSize int, timeout time.Duration, logger observability.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{
		queue:   make(chan job, queueSize),
		timeout: timeout,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		d.g.Go(d.work)
	}
	return d
}

// Dispatch queues task. The task keeps the values of ctx (trace, request
// id) but not its cancellation. It returns false when the task was dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, task Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(name, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- job{name: name, ctx: context.WithoutCancel(ctx), run: task}:
		return true
	default:
		d.drop(name, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(name, reason string) {
	observability.DispatchDropped.Inc()
	d.logger.WithField("task", name).Warn("side effect dropped: " + reason)
}

// Close stops accepting tasks and waits for queued ones, or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() error {
	for j := range d.queue {
		d.run(j)
	}
	return nil
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("task", j.name).Error(fmt.Sprintf("side effect panicked: %v", r))
		}
	}()
	if err := j.run(ctx); err != nil {
		d.logger.WithField("task", j.name).WithError(err).Error("side effect failed")
	}
}
