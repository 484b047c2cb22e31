// Package postcommit runs best-effort side effects after a primary write has
// committed. Tasks execute one at a time in enqueue order; failures are
// logged and counted, never returned to the caller.
package postcommit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/observability"
)

// Task is one side effect.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher executes tasks on a single worker goroutine.
type Dispatcher struct {
	queue   chan queued
	timeout time.Duration
	inline  bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type queued struct {
	ctx      context.Context
	deadline time.Time
	task     Task
}

// New creates a Dispatcher with a queue of the given size. Each task gets its
// own timeout.
func New(buffer int, timeout time.Duration) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:   make(chan queued, buffer),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// NewInline creates a Dispatcher that runs each task synchronously inside
// Enqueue.
func NewInline(timeout time.Duration) *Dispatcher {
	d := New(1, timeout)
	d.inline = true
	return d
}

// Start launches the worker.
func (d *Dispatcher) Start() {
	if d.inline {
		return
	}
	d.wg.Add(1)
	go d.loop()
}

// Stop discards pending tasks and waits for the running one to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

// Enqueue schedules task. The task context keeps the values and the deadline
// of ctx (logger, request id, trace) but not its cancellation, so tasks
// outlive the response yet stop when the request deadline expires. A full
// queue blocks until ctx is done, then the task is dropped.
func (d *Dispatcher) Enqueue(ctx context.Context, task Task) {
	item := queued{ctx: context.WithoutCancel(ctx), task: task}
	if deadline, ok := ctx.Deadline(); ok {
		item.deadline = deadline
	}
	if d.inline {
		d.run(item)
		return
	}
	select {
	case <-d.done:
		logger.FromContext(ctx).Warn().Str("task", task.Name).Msg("post-commit dispatcher stopped, task dropped")
		return
	case d.queue <- item:
		return
	default:
	}
	select {
	case <-d.done:
		logger.FromContext(ctx).Warn().Str("task", task.Name).Msg("post-commit dispatcher stopped, task dropped")
	case <-ctx.Done():
		observability.IncPostCommitFailure(task.Name)
		logger.FromContext(ctx).Warn().Err(ctx.Err()).Str("task", task.Name).Msg("post-commit queue full, task dropped")
	case d.queue <- item:
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case item := <-d.queue:
			d.run(item)
		}
	}
}

func (d *Dispatcher) run(item queued) {
	ctx, cancel := context.WithTimeout(item.ctx, d.timeout)
	defer cancel()
	if !item.deadline.IsZero() {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, item.deadline)
		defer cancelDeadline()
	}
	if ctx.Err() != nil {
		observability.IncPostCommitFailure(item.task.Name)
		logger.FromContext(ctx).Warn().Err(ctx.Err()).Str("task", item.task.Name).Msg("request deadline passed, post-commit task dropped")
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return item.task.Run(ctx)
	}()
	if err != nil {
		observability.IncPostCommitFailure(item.task.Name)
		logger.FromContext(ctx).Error().Err(err).Str("task", item.task.Name).Msg("post-commit task failed")
	}
}
