// Package scheduler implements the cooperative, run-to-completion task
// loop: an ordered list of callbacks, each returning Ok (work done),
// Noop (nothing to do), Eagain (yield: abort this pass, retry from the
// top next tick), or an error code (logged, pass continues). Ordering
// is the caller's responsibility; controller wires sensor_tick ->
// heater_tick -> command_dispatch per spec.
package scheduler

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/bdube/extruderfin/status"
)

// Task is one run-to-completion callback. Implementations must not
// block: a Tick call should do at most one sensor sample, one PID
// computation, or one parsed command before returning.
type Task interface {
	Name() string
	Tick() status.Code
}

// TaskFunc adapts a bare function to Task.
type TaskFunc struct {
	TaskName string
	Fn       func() status.Code
}

func (f TaskFunc) Name() string      { return f.TaskName }
func (f TaskFunc) Tick() status.Code { return f.Fn() }

// rateLimited decorates a Task so it yields (Eagain) instead of running
// when called faster than limiter allows, rather than dropping the
// work: a request arriving over the limit is retried next pass, not
// discarded.
type rateLimited struct {
	inner   Task
	limiter *rate.Limiter
}

// RateLimited wraps task so its Tick is gated by limiter. Grounded in
// the Lakeshore 332's documented "< 20 commands per second" constraint:
// command_dispatch is the one task in this loop that talks to an
// external line-speed client, so it is the one task worth metering.
func RateLimited(task Task, limiter *rate.Limiter) Task {
	return &rateLimited{inner: task, limiter: limiter}
}

func (r *rateLimited) Name() string { return r.inner.Name() }

func (r *rateLimited) Tick() status.Code {
	if !r.limiter.Allow() {
		return status.Eagain
	}
	return r.inner.Tick()
}

// DefaultDispatchRate is the default command_dispatch token-bucket rate:
// 20 requests/second, burst 1.
var DefaultDispatchRate = rate.NewLimiter(rate.Limit(20), 1)

// Loop runs an ordered list of Tasks, one pass per tick.
type Loop struct {
	tasks []Task
}

// NewLoop returns a Loop that runs tasks, in order, on every Pass.
func NewLoop(tasks ...Task) *Loop {
	return &Loop{tasks: tasks}
}

// Pass runs every task once, in order. A task returning Eagain aborts
// the remainder of the pass immediately (the scheduler's single
// suspension point); anything else (Ok, Noop, or an error code) falls
// through to the next task, with error codes logged rather than
// silently swallowed.
func (l *Loop) Pass() status.Code {
	for _, t := range l.tasks {
		code := t.Tick()
		if code == status.Eagain {
			return code
		}
		if code.IsError() {
			log.Printf("scheduler: task %q returned %s", t.Name(), code)
		}
	}
	return status.Ok
}

// Run calls Pass once per period until ctx is done.
func (l *Loop) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Pass()
		}
	}
}
