// Package task implements kestrel's worker pool: a fixed set of worker
// goroutines that poll heap-allocated tasks to completion, isolating
// panics per task and re-queuing parked tasks when their waker fires.
// The shape — a bounded channel of runnable ids, N workers draining it,
// every poll wrapped in its own recover — is grounded on the
// panic-isolation pattern in the pack's own event-loop implementation,
// generalized from one loop goroutine to a fixed pool of them.
package task

import (
	"context"
	"sync/atomic"

	"github.com/kestrel-run/kestrel/pkg/concurrent"
	"github.com/kestrel-run/kestrel/pkg/logging"
	"github.com/kestrel-run/kestrel/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Runtime is the fixed worker pool. Zero value is not usable; construct
// with New.
type Runtime struct {
	log     logging.Logger
	metrics *metrics.Registry
	workers int

	queue   chan uint64
	tasks   *concurrent.Map[uint64, *Task]
	nextID  atomic.Uint64
	started atomic.Bool
	closing atomic.Bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a Runtime with the given worker count. A non-positive
// count is treated as 1; callers typically source the count from
// pkg/platform.DefaultParallelism. m may be nil, since every Registry
// method is nil-safe.
func New(workers int, log logging.Logger, m *metrics.Registry) *Runtime {
	if workers <= 0 {
		workers = 1
	}
	return &Runtime{
		log:     log,
		metrics: m,
		workers: workers,
		queue:   make(chan uint64, workers*64),
		tasks:   concurrent.New[uint64, *Task](log),
	}
}

// Start launches the worker goroutines. It is safe to call at most
// once; subsequent calls return an error without starting anything.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	r.group = group

	for i := 0; i < r.workers; i++ {
		id := i
		group.Go(func() error {
			r.runWorker(gctx, id)
			return nil
		})
	}
	return nil
}

// Shutdown requests every worker to stop after draining its current
// task, then waits for them to exit or ctx to expire. Parked tasks that
// never wake again are abandoned in the slab; their ResultHandles never
// resolve, matching cooperative-only cancellation.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	// Unblock any worker parked on an empty queue read.
	for i := 0; i < r.workers; i++ {
		select {
		case r.queue <- sentinelID:
		default:
		}
	}

	done := make(chan error, 1)
	go func() { done <- r.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sentinelID is never a real task id (ids start at 1); workers treat it
// as a wakeup-only no-op, used to unstick a queue read during shutdown.
const sentinelID = 0

func (r *Runtime) runWorker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			if id == sentinelID {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			r.runOnce(id)
		}
	}
}

// Spawn registers poll as a new task and returns the handle its result
// will be delivered to. The task is queued for its first poll
// immediately.
func (r *Runtime) Spawn(poll PollFunc) *ResultHandle {
	id := r.nextID.Add(1)
	result := newResultHandle()
	t := &Task{id: id, poll: poll, result: result, rt: r}
	t.state.Store(int32(stateQueued))
	r.tasks.Insert(id, t)
	r.enqueue(id)
	return result
}

// SpawnFunc wraps a plain function that runs to completion in one step
// (no suspension) as a task — the common case for dispatching a handler
// that does not itself await anything.
func (r *Runtime) SpawnFunc(fn func() (any, error)) *ResultHandle {
	return r.Spawn(func(_ *Waker) (bool, any, error) {
		v, err := fn()
		return true, v, err
	})
}

func (r *Runtime) enqueue(id uint64) {
	select {
	case r.queue <- id:
	default:
		// Queue momentarily full: don't block the caller (which may be a
		// worker mid-poll, or the reactor thread). A background send
		// preserves the at-least-once delivery of the wakeup.
		go func() { r.queue <- id }()
	}
}

// wake implements the Waker contract described in task.go: collapse
// duplicate wakes that arrive while the task is already running into a
// single re-poll, and otherwise move an idle task straight to queued.
func (r *Runtime) wake(id uint64) {
	t, ok := r.tasks.Get(id)
	if !ok {
		return // task already completed or was never spawned
	}
	for {
		s := state(t.state.Load())
		switch s {
		case stateIdle:
			if t.state.CompareAndSwap(int32(stateIdle), int32(stateQueued)) {
				r.metrics.DecTasksParked()
				r.enqueue(id)
				return
			}
		case stateQueued, stateRunningRewake:
			return // already queued / already scheduled to re-run
		case stateRunning:
			if t.state.CompareAndSwap(int32(stateRunning), int32(stateRunningRewake)) {
				return
			}
		}
	}
}

// runOnce dequeues and polls task id exactly once to a parked or
// finished state, looping internally only to absorb a rewake that
// landed during the poll (so a wake is never dropped, and the task is
// never polled by two workers at once).
func (r *Runtime) runOnce(id uint64) {
	t, ok := r.tasks.Get(id)
	if !ok {
		return
	}
	t.state.Store(int32(stateRunning))

	for {
		done, result, err := r.pollOnce(t)
		if done {
			t.result.resolve(result, err)
			r.tasks.Remove(id)
			return
		}

		if t.state.CompareAndSwap(int32(stateRunningRewake), int32(stateRunning)) {
			continue // woken during this poll; run again immediately
		}
		if t.state.CompareAndSwap(int32(stateRunning), int32(stateIdle)) {
			r.metrics.IncTasksParked()
		}
		return // parked; a future Wake() re-queues it
	}
}

func (r *Runtime) pollOnce(t *Task) (done bool, result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.log != nil {
				r.log.Component("task").WithField("task_id", t.id).Errorf("task panicked: %v", rec)
			}
			done = true
			result = nil
			err = newPanicError(rec)
		}
	}()
	return t.poll(t.waker())
}

func (t *Task) waker() *Waker {
	return &Waker{id: t.id, rt: t.rt}
}
