package task

import "sync/atomic"

// task lifecycle states. A task moves idle -> queued -> running, and
// from running either back to idle (parked, waiting on a future wake)
// or to runningRewake (a Wake() landed while it was being polled), in
// which case the same worker sets it back to running and polls it again
// at once rather than losing the wakeup.
type state int32

const (
	stateIdle state = iota
	stateQueued
	stateRunning
	stateRunningRewake
)

// PollFunc advances a task by one step. It returns done=true with the
// task's final result or error once the task has finished. It returns
// done=false when the task would block; before returning false it must
// arrange for w.Wake() to be called once the task can make progress
// again, or the task parks forever.
type PollFunc func(w *Waker) (done bool, result any, err error)

// Task is a unit of work tracked by the runtime: a poll function plus
// its scheduling state and the one-shot handle its result is delivered
// through. Tasks are stored in the runtime's slab keyed by an integer
// id rather than referenced directly by wakers, which avoids a
// task<->waker reference cycle. A task leaves the slab only when a poll
// finishes it; dropping its ResultHandle does not cancel or remove it,
// so a parked task stays in the slab until it is woken and completes.
type Task struct {
	id     uint64
	poll   PollFunc
	state  atomic.Int32
	result *ResultHandle
	rt     *Runtime
}

// Waker re-queues the task it was created for. Calling Wake after the
// task has already completed is a harmless no-op: the task is gone from
// the slab and the id is simply dropped.
type Waker struct {
	id uint64
	rt *Runtime
}

// Wake requests that this waker's task be polled again. Safe to call
// from any goroutine, any number of times, including concurrently with
// the task's own poll.
func (w *Waker) Wake() {
	w.rt.wake(w.id)
}
