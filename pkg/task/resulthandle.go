package task

import "context"

// ResultHandle is a single-slot rendezvous carrying a task's final
// outcome. It is safe to read from multiple goroutines; the value is set
// at most once, matching a plain future/promise.
type ResultHandle struct {
	done  chan struct{}
	value any
	err   error
	set   bool
}

func newResultHandle() *ResultHandle {
	return &ResultHandle{done: make(chan struct{})}
}

// resolve stores the outcome and unblocks every waiter. Only the first call
// has any effect; subsequent calls are no-ops, enforcing the single-slot
// invariant without an extra lock on the hot path.
func (h *ResultHandle) resolve(value any, err error) {
	if h.set {
		return
	}
	h.set = true
	h.value, h.err = value, err
	close(h.done)
}

// Wait blocks until the task completes or ctx is done, whichever comes
// first.
func (h *ResultHandle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryGet returns the outcome without blocking, reporting whether the
// task had already completed.
func (h *ResultHandle) TryGet() (value any, err error, ready bool) {
	select {
	case <-h.done:
		return h.value, h.err, true
	default:
		return nil, nil, false
	}
}

// Done exposes the completion channel directly, for callers composing
// their own select statements (e.g. the reactor waiting on several
// handles and its own readiness channel at once).
func (h *ResultHandle) Done() <-chan struct{} {
	return h.done
}
