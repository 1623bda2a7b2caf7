package reactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kestrel-run/kestrel/pkg/concurrent"
	"github.com/kestrel-run/kestrel/pkg/diagbuf"
	"github.com/kestrel-run/kestrel/pkg/httpwire"
	"github.com/kestrel-run/kestrel/pkg/internal/utils"
	"github.com/kestrel-run/kestrel/pkg/logging"
	"github.com/kestrel-run/kestrel/pkg/metrics"
	"github.com/kestrel-run/kestrel/pkg/routing"
	"github.com/kestrel-run/kestrel/pkg/task"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

const (
	pollTimeoutMs     = 1000
	idleSweepInterval = 30 * time.Second
	emfileBackoff     = 10 * time.Millisecond
	maxAcceptsPerWake = 256
	readChunkSize     = 4096
)

// Options configures a Reactor. Router and Runtime are required; the
// rest have usable zero values.
type Options struct {
	BindAddress string
	Port        int
	Router      *routing.Router
	Runtime     *task.Runtime
	Log         logging.Logger
	Metrics     *metrics.Registry
	Diag        *diagbuf.Buffer
	Limits      httpwire.Limits
	ReadTimeout time.Duration
	KeepAlive   bool
}

// Reactor is the single-goroutine readiness loop. Construct with New,
// then Start; Shutdown stops it and closes every owned fd.
type Reactor struct {
	opts   Options
	poller poller

	listenFD             int
	selfPipeR, selfPipeW int
	conns                *concurrent.Map[int, *conn]
	responses            chan responseMsg
	shuttingDown         atomic.Bool
	stopped              chan struct{}

	// bodySem bounds the aggregate bytes any connection may hold in
	// readBuf past bodySemThreshold, across all connections at once, so
	// a burst of large-bodied requests cannot grow memory unboundedly.
	bodySem          *semaphore.Weighted
	bodySemThreshold int64
}

type responseMsg struct {
	fd         int
	data       []byte
	closeAfter bool
}

// New constructs a Reactor. Start must be called before it does
// anything.
func New(opts Options) *Reactor {
	if opts.Limits == (httpwire.Limits{}) {
		opts.Limits = httpwire.DefaultLimits()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	budget := int64(opts.Limits.MaxBodyBytes) * 64
	if budget <= 0 {
		budget = 64 << 20
	}
	return &Reactor{
		opts:             opts,
		conns:            concurrent.New[int, *conn](opts.Log),
		responses:        make(chan responseMsg, 1024),
		stopped:          make(chan struct{}),
		bodySem:          semaphore.NewWeighted(budget),
		bodySemThreshold: int64(readChunkSize),
	}
}

// ListenPort returns the port the listening socket is bound to, useful
// when Options.Port was 0 and the kernel chose an ephemeral one.
func (r *Reactor) ListenPort() (int, error) {
	sa, err := unix.Getsockname(r.listenFD)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	default:
		return 0, fmt.Errorf("reactor: unexpected sockaddr type %T", sa)
	}
}

func (r *Reactor) log() logging.Logger {
	if r.opts.Log == nil {
		return nil
	}
	return r.opts.Log.Component("reactor")
}

func (r *Reactor) diagf(format string, args ...any) {
	if r.opts.Diag != nil {
		fmt.Fprintf(r.opts.Diag, format, args...)
	}
}

// Start binds the listening socket, registers it and a self-pipe with
// the poller, and runs the reactor loop on a new goroutine. It returns
// once bind/listen/register have succeeded; the loop itself runs until
// Shutdown or ctx is cancelled.
func (r *Reactor) Start(ctx context.Context) error {
	p, err := newPoller()
	if err != nil {
		return fmt.Errorf("reactor: create poller: %w", err)
	}
	r.poller = p

	fd, err := bindListen(r.opts.BindAddress, r.opts.Port)
	if err != nil {
		return fmt.Errorf("reactor: bind/listen: %w", err)
	}
	r.listenFD = fd
	if err := r.poller.Register(fd, true, false); err != nil {
		return fmt.Errorf("reactor: register listener: %w", err)
	}

	rfd, wfd, err := selfPipe()
	if err != nil {
		return fmt.Errorf("reactor: create self-pipe: %w", err)
	}
	r.selfPipeR, r.selfPipeW = rfd, wfd
	if err := r.poller.Register(rfd, true, false); err != nil {
		return fmt.Errorf("reactor: register self-pipe: %w", err)
	}

	go r.loop(ctx)
	return nil
}

// Shutdown requests the loop stop, wakes it immediately via the
// self-pipe, and waits for it to finish closing every connection (or
// for ctx to expire first).
func (r *Reactor) Shutdown(ctx context.Context) error {
	r.shuttingDown.Store(true)
	r.wakeSelf()
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reactor) loop(ctx context.Context) {
	defer close(r.stopped)
	defer r.closeAll()

	events := make([]Event, minBatch)
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()

	for {
		if r.shuttingDown.Load() || ctx.Err() != nil {
			return
		}

		n, err := r.poller.Wait(events, pollTimeoutMs)
		if err != nil {
			if l := r.log(); l != nil {
				l.WithError(err).Error("poller wait failed")
			}
			continue
		}
		for i := 0; i < n; i++ {
			r.handleEvent(events[i])
		}
		r.drainResponses()

		select {
		case <-ticker.C:
			r.sweepIdle()
		default:
		}
	}
}

func (r *Reactor) handleEvent(e Event) {
	switch e.FD {
	case r.listenFD:
		r.acceptLoop()
		return
	case r.selfPipeR:
		r.drainSelfPipe()
		return
	}

	c, ok := r.conns.Get(e.FD)
	if !ok {
		return
	}
	if e.Error || e.Hangup {
		r.closeConn(e.FD)
		return
	}
	if e.Readable && c.state == StateReading {
		r.handleReadable(e.FD)
	}
	if e.Writable && c.state == StateWriting {
		r.handleWritable(e.FD)
	}
}

func (r *Reactor) acceptLoop() {
	for i := 0; i < maxAcceptsPerWake; i++ {
		fd, sa, err := acceptNonblock(r.listenFD)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EMFILE, unix.ENFILE:
				r.opts.Metrics.IncEMFILEBackoffs()
				r.diagf("reactor: accept backoff (EMFILE/ENFILE)\n")
				time.Sleep(emfileBackoff)
				return
			default:
				if l := r.log(); l != nil {
					l.WithError(err).Error("accept failed")
				}
				return
			}
		}

		remote := sockaddrString(sa)
		r.conns.Insert(fd, newConn(fd, remote))
		r.opts.Metrics.IncConnectionsActive()
		if err := r.poller.Register(fd, true, false); err != nil {
			if l := r.log(); l != nil {
				l.WithError(err).Error("register accepted fd failed")
			}
			r.closeConn(fd)
		}
	}
}

func (r *Reactor) handleReadable(fd int) {
	c, ok := r.conns.Get(fd)
	if !ok {
		return
	}
	data := c.readBuf
	heldWeight := c.heldWeight

	buf := make([]byte, readChunkSize)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			r.conns.Update(fd, func(cc *conn) *conn { return cc.withHeldWeight(heldWeight) })
			r.closeConn(fd)
			return
		}
		if n == 0 {
			r.conns.Update(fd, func(cc *conn) *conn { return cc.withHeldWeight(heldWeight) })
			r.closeConn(fd)
			return
		}
		data = append(data, buf[:n]...)
		if n < len(buf) {
			continue
		}
	}

	// Once buffered bytes cross bodySemThreshold, reserve the growth
	// against the shared body-memory budget so a burst of large-bodied
	// requests across many connections cannot grow heap usage without
	// bound; a connection that can't get a reservation is rejected
	// rather than left to buffer indefinitely. heldWeight is kept in
	// sync with the conn map entry at every return point below, so
	// closeConn's release of a connection's last-known heldWeight is
	// always accurate and never double-releases.
	if want := int64(len(data)); want > r.bodySemThreshold && want > heldWeight {
		delta := want - heldWeight
		if !r.bodySem.TryAcquire(delta) {
			r.conns.Update(fd, func(cc *conn) *conn { return cc.withHeldWeight(heldWeight) })
			r.dispatchRaw(fd, httpwire.Create(503, "server busy"), true)
			return
		}
		heldWeight = want
	}

	req, consumed, status, reason := httpwire.ParseRequest(data, r.opts.Limits)
	switch status {
	case httpwire.NeedMore:
		r.conns.Update(fd, func(cc *conn) *conn { return cc.withReadBuf(data).withHeldWeight(heldWeight) })
	case httpwire.Invalid:
		if heldWeight > 0 {
			r.bodySem.Release(heldWeight)
		}
		r.conns.Update(fd, func(cc *conn) *conn { return cc.withHeldWeight(0) })
		r.dispatchRaw(fd, errorResponseFor(reason), true)
	case httpwire.Complete:
		if heldWeight > 0 {
			r.bodySem.Release(heldWeight)
		}
		remaining := append([]byte(nil), data[consumed:]...)
		r.conns.Update(fd, func(cc *conn) *conn {
			nc := cc.withState(StateDispatched)
			nc.readBuf = remaining
			nc.heldWeight = 0
			return nc
		})
		if err := r.poller.Modify(fd, false, false); err != nil {
			if l := r.log(); l != nil {
				l.WithError(err).Warn("drop read interest failed")
			}
		}
		r.opts.Metrics.IncRequestsDispatched()
		r.dispatchHandler(fd, req)
	}
}

func (r *Reactor) dispatchHandler(fd int, req *httpwire.Request) {
	route, params, outcome, allowed := r.opts.Router.Match(req.Method, req.Path)
	switch outcome {
	case routing.NotFound:
		r.dispatchRaw(fd, httpwire.Create(404, "not found"), true)
		return
	case routing.MethodNotAllowed:
		resp := httpwire.NewResponseBuilder().
			Status(405).
			Header("allow", strings.Join(allowed, ", ")).
			BodyString("method not allowed").
			Build()
		r.dispatchRaw(fd, resp, true)
		return
	}

	req.PathParams = params
	handler, ok := route.Handler.(Handler)
	if !ok {
		r.dispatchRaw(fd, httpwire.Create(500, "internal server error"), true)
		return
	}

	r.opts.Metrics.IncTasksQueued()
	handle := r.opts.Runtime.SpawnFunc(func() (any, error) {
		return r.runHandler(handler, req)
	})

	go func() {
		v, err := handle.Wait(context.Background())
		r.opts.Metrics.DecTasksQueued()
		if err != nil {
			var pe *task.PanicError
			if errors.As(err, &pe) {
				r.opts.Metrics.IncHandlerPanics()
				r.diagf("reactor: handler panic on fd %d: %s\n", fd, utils.SanitizeForLog(pe.Payload))
			}
			r.queueResponse(fd, httpwire.Create(500, "internal server error"), true)
			return
		}
		data, _ := v.([]byte)
		r.queueResponse(fd, data, !r.opts.KeepAlive)
	}()
}

func (r *Reactor) runHandler(h Handler, req *httpwire.Request) ([]byte, error) {
	resp := h(req)
	if resp == nil {
		resp = httpwire.NewResponseBuilder().Status(204)
	}
	return resp.Build(), nil
}

// queueResponse is called from a handler-completion goroutine (not the
// reactor goroutine), so it hands the response to the reactor through
// the responses channel and wakes the poller rather than touching conns
// directly.
func (r *Reactor) queueResponse(fd int, data []byte, closeAfter bool) {
	msg := responseMsg{fd: fd, data: data, closeAfter: closeAfter}
	select {
	case r.responses <- msg:
	default:
		go func() { r.responses <- msg }()
	}
	r.wakeSelf()
}

// dispatchRaw is for responses the reactor goroutine itself decided on
// (parse errors, routing misses) — no round trip through the channel
// needed since we're already on the loop goroutine.
func (r *Reactor) dispatchRaw(fd int, data []byte, closeAfter bool) {
	r.applyResponse(responseMsg{fd: fd, data: data, closeAfter: closeAfter})
}

func (r *Reactor) drainResponses() {
	for {
		select {
		case msg := <-r.responses:
			r.applyResponse(msg)
		default:
			return
		}
	}
}

func (r *Reactor) applyResponse(msg responseMsg) {
	if _, ok := r.conns.Get(msg.fd); !ok {
		return
	}
	r.conns.Update(msg.fd, func(c *conn) *conn { return c.withResponse(msg.data, msg.closeAfter) })
	if err := r.poller.Modify(msg.fd, false, true); err != nil {
		if l := r.log(); l != nil {
			l.WithError(err).Warn("arm write interest failed")
		}
		r.closeConn(msg.fd)
	}
}

func (r *Reactor) handleWritable(fd int) {
	c, ok := r.conns.Get(fd)
	if !ok {
		return
	}

	for !c.writeDone() {
		n, err := unix.Write(fd, c.writeBuf[c.writeCursor:])
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			r.closeConn(fd)
			return
		}
		if n <= 0 {
			return
		}
		var updated *conn
		r.conns.Update(fd, func(cc *conn) *conn {
			updated = cc.withWriteAdvanced(n)
			return updated
		})
		c = updated
	}

	if c.closeAfter {
		r.closeConn(fd)
		return
	}

	r.conns.Update(fd, func(cc *conn) *conn { return cc.resetForNextRequest() })
	if err := r.poller.Modify(fd, true, false); err != nil {
		if l := r.log(); l != nil {
			l.WithError(err).Warn("rearm read interest failed")
		}
		r.closeConn(fd)
	}
}

func (r *Reactor) closeConn(fd int) {
	if removed, ok := r.conns.Remove(fd); ok {
		r.opts.Metrics.DecConnectionsActive()
		if removed.heldWeight > 0 {
			r.bodySem.Release(removed.heldWeight)
		}
	}
	_ = r.poller.Unregister(fd)
	_ = unix.Close(fd)
}

// sweepIdle drops connections that have been sitting in StateReading
// (no complete request yet) past the configured read timeout.
func (r *Reactor) sweepIdle() {
	cutoff := time.Now().Add(-r.opts.ReadTimeout)
	var stale []int
	var staleWeight []int64
	r.conns.RetainWith(func(fd int, c *conn) bool {
		if c.state == StateReading && c.lastActivity.Before(cutoff) {
			stale = append(stale, fd)
			staleWeight = append(staleWeight, c.heldWeight)
			return false
		}
		return true
	})
	for i, fd := range stale {
		_ = r.poller.Unregister(fd)
		_ = unix.Close(fd)
		r.opts.Metrics.DecConnectionsActive()
		if w := staleWeight[i]; w > 0 {
			r.bodySem.Release(w)
		}
	}
}

func (r *Reactor) closeAll() {
	var fds []int
	var weights []int64
	r.conns.RetainWith(func(fd int, c *conn) bool {
		fds = append(fds, fd)
		weights = append(weights, c.heldWeight)
		return false
	})
	for i, fd := range fds {
		_ = r.poller.Unregister(fd)
		_ = unix.Close(fd)
		r.opts.Metrics.DecConnectionsActive()
		if w := weights[i]; w > 0 {
			r.bodySem.Release(w)
		}
	}
	if r.listenFD != 0 {
		_ = r.poller.Unregister(r.listenFD)
		_ = unix.Close(r.listenFD)
	}
	if r.selfPipeR != 0 {
		_ = unix.Close(r.selfPipeR)
	}
	if r.selfPipeW != 0 {
		_ = unix.Close(r.selfPipeW)
	}
	_ = r.poller.Close()
}

func (r *Reactor) wakeSelf() {
	_, _ = unix.Write(r.selfPipeW, []byte{0})
}

func (r *Reactor) drainSelfPipe() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(r.selfPipeR, buf)
		if err != nil || n < len(buf) {
			return
		}
	}
}

func errorResponseFor(reason httpwire.InvalidReason) []byte {
	switch reason {
	case httpwire.ReasonHeaderTooLarge:
		return httpwire.Create(431, "request header fields too large")
	case httpwire.ReasonBodyTooLarge:
		return httpwire.Create(413, "payload too large")
	case httpwire.ReasonUnsupportedVersion:
		return httpwire.Create(505, "http version not supported")
	case httpwire.ReasonUnsupportedMethod:
		return httpwire.Create(501, "not implemented")
	default:
		return httpwire.Create(400, "bad request")
	}
}
