// Package kestrel is the server facade: it wires pkg/config,
// pkg/logging, pkg/metrics, pkg/routing, pkg/task, and pkg/reactor
// together behind a small Builder/Server API, following the teacher's
// main.go shutdown shape (wait for the signal context to be done, then
// shut down) generalized from wrapping *http.Server to wrapping the
// reactor and worker pool.
package kestrel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-run/kestrel/pkg/config"
	"github.com/kestrel-run/kestrel/pkg/diagbuf"
	"github.com/kestrel-run/kestrel/pkg/httpwire"
	"github.com/kestrel-run/kestrel/pkg/logging"
	"github.com/kestrel-run/kestrel/pkg/metrics"
	"github.com/kestrel-run/kestrel/pkg/middleware"
	"github.com/kestrel-run/kestrel/pkg/platform"
	"github.com/kestrel-run/kestrel/pkg/reactor"
	"github.com/kestrel-run/kestrel/pkg/routing"
	"github.com/kestrel-run/kestrel/pkg/task"
)

// Builder collects everything a Server needs before it can be built.
// Construct it with NewBuilder (the zero value has no router); call
// With* methods to configure it.
type Builder struct {
	cfg     config.Config
	log     logging.Logger
	metrics *metrics.Registry
	diag    *diagbuf.Buffer
	router  *routing.Router
}

// NewBuilder starts a Builder from cfg, defaulting Log to a discarding
// logger and Metrics/Diag to fresh, empty instances.
func NewBuilder(cfg config.Config) *Builder {
	return &Builder{
		cfg:     cfg,
		log:     logging.Discard(),
		metrics: metrics.New(),
		diag:    diagbuf.New(16 * 1024),
		router:  routing.New(),
	}
}

func (b *Builder) WithLogger(log logging.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithMetrics(reg *metrics.Registry) *Builder {
	b.metrics = reg
	return b
}

func (b *Builder) WithDiagBuffer(buf *diagbuf.Buffer) *Builder {
	b.diag = buf
	return b
}

// Handle registers a route. method is an HTTP verb, pattern may contain
// ":name" positional captures understood by pkg/routing. The handler is
// wrapped with CORS using the Builder's config.Config.AllowedOrigins;
// an empty/nil list disables CORS entirely and handler runs unwrapped.
func (b *Builder) Handle(method, pattern string, handler reactor.Handler) error {
	return b.router.Register(method, pattern, middleware.CORS(b.cfg.AllowedOrigins, handler))
}

// Server is a built, not-yet-started kestrel instance.
type Server struct {
	cfg     config.Config
	log     logging.Logger
	metrics *metrics.Registry
	diag    *diagbuf.Buffer
	runtime *task.Runtime
	reactor *reactor.Reactor
}

// Build constructs the reactor and task runtime from the builder's
// configuration without starting them.
func (b *Builder) Build() (*Server, error) {
	if b.cfg.Port == 0 {
		return nil, errors.New("kestrel: config.Port must be set")
	}

	workers := b.cfg.Workers
	if workers <= 0 {
		workers = platform.DefaultParallelism(b.log)
	}

	rt := task.New(workers, b.log, b.metrics)

	rc := reactor.New(reactor.Options{
		BindAddress: b.cfg.BindAddress,
		Port:        b.cfg.Port,
		Router:      b.router,
		Runtime:     rt,
		Log:         b.log,
		Metrics:     b.metrics,
		Diag:        b.diag,
		Limits: httpwire.Limits{
			MaxHeaderBytes: b.cfg.MaxHeaderBytes,
			MaxBodyBytes:   b.cfg.MaxBodyBytes,
		},
		ReadTimeout: b.cfg.ReadTimeout,
		KeepAlive:   b.cfg.KeepAlive,
	})

	return &Server{
		cfg:     b.cfg,
		log:     b.log,
		metrics: b.metrics,
		diag:    b.diag,
		runtime: rt,
		reactor: rc,
	}, nil
}

// Metrics returns the server's metrics registry, for wiring a /metrics
// route or an external scrape endpoint.
func (s *Server) Metrics() *metrics.Registry {
	return s.metrics
}

// Diagnostics returns a snapshot of the reactor's diagnostic tail
// buffer (EMFILE backoffs, handler panics).
func (s *Server) Diagnostics() []byte {
	return s.diag.Snapshot()
}

// StartBlocking starts the task runtime and reactor (the reactor loop
// runs on its own goroutine), then blocks until ctx is cancelled and
// calls Shutdown. It returns only once ctx is done: a Shutdown call from
// another goroutine stops the reactor and runtime but does not make
// StartBlocking return.
func (s *Server) StartBlocking(ctx context.Context) error {
	if err := s.runtime.Start(ctx); err != nil {
		return fmt.Errorf("kestrel: start task runtime: %w", err)
	}
	if err := s.reactor.Start(ctx); err != nil {
		return fmt.Errorf("kestrel: start reactor: %w", err)
	}

	if l := s.log; l != nil {
		l.WithField("addr", fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)).Info("kestrel: listening")
	}

	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// Shutdown stops the reactor and then the task runtime, both within one
// shared 10s deadline. The reactor does not drain in-flight connections:
// once its loop exits it closes every connection, including ones whose
// response has not been written yet. The runtime lets each worker finish
// the task it is polling.
func (s *Server) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	var errs []error
	if err := s.reactor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reactor shutdown: %w", err))
	}
	if err := s.runtime.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("task runtime shutdown: %w", err))
	}
	return errors.Join(errs...)
}
