// Command kestrelserver is a thin cobra launcher binding flags onto
// pkg/config.Config, registering a couple of demo routes, and running
// the pkg/kestrel facade until a shutdown signal arrives. It is not a
// general handler-authoring harness — applications embed pkg/kestrel
// directly and register their own routes; this binary exists to
// exercise the facade end-to-end.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	units "github.com/docker/go-units"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kestrel-run/kestrel/pkg/config"
	"github.com/kestrel-run/kestrel/pkg/httpwire"
	"github.com/kestrel-run/kestrel/pkg/kestrel"
	"github.com/kestrel-run/kestrel/pkg/logging"
	"github.com/kestrel-run/kestrel/pkg/reactor"
)

var log = logrus.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port           int
		bindAddress    string
		workers        int
		readTimeout    string
		maxHeaderBytes string
		maxBodyBytes   string
		keepAlive      bool
		allowedOrigins []string
		execAfterStart string
	)

	c := &cobra.Command{
		Use:   "kestrelserver",
		Short: "Run a minimal kestrel HTTP server exercising the facade",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []config.Option{
				config.WithPort(port),
				config.WithBindAddress(bindAddress),
				config.WithWorkers(workers),
				config.WithKeepAlive(keepAlive),
				config.WithAllowedOrigins(allowedOrigins),
			}
			if readTimeout != "" {
				d, err := time.ParseDuration(readTimeout)
				if err != nil {
					return fmt.Errorf("invalid --read-timeout: %w", err)
				}
				opts = append(opts, config.WithReadTimeout(d))
			}
			if maxHeaderBytes != "" {
				n, err := units.RAMInBytes(maxHeaderBytes)
				if err != nil {
					return fmt.Errorf("invalid --max-header-bytes: %w", err)
				}
				opts = append(opts, config.WithMaxHeaderBytes(int(n)))
			}
			if maxBodyBytes != "" {
				n, err := units.RAMInBytes(maxBodyBytes)
				if err != nil {
					return fmt.Errorf("invalid --max-body-bytes: %w", err)
				}
				opts = append(opts, config.WithMaxBodyBytes(int(n)))
			}

			cfg := config.New(opts...)
			log.Infof("kestrelserver: %s", cfg.Describe())

			builder := kestrel.NewBuilder(cfg).WithLogger(logging.Wrap(log))
			if err := registerDemoRoutes(builder); err != nil {
				return fmt.Errorf("register demo routes: %w", err)
			}

			srv, err := builder.Build()
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}

			if execAfterStart != "" {
				if err := runAfterStartHook(execAfterStart); err != nil {
					log.WithError(err).Warn("exec-after-start hook failed")
				}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := srv.StartBlocking(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			log.Info("kestrelserver: stopped")
			return nil
		},
	}

	flags := c.Flags()
	flags.IntVar(&port, "port", 8080, "listen port")
	flags.StringVar(&bindAddress, "bind", "0.0.0.0", "bind address")
	flags.IntVar(&workers, "workers", 0, "task runtime worker count (0 = platform default)")
	flags.StringVar(&readTimeout, "read-timeout", "", "idle read timeout, e.g. 30s (default: config default)")
	flags.StringVar(&maxHeaderBytes, "max-header-bytes", "", "max header block size, e.g. 8KiB")
	flags.StringVar(&maxBodyBytes, "max-body-bytes", "", "max request body size, e.g. 1MiB")
	flags.BoolVar(&keepAlive, "keep-alive", false, "reuse connections for more than one request")
	flags.StringSliceVar(&allowedOrigins, "allowed-origin", nil, "CORS origin to allow (repeatable, \"*\" for any)")
	flags.StringVar(&execAfterStart, "exec-after-start", "", "shell-like command line to start once the server is built, just before it begins listening")

	return c
}

// registerDemoRoutes wires the two routes this binary exists to
// exercise: a liveness probe and a path-parameter echo.
func registerDemoRoutes(b *kestrel.Builder) error {
	if err := b.Handle("GET", "/healthz", reactor.Handler(func(req *httpwire.Request) *httpwire.ResponseBuilder {
		return httpwire.NewResponseBuilder().Status(200).BodyString("ok")
	})); err != nil {
		return err
	}
	return b.Handle("GET", "/echo/:id", reactor.Handler(func(req *httpwire.Request) *httpwire.ResponseBuilder {
		return httpwire.NewResponseBuilder().Status(200).BodyString(req.PathParams["id"])
	}))
}

// runAfterStartHook tokenizes cmdline with go-shellwords — the one
// place this binary needs safe shell-like argument splitting, since
// --exec-after-start accepts an arbitrary operator-supplied command —
// and execs it detached. RunE calls it after Build and before
// StartBlocking, so the command starts before the listening socket is
// bound and is not sequenced after the server accepts connections.
// Generalized from the teacher's hand-rolled quote-aware
// splitter (main.go's splitArgs, used for LLAMA_ARGS) into the pack's
// go-shellwords library.
func runAfterStartHook(cmdline string) error {
	args, err := shellwords.Parse(cmdline)
	if err != nil {
		return fmt.Errorf("parse --exec-after-start: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
