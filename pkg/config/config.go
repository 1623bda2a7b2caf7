// Package config assembles the Server facade's configuration from
// functional options and environment variables, generalizing the
// teacher's ad hoc os.Getenv-with-fallback calls in main.go into one
// typed loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
)

// Config holds every value spec.md's external interface names as
// recognized configuration.
type Config struct {
	// Port is required; there is no default.
	Port int
	// BindAddress defaults to "0.0.0.0".
	BindAddress string
	// Workers defaults to the platform's reported parallelism when zero;
	// see pkg/platform.DefaultParallelism.
	Workers int
	// ReadTimeout bounds how long a connection may sit idle while a
	// request is being read. Default 30s.
	ReadTimeout time.Duration
	// MaxHeaderBytes bounds the request line + header block. Default
	// 8192, a known-small default carried over deliberately from the
	// source this library's design is based on.
	MaxHeaderBytes int
	// MaxBodyBytes bounds a request's declared Content-Length. Default
	// 1 MiB.
	MaxBodyBytes int
	// KeepAlive opts into reusing a connection for more than one
	// request. Default false: close after one response.
	KeepAlive bool
	// AllowedOrigins lists origins the CORS middleware should accept,
	// "*" meaning any. Nil disables CORS entirely.
	AllowedOrigins []string
}

// Option mutates a Config during assembly.
type Option func(*Config)

// Default returns a Config with every documented default applied except
// Port, which has none and must be set explicitly.
func Default() Config {
	return Config{
		BindAddress:    "0.0.0.0",
		ReadTimeout:    30 * time.Second,
		MaxHeaderBytes: 8192,
		MaxBodyBytes:   1 << 20,
		KeepAlive:      false,
	}
}

func WithPort(port int) Option                { return func(c *Config) { c.Port = port } }
func WithBindAddress(addr string) Option      { return func(c *Config) { c.BindAddress = addr } }
func WithWorkers(n int) Option                { return func(c *Config) { c.Workers = n } }
func WithReadTimeout(d time.Duration) Option  { return func(c *Config) { c.ReadTimeout = d } }
func WithMaxHeaderBytes(n int) Option         { return func(c *Config) { c.MaxHeaderBytes = n } }
func WithMaxBodyBytes(n int) Option           { return func(c *Config) { c.MaxBodyBytes = n } }
func WithKeepAlive(v bool) Option             { return func(c *Config) { c.KeepAlive = v } }
func WithAllowedOrigins(origins []string) Option {
	return func(c *Config) { c.AllowedOrigins = origins }
}

// New builds a Config from Default plus the given options.
func New(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Environment variable names recognized by FromEnv.
const (
	EnvPort           = "KESTREL_PORT"
	EnvBindAddress    = "KESTREL_BIND_ADDRESS"
	EnvWorkers        = "KESTREL_WORKERS"
	EnvReadTimeout    = "KESTREL_READ_TIMEOUT"
	EnvMaxHeaderBytes = "KESTREL_MAX_HEADER_BYTES"
	EnvMaxBodyBytes   = "KESTREL_MAX_BODY_BYTES"
	EnvKeepAlive      = "KESTREL_KEEP_ALIVE"
	EnvAllowedOrigins = "KESTREL_ALLOWED_ORIGINS"
)

// FromEnv builds a Config from Default, overridden by any recognized
// environment variables that are set. Byte-size variables
// (EnvMaxHeaderBytes, EnvMaxBodyBytes) accept either a bare integer or a
// human-readable size like "8KiB"/"1MiB", parsed with go-units'
// RAMInBytes — the same library the teacher depends on for size
// formatting elsewhere in its CLI surface.
func FromEnv() (Config, error) {
	c := Default()

	if v := os.Getenv(EnvPort); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: invalid %s: %w", EnvPort, err)
		}
		c.Port = n
	}
	if v := os.Getenv(EnvBindAddress); v != "" {
		c.BindAddress = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: invalid %s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvReadTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("config: invalid %s: %w", EnvReadTimeout, err)
		}
		c.ReadTimeout = d
	}
	if v := os.Getenv(EnvMaxHeaderBytes); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return c, fmt.Errorf("config: invalid %s: %w", EnvMaxHeaderBytes, err)
		}
		c.MaxHeaderBytes = int(n)
	}
	if v := os.Getenv(EnvMaxBodyBytes); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return c, fmt.Errorf("config: invalid %s: %w", EnvMaxBodyBytes, err)
		}
		c.MaxBodyBytes = int(n)
	}
	if v := os.Getenv(EnvKeepAlive); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c, fmt.Errorf("config: invalid %s: %w", EnvKeepAlive, err)
		}
		c.KeepAlive = b
	}
	if v := os.Getenv(EnvAllowedOrigins); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		c.AllowedOrigins = origins
	}

	return c, nil
}

// Describe renders the size-bounded fields in human-readable form for
// startup logging, e.g. "8KiB" instead of "8192".
func (c Config) Describe() string {
	return fmt.Sprintf("port=%d bind=%s workers=%d read_timeout=%s max_header=%s max_body=%s keep_alive=%t",
		c.Port, c.BindAddress, c.Workers, c.ReadTimeout,
		units.BytesSize(float64(c.MaxHeaderBytes)),
		units.BytesSize(float64(c.MaxBodyBytes)),
		c.KeepAlive,
	)
}
