// Package platform discovers host facts kestrel needs to size itself,
// primarily the default task-runtime worker count.
package platform

import (
	"runtime"

	"github.com/elastic/go-sysinfo"
	"github.com/kestrel-run/kestrel/pkg/logging"
)

// DefaultParallelism returns the worker count the task runtime should
// use when the caller hasn't set one explicitly: the platform's reported
// logical CPU count, the same source spec.md names ("platform's reported
// parallelism"). Host introspection can fail inside a sandboxed
// container with a restricted /proc, so failures fall back to
// runtime.NumCPU rather than propagating an error — the runtime must
// always be able to start with some worker count.
func DefaultParallelism(log logging.Logger) int {
	host, err := sysinfo.Host()
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("platform: host introspection unavailable, falling back to runtime.NumCPU")
		}
		return runtime.NumCPU()
	}

	cpus := host.Info().CPUs
	if cpus <= 0 {
		if log != nil {
			log.Warn("platform: host reported zero CPUs, falling back to runtime.NumCPU")
		}
		return runtime.NumCPU()
	}

	if log != nil {
		log.WithField("cpus", cpus).Info("platform: discovered host parallelism")
	}
	return cpus
}
