// Package metrics tracks a handful of atomic counters and gauges for
// the reactor and task runtime and exposes them in Prometheus text
// format. It reuses the teacher's aggregation approach — building
// dto.MetricFamily values by hand and serializing them with
// prometheus/common/expfmt — rather than pulling in client_golang,
// which nothing in the pack imports directly.
package metrics

import (
	"io"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Registry is a fixed set of counters and gauges kestrel updates as it
// runs. The zero value is ready to use; a nil *Registry is also safe to
// call every method on, so wiring metrics through the facade is
// optional.
type Registry struct {
	connectionsActive  atomic.Int64
	requestsDispatched atomic.Uint64
	handlerPanics      atomic.Uint64
	tasksQueued        atomic.Int64
	tasksParked        atomic.Int64
	emfileBackoffs     atomic.Uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

func (r *Registry) IncConnectionsActive() {
	if r == nil {
		return
	}
	r.connectionsActive.Add(1)
}

func (r *Registry) DecConnectionsActive() {
	if r == nil {
		return
	}
	r.connectionsActive.Add(-1)
}

func (r *Registry) IncRequestsDispatched() {
	if r == nil {
		return
	}
	r.requestsDispatched.Add(1)
}

func (r *Registry) IncHandlerPanics() {
	if r == nil {
		return
	}
	r.handlerPanics.Add(1)
}

func (r *Registry) IncTasksQueued() {
	if r == nil {
		return
	}
	r.tasksQueued.Add(1)
}

func (r *Registry) DecTasksQueued() {
	if r == nil {
		return
	}
	r.tasksQueued.Add(-1)
}

func (r *Registry) IncTasksParked() {
	if r == nil {
		return
	}
	r.tasksParked.Add(1)
}

func (r *Registry) DecTasksParked() {
	if r == nil {
		return
	}
	r.tasksParked.Add(-1)
}

func (r *Registry) IncEMFILEBackoffs() {
	if r == nil {
		return
	}
	r.emfileBackoffs.Add(1)
}

// Snapshot is a point-in-time copy of every tracked value, independent
// of the Registry's internal atomics — useful for assertions in tests.
type Snapshot struct {
	ConnectionsActive  int64
	RequestsDispatched uint64
	HandlerPanics      uint64
	TasksQueued        int64
	TasksParked        int64
	EMFILEBackoffs     uint64
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		ConnectionsActive:  r.connectionsActive.Load(),
		RequestsDispatched: r.requestsDispatched.Load(),
		HandlerPanics:      r.handlerPanics.Load(),
		TasksQueued:        r.tasksQueued.Load(),
		TasksParked:        r.tasksParked.Load(),
		EMFILEBackoffs:     r.emfileBackoffs.Load(),
	}
}

func gaugeFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_GAUGE
	return &dto.MetricFamily{
		Name: strPtr(name),
		Help: strPtr(help),
		Type: &t,
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: &value}},
		},
	}
}

func counterFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_COUNTER
	return &dto.MetricFamily{
		Name: strPtr(name),
		Help: strPtr(help),
		Type: &t,
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: &value}},
		},
	}
}

func strPtr(s string) *string { return &s }

// WriteTo encodes every tracked metric as a Prometheus text-format
// exposition, in the same family-by-family encoder loop the teacher's
// aggregated metrics handler uses.
func (r *Registry) WriteTo(w io.Writer) error {
	snap := r.Snapshot()
	families := []*dto.MetricFamily{
		gaugeFamily("kestrel_connections_active", "Number of currently open connections.", float64(snap.ConnectionsActive)),
		counterFamily("kestrel_requests_dispatched_total", "Total requests dispatched to a handler task.", float64(snap.RequestsDispatched)),
		counterFamily("kestrel_handler_panics_total", "Total handler task panics caught by the runtime.", float64(snap.HandlerPanics)),
		gaugeFamily("kestrel_tasks_queued", "Number of tasks currently queued for a worker.", float64(snap.TasksQueued)),
		gaugeFamily("kestrel_tasks_parked", "Number of tasks parked waiting on a wake.", float64(snap.TasksParked)),
		counterFamily("kestrel_emfile_backoffs_total", "Total accept-loop backoffs triggered by EMFILE/ENFILE.", float64(snap.EMFILEBackoffs)),
	}

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return err
		}
	}
	return nil
}
