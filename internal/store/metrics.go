package store

import (
	"expvar"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"recordcore/pkg/domain"
)

// MetricsRecorder receives store lifecycle counters. Implementations must be
// cheap; recording happens inline on the store's thread.
type MetricsRecorder interface {
	RecordLoaded(entity string)
	RecordCreated(entity string)
	RecordSaved(entity string, op domain.SaveOp)
	SaveFailed(entity string, reason string)
	RecordDestroyed(entity string)
	FlushObserved(tasks int)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) RecordLoaded(string)              {}
func (noopMetricsRecorder) RecordCreated(string)             {}
func (noopMetricsRecorder) RecordSaved(string, domain.SaveOp) {}
func (noopMetricsRecorder) SaveFailed(string, string)        {}
func (noopMetricsRecorder) RecordDestroyed(string)           {}
func (noopMetricsRecorder) FlushObserved(int)                {}

// ExpvarMetricsRecorder publishes counters through the process-wide expvar
// registry under the given prefix.
type ExpvarMetricsRecorder struct {
	mu      sync.Mutex
	prefix  string
	loaded  *expvar.Map
	created *expvar.Map
	saved   *expvar.Map
	failed  *expvar.Map
	gone    *expvar.Map
	flushes *expvar.Int
	tasks   *expvar.Int
}

// NewExpvarMetricsRecorder registers the counter maps. The prefix must be
// unique per process; expvar panics on duplicate registration.
func NewExpvarMetricsRecorder(prefix string) *ExpvarMetricsRecorder {
	return &ExpvarMetricsRecorder{
		prefix:  prefix,
		loaded:  expvar.NewMap(prefix + ".records_loaded"),
		created: expvar.NewMap(prefix + ".records_created"),
		saved:   expvar.NewMap(prefix + ".records_saved"),
		failed:  expvar.NewMap(prefix + ".saves_failed"),
		gone:    expvar.NewMap(prefix + ".records_destroyed"),
		flushes: expvar.NewInt(prefix + ".flushes"),
		tasks:   expvar.NewInt(prefix + ".flush_tasks"),
	}
}

func (r *ExpvarMetricsRecorder) RecordLoaded(entity string)  { r.loaded.Add(entity, 1) }
func (r *ExpvarMetricsRecorder) RecordCreated(entity string) { r.created.Add(entity, 1) }

func (r *ExpvarMetricsRecorder) RecordSaved(entity string, op domain.SaveOp) {
	r.saved.Add(fmt.Sprintf("%s.%s", entity, op), 1)
}

func (r *ExpvarMetricsRecorder) SaveFailed(entity string, reason string) {
	r.failed.Add(fmt.Sprintf("%s.%s", entity, reason), 1)
}

func (r *ExpvarMetricsRecorder) RecordDestroyed(entity string) { r.gone.Add(entity, 1) }

func (r *ExpvarMetricsRecorder) FlushObserved(tasks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes.Add(1)
	r.tasks.Add(int64(tasks))
}

// PrometheusMetricsRecorder publishes counters through a prometheus registry.
type PrometheusMetricsRecorder struct {
	loaded    *prometheus.CounterVec
	created   *prometheus.CounterVec
	saved     *prometheus.CounterVec
	failed    *prometheus.CounterVec
	destroyed *prometheus.CounterVec
	flushes   prometheus.Counter
	tasks     prometheus.Histogram
}

// NewPrometheusMetricsRecorder builds and registers the collectors.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer, namespace string) (*PrometheusMetricsRecorder, error) {
	r := &PrometheusMetricsRecorder{
		loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_loaded_total",
			Help: "Records loaded into the identity map, by entity type.",
		}, []string{"entity"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_created_total",
			Help: "Records created locally, by entity type.",
		}, []string{"entity"}),
		saved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_saved_total",
			Help: "Confirmed save operations, by entity type and operation.",
		}, []string{"entity", "op"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "saves_failed_total",
			Help: "Rejected save operations, by entity type and reason.",
		}, []string{"entity", "reason"}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_destroyed_total",
			Help: "Control blocks destroyed, by entity type.",
		}, []string{"entity"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flushes_total",
			Help: "Completed flush boundaries.",
		}),
		tasks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "flush_tasks",
			Help:    "Tasks executed per flush.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	for _, c := range []prometheus.Collector{r.loaded, r.created, r.saved, r.failed, r.destroyed, r.flushes, r.tasks} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register store collector: %w", err)
		}
	}
	return r, nil
}

func (r *PrometheusMetricsRecorder) RecordLoaded(entity string) {
	r.loaded.WithLabelValues(entity).Inc()
}

func (r *PrometheusMetricsRecorder) RecordCreated(entity string) {
	r.created.WithLabelValues(entity).Inc()
}

func (r *PrometheusMetricsRecorder) RecordSaved(entity string, op domain.SaveOp) {
	r.saved.WithLabelValues(entity, string(op)).Inc()
}

func (r *PrometheusMetricsRecorder) SaveFailed(entity string, reason string) {
	r.failed.WithLabelValues(entity, reason).Inc()
}

func (r *PrometheusMetricsRecorder) RecordDestroyed(entity string) {
	r.destroyed.WithLabelValues(entity).Inc()
}

func (r *PrometheusMetricsRecorder) FlushObserved(tasks int) {
	r.flushes.Inc()
	r.tasks.Observe(float64(tasks))
}
