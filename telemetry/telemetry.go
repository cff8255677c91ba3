package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/resource"
)

const namespace = "assetruntime"

// Routine outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeValid   = "failed_valid"
	OutcomeInvalid = "failed_invalid"
	OutcomePanic   = "panic"
)

var statuses = []resource.Status{
	resource.StatusUnloaded,
	resource.StatusProcessing,
	resource.StatusLoaded,
	resource.StatusInvalid,
}

// Collector exports manager state as Prometheus metrics. Gauges are read
// from the manager at scrape time; counters are fed by lifecycle events.
type Collector struct {
	m *resource.Manager

	inflight  *prometheus.Desc
	manifests *prometheus.Desc

	routines  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	sweeps    *prometheus.CounterVec
	collected prometheus.Counter
	created   prometheus.Counter
	deleted   prometheus.Counter
}

// New creates a collector and subscribes it to m.
func New(m *resource.Manager) *Collector {
	c := &Collector{
		m: m,
		inflight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "inflight_operations"),
			"Routines currently queued or executing.",
			nil, nil,
		),
		manifests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "manifests"),
			"Registered manifests by status.",
			[]string{"status"}, nil,
		),
		routines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routines_total",
			Help:      "Completed load, reload and unload routines by outcome.",
		}, []string{"routine", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Load and reload failures by failure code.",
		}, []string{"kind"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_sweeps_total",
			Help:      "Garbage collection sweeps by policy.",
		}, []string{"policy"}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_collected_total",
			Help:      "Resources unloaded by garbage collection sweeps.",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifests_created_total",
			Help:      "Manifests created.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifests_deleted_total",
			Help:      "Manifests deleted by teardown.",
		}),
	}
	m.Subscribe(c)
	return c
}

// Close unsubscribes the collector from the manager.
func (c *Collector) Close() {
	c.m.Unsubscribe(c)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inflight
	ch <- c.manifests
	c.routines.Describe(ch)
	c.failures.Describe(ch)
	c.sweeps.Describe(ch)
	c.collected.Describe(ch)
	c.created.Describe(ch)
	c.deleted.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(c.m.GetCurrentOperationCount()))

	counts := make(map[resource.Status]int, len(statuses))
	c.m.Each(func(mf *resource.Manifest) bool {
		counts[mf.Status()]++
		return true
	})
	for _, s := range statuses {
		ch <- prometheus.MustNewConstMetric(c.manifests, prometheus.GaugeValue, float64(counts[s]), s.String())
	}

	c.routines.Collect(ch)
	c.failures.Collect(ch)
	c.sweeps.Collect(ch)
	c.collected.Collect(ch)
	c.created.Collect(ch)
	c.deleted.Collect(ch)
}

// OnResourceEvent implements resource.Observer.
func (c *Collector) OnResourceEvent(e resource.Event) {
	switch e.Type {
	case resource.EventCreated:
		c.created.Inc()
	case resource.EventDeleted:
		c.deleted.Inc()
	case resource.EventLoaded:
		c.routines.WithLabelValues("load", OutcomeOK).Inc()
	case resource.EventReloaded:
		c.routines.WithLabelValues("reload", OutcomeOK).Inc()
	case resource.EventUnloaded:
		c.routines.WithLabelValues("unload", OutcomeOK).Inc()
	case resource.EventLoadFailed:
		routine := "load"
		if e.Reload {
			routine = "reload"
		}
		c.routines.WithLabelValues(routine, outcome(e)).Inc()
		kind := e.Kind
		if kind == "" {
			kind = "unexpected"
		}
		c.failures.WithLabelValues(string(kind)).Inc()
	case resource.EventSweep:
		c.sweeps.WithLabelValues(e.Strategy.String()).Inc()
		c.collected.Add(float64(e.Count))
	}
}

func outcome(e resource.Event) string {
	switch {
	case e.Kind == errors.KindPanic:
		return OutcomePanic
	case e.Status == resource.StatusLoaded:
		return OutcomeValid
	default:
		return OutcomeInvalid
	}
}

// NewRegistry returns a registry with c and the Go runtime and process
// collectors registered.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "register collector")
		}
	}
	return reg, nil
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
