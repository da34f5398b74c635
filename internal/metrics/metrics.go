package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tellmewhen"

// Registry owns every collector exported by the process. Methods are nil-safe
// so components can run without metrics.
type Registry struct {
	gatherer prometheus.Gatherer

	busPublished   *prometheus.CounterVec
	busDelivered   *prometheus.CounterVec
	busPanics      *prometheus.CounterVec
	busPending     *prometheus.GaugeVec
	busSubscribers *prometheus.GaugeVec

	fsActiveWatches *prometheus.GaugeVec
	fsEvents        *prometheus.CounterVec
	fsIgnored       *prometheus.CounterVec
	fsOverflows     *prometheus.CounterVec
	fsFailures      *prometheus.CounterVec
	fsRetries       *prometheus.CounterVec

	monitorSamples *prometheus.CounterVec
	monitorErrors  *prometheus.CounterVec
}

// Default is registered with the prometheus default registerer.
var Default = newRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

// NewRegistry returns a Registry backed by its own prometheus registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return newRegistry(reg, reg)
}

func newRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	factory := promauto.With(registerer)
	return &Registry{
		gatherer: gatherer,
		busPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total number of messages accepted by an event bus",
		}, []string{"bus", "type"}),
		busDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "delivered_total",
			Help:      "Total number of subscriber callback invocations that returned normally",
		}, []string{"bus"}),
		busPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "panics_total",
			Help:      "Total number of subscriber callbacks that panicked",
		}, []string{"bus"}),
		busPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "pending",
			Help:      "Messages queued on the bus ingress and not yet dispatched",
		}, []string{"bus"}),
		busSubscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscribers",
			Help:      "Currently registered subscriptions",
		}, []string{"bus"}),
		fsActiveWatches: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "active_watches",
			Help:      "Paths currently present in the watch registry",
		}, []string{"handler"}),
		fsEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "events_total",
			Help:      "Filesystem events published to the bus",
		}, []string{"handler", "kind"}),
		fsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "ignored_total",
			Help:      "Filesystem events suppressed by ignore patterns or event type filters",
		}, []string{"handler"}),
		fsOverflows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "overflows_total",
			Help:      "Native notification buffer overflows",
		}, []string{"handler"}),
		fsFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "failures_total",
			Help:      "Watches terminated by a native failure",
		}, []string{"handler"}),
		fsRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "retries_total",
			Help:      "Watch re-registration attempts after a failure",
		}, []string{"handler"}),
		monitorSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "samples_total",
			Help:      "Snapshots taken by collaborator monitors",
		}, []string{"monitor"}),
		monitorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "errors_total",
			Help:      "Failed snapshots taken by collaborator monitors",
		}, []string{"monitor"}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busPublished.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) IncEventDelivered(bus string) {
	if r == nil {
		return
	}
	r.busDelivered.WithLabelValues(label(bus)).Inc()
}

func (r *Registry) IncSubscriberPanic(bus string) {
	if r == nil {
		return
	}
	r.busPanics.WithLabelValues(label(bus)).Inc()
}

func (r *Registry) SetEventPending(bus string, pending int) {
	if r == nil {
		return
	}
	r.busPending.WithLabelValues(label(bus)).Set(float64(pending))
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.busSubscribers.WithLabelValues(label(bus)).Set(float64(count))
}

func (r *Registry) SetActiveWatches(handler string, count int) {
	if r == nil {
		return
	}
	r.fsActiveWatches.WithLabelValues(label(handler)).Set(float64(count))
}

func (r *Registry) IncFsEvent(handler, kind string) {
	if r == nil {
		return
	}
	r.fsEvents.WithLabelValues(label(handler), label(kind)).Inc()
}

func (r *Registry) IncFsIgnored(handler string) {
	if r == nil {
		return
	}
	r.fsIgnored.WithLabelValues(label(handler)).Inc()
}

func (r *Registry) IncFsOverflow(handler string) {
	if r == nil {
		return
	}
	r.fsOverflows.WithLabelValues(label(handler)).Inc()
}

func (r *Registry) IncFsFailure(handler string) {
	if r == nil {
		return
	}
	r.fsFailures.WithLabelValues(label(handler)).Inc()
}

func (r *Registry) IncFsRetry(handler string) {
	if r == nil {
		return
	}
	r.fsRetries.WithLabelValues(label(handler)).Inc()
}

func (r *Registry) IncMonitorSample(monitor string) {
	if r == nil {
		return
	}
	r.monitorSamples.WithLabelValues(label(monitor)).Inc()
}

func (r *Registry) IncMonitorError(monitor string) {
	if r == nil {
		return
	}
	r.monitorErrors.WithLabelValues(label(monitor)).Inc()
}

func label(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
