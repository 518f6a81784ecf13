package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/hooking"
)

// MetricsHook exports attribution activity as Prometheus metrics.
type MetricsHook struct {
	tasks           *prometheus.CounterVec
	entries         *prometheus.CounterVec
	longEntries     *prometheus.CounterVec
	selfSeconds     *prometheus.HistogramVec
	corruptions     prometheus.Counter
	attributionMiss prometheus.Counter
	fallbacks       prometheus.Counter
}

// NewMetricsHook creates the metrics and registers them with reg.
func NewMetricsHook(reg prometheus.Registerer) *MetricsHook {
	h := &MetricsHook{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptentry_tasks_total",
			Help: "Tasks seen by the attribution engine, by outcome.",
		}, []string{"outcome"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptentry_entries_finished_total",
			Help: "Entry points that reached the finished state.",
		}, []string{"invoker", "degraded"}),
		longEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptentry_long_entries_total",
			Help: "Entry points reported as long scripts.",
		}, []string{"invoker"}),
		selfSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scriptentry_entry_self_seconds",
			Help:    "Self time of finished entry points.",
			Buckets: []float64{.001, .002, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"invoker"}),
		corruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scriptentry_stack_corruptions_total",
			Help: "Out of order entry pops.",
		}),
		attributionMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scriptentry_attribution_misses_total",
			Help: "Microtasks whose tagged entries were all gone.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scriptentry_attribution_fallbacks_total",
			Help: "Microtasks attributed to a surviving ancestor.",
		}),
	}

	reg.MustRegister(
		h.tasks,
		h.entries,
		h.longEntries,
		h.selfSeconds,
		h.corruptions,
		h.attributionMiss,
		h.fallbacks,
	)

	return h
}

// Func updates the metrics for the event carried by ctx.
func (h *MetricsHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case attribution.HookPosEntryFinish:
		e := ctx.Item.(attribution.EntryPoint)
		invoker := e.InvokerType.String()

		degraded := "false"
		if e.Degraded {
			degraded = "true"
		}

		h.entries.WithLabelValues(invoker, degraded).Inc()
		h.selfSeconds.WithLabelValues(invoker).Observe(e.SelfDuration.Seconds())
	case attribution.HookPosMicrotaskAttributed:
		if ctx.Item.(attribution.MicrotaskAttribution).Fallback {
			h.fallbacks.Inc()
		}
	case attribution.HookPosAttributionMiss:
		h.attributionMiss.Inc()
	case attribution.HookPosStackCorruption:
		h.corruptions.Inc()
	case attribution.HookPosTaskReport:
		r := ctx.Item.(attribution.Report)
		h.tasks.WithLabelValues("reported").Inc()

		for _, rec := range r.Records {
			h.longEntries.WithLabelValues(rec.InvokerType.String()).Inc()
		}
	case attribution.HookPosTaskAbandon:
		h.tasks.WithLabelValues("abandoned").Inc()
	}
}
