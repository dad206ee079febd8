// Package metrics provides Prometheus instrumentation for the lumenrig
// playback engine. The package-level collectors below register against
// the default Prometheus registry at init time (promauto) and are exposed
// at GET /metrics through internal/api's promhttp handler; Init registers
// a separate set against a caller-supplied registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Gauges ──────────────────────────────────────────────────────────────

// ActiveLayers is the number of layers currently marked active.
var ActiveLayers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "lumenrig_active_layers",
	Help: "Number of layers with active=true.",
})

// DeviceCount is the number of devices currently owned by the Rig.
var DeviceCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "lumenrig_devices_total",
	Help: "Number of devices owned by the rig.",
})

// Grandmaster mirrors the current grandmaster scalar [0,1].
var Grandmaster = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "lumenrig_grandmaster",
	Help: "Current grandmaster scalar applied after layer blending.",
})

// ── Counters ────────────────────────────────────────────────────────────

// SlowTicks counts ticks whose elapsed time exceeded the configured period.
var SlowTicks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lumenrig_slow_ticks_total",
	Help: "Ticks where elapsed processing time exceeded the target period.",
})

// OutOfGamutEvents counts color LP solves that returned a clamped,
// out-of-gamut solution.
var OutOfGamutEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lumenrig_color_out_of_gamut_total",
	Help: "Color channel solves that could not satisfy the requested chromaticity exactly.",
})

// InvariantViolations counts refused structural mutations while the tick
// loop was running.
var InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lumenrig_invariant_violations_total",
	Help: "Structural mutations refused because the tick loop was running.",
})

// CueGoTransitions counts go-to-cue transitions processed by any layer.
var CueGoTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lumenrig_cue_go_transitions_total",
	Help: "Go-to-cue transitions by cue list name.",
}, []string{"cue_list"})

// ── Histograms ──────────────────────────────────────────────────────────

// TickDuration tracks wall-clock time spent processing a single playback tick.
var TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "lumenrig_tick_duration_seconds",
	Help:    "Time spent executing one playback tick (layer update + blend + write to the rig).",
	Buckets: prometheus.DefBuckets,
})

// ── Handler ───────────────────────────────────────────────────────────────

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ── Init (registry-scoped) ─────────────────────────────────────────────────

// Init registers an isolated set of lumenrig metrics against reg. It exists
// for tests that want a fresh registry rather than the package-level
// DefaultRegisterer that the vars above register against at init time.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(
		prometheus.NewGauge(prometheus.GaugeOpts{Name: "lumenrig_active_layers", Help: "Number of layers with active=true."}),
		prometheus.NewGauge(prometheus.GaugeOpts{Name: "lumenrig_devices_total", Help: "Number of devices owned by the rig."}),
		prometheus.NewCounter(prometheus.CounterOpts{Name: "lumenrig_slow_ticks_total", Help: "Ticks where elapsed processing time exceeded the target period."}),
	)
}
