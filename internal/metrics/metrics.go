// Package metrics contains the Prometheus metrics of a run.
//
// We do not serve metrics over HTTP. At the end of a run we write the
// registry to a textfile, which node_exporter's textfile collector (or
// a human) can read. All methods are safe to call on a nil [*Metrics].
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wfeval/wfeval/internal/model"
)

// Metrics contains the metrics of a run.
type Metrics struct {
	// Registry is the registry containing the metrics.
	Registry *prometheus.Registry

	forcedKills *prometheus.CounterVec
	groups      *prometheus.CounterVec
	injector    *prometheus.CounterVec
	timing      *prometheus.HistogramVec
	trials      *prometheus.CounterVec
}

// New creates a new [*Metrics] whose metrics carry the given run ID.
func New(runID string) *Metrics {
	labels := prometheus.Labels{"run_id": runID}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		forcedKills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wfeval_process_forced_kills_total",
			Help:        "Processes that did not stop gracefully and were killed.",
			ConstLabels: labels,
		}, []string{"process"}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wfeval_groups_started_total",
			Help:        "Trial groups started, one per injector configuration.",
			ConstLabels: labels,
		}, []string{"mode"}),
		injector: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wfeval_injector_transitions_total",
			Help:        "Injector configuration transitions.",
			ConstLabels: labels,
		}, []string{"mode"}),
		timing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "wfeval_timing_metric_seconds",
			Help:        "Page load time of successful trials.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"mode", "level"}),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wfeval_trials_total",
			Help:        "Trials recorded into the ledger.",
			ConstLabels: labels,
		}, []string{"mode", "outcome"}),
	}
	m.Registry.MustRegister(m.forcedKills, m.groups, m.injector, m.timing, m.trials)
	return m
}

// IncForcedKill counts a process killed after its stop deadline.
func (m *Metrics) IncForcedKill(process string) {
	if m != nil {
		m.forcedKills.WithLabelValues(process).Inc()
	}
}

// IncInjectorTransition counts a transition to the given mode.
func (m *Metrics) IncInjectorTransition(mode model.Mode) {
	if m != nil {
		m.injector.WithLabelValues(mode.String()).Inc()
	}
}

// OnGroupStart counts a trial group.
func (m *Metrics) OnGroupStart(group *model.InjectorConfig, numTrials int) {
	if m != nil {
		m.groups.WithLabelValues(modeOf(group).String()).Inc()
	}
}

// OnTrialRecorded counts a recorded trial and observes its timing metric.
func (m *Metrics) OnTrialRecorded(trial *model.Trial) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !trial.Outcome.IsSuccess() {
		outcome = "degraded"
	}
	m.trials.WithLabelValues(trial.Mode.String(), outcome).Inc()
	if trial.Outcome.IsSuccess() && trial.TimingMetricMs > 0 {
		m.timing.WithLabelValues(trial.Mode.String(), trial.Level.String()).
			Observe(trial.TimingMetricMs / 1000)
	}
}

// WriteToTextfile writes the metrics to the given file atomically.
func (m *Metrics) WriteToTextfile(filename string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(filename, m.Registry)
}

func modeOf(cfg *model.InjectorConfig) model.Mode {
	if cfg.IsOff() {
		return model.ModeOff
	}
	return cfg.Mode
}
