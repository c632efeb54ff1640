package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gate counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Decisions             *prometheus.CounterVec
	StoreDegraded         *prometheus.CounterVec
	BansApplied           *prometheus.CounterVec
	AllowlistBypass       prometheus.Counter
	ChallengesIssued      prometheus.Counter
	CostThrottles         prometheus.Counter
	CostRecorded          prometheus.Counter
	SettingsInvalid       *prometheus.CounterVec
	SettingsInvalidations *prometheus.CounterVec
	SettingsStoreErrors   prometheus.Counter
	StoreLatency          *prometheus.HistogramVec
	BreakerOpen           *prometheus.GaugeVec
}

// New creates the gate metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatguard_decisions_total",
			Help: "Gate decisions by gate and outcome",
		}, []string{"gate", "outcome"}),
		StoreDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatguard_store_degraded_total",
			Help: "Decisions made by a fail policy because the store was unreachable",
		}, []string{"gate", "policy"}),
		BansApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatguard_bans_applied_total",
			Help: "Bans started, by ban tier duration",
		}, []string{"tier"}),
		AllowlistBypass: f.NewCounter(prometheus.CounterOpts{
			Name: "chatguard_allowlist_bypass_total",
			Help: "Requests that skipped the rate and challenge gates via the allowlist",
		}),
		ChallengesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "chatguard_challenges_issued_total",
			Help: "Challenge tokens issued",
		}),
		CostThrottles: f.NewCounter(prometheus.CounterOpts{
			Name: "chatguard_cost_throttles_total",
			Help: "Throttle markers set because recent cost crossed the threshold",
		}),
		CostRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "chatguard_cost_recorded_micros_total",
			Help: "Estimated cost committed to the ledger, in micro-units",
		}),
		SettingsInvalid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatguard_settings_invalid_total",
			Help: "Stored setting values rejected at read time, by layer",
		}, []string{"name", "layer"}),
		SettingsInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatguard_settings_invalidations_total",
			Help: "Settings cache invalidations by origin",
		}, []string{"origin"}),
		SettingsStoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "chatguard_settings_store_errors_total",
			Help: "Settings reads that fell back because the dynamic store was unreachable",
		}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatguard_store_operation_seconds",
			Help:    "Latency of gate store scripts",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"operation"}),
		BreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatguard_store_breaker_open",
			Help: "1 while a gate's store circuit breaker is open",
		}, []string{"gate"}),
	}
}

func (m *Metrics) RecordDecision(gate, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(gate, outcome).Inc()
}

// RecordDegraded counts a fail-policy decision. policy is "open", "closed" or "fallback".
func (m *Metrics) RecordDegraded(gate, policy string) {
	if m == nil {
		return
	}
	m.StoreDegraded.WithLabelValues(gate, policy).Inc()
}

func (m *Metrics) RecordBan(tier time.Duration) {
	if m == nil {
		return
	}
	m.BansApplied.WithLabelValues(tier.String()).Inc()
}

func (m *Metrics) RecordAllowlistBypass() {
	if m == nil {
		return
	}
	m.AllowlistBypass.Inc()
}

func (m *Metrics) RecordChallengeIssued() {
	if m == nil {
		return
	}
	m.ChallengesIssued.Inc()
}

func (m *Metrics) RecordCostThrottle() {
	if m == nil {
		return
	}
	m.CostThrottles.Inc()
}

func (m *Metrics) RecordCost(micros int64) {
	if m == nil || micros <= 0 {
		return
	}
	m.CostRecorded.Add(float64(micros))
}

func (m *Metrics) RecordSettingInvalid(name, layer string) {
	if m == nil {
		return
	}
	m.SettingsInvalid.WithLabelValues(name, layer).Inc()
}

func (m *Metrics) RecordSettingsInvalidation(origin string) {
	if m == nil {
		return
	}
	m.SettingsInvalidations.WithLabelValues(origin).Inc()
}

func (m *Metrics) RecordSettingsStoreError() {
	if m == nil {
		return
	}
	m.SettingsStoreErrors.Inc()
}

// ObserveStore records how long a store operation took since start.
func (m *Metrics) ObserveStore(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetBreakerOpen(gate string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerOpen.WithLabelValues(gate).Set(v)
}
