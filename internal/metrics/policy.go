// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for policy evaluation results.
const (
	// ResultGoverned means a governing policy was found for the namespace.
	ResultGoverned = "governed"
	// ResultUnmatched means no policy governs the namespace.
	ResultUnmatched = "unmatched"
)

// Label values for failover decisions.
const (
	DecisionFailover = "failover"
	DecisionStay     = "stay"
)

// PolicyMetrics holds metrics for isolation policy loading and evaluation.
type PolicyMetrics struct {
	// PoliciesLoaded tracks the number of compiled policies in the cache.
	PoliciesLoaded prometheus.Gauge

	// ReloadsTotal counts policy cache updates by kind (applied, noop, failed).
	ReloadsTotal *prometheus.CounterVec

	// ResolutionsTotal counts namespace resolutions by result.
	ResolutionsTotal *prometheus.CounterVec

	// FailoverDecisionsTotal counts failover evaluations by decision.
	FailoverDecisionsTotal *prometheus.CounterVec
}

// Reload kind label values.
const (
	ReloadApplied = "applied"
	ReloadNoop    = "noop"
	ReloadFailed  = "failed"
	ReloadRemoved = "removed"
)

// NewPolicyMetrics creates and registers policy metrics with the default registry.
func NewPolicyMetrics() *PolicyMetrics {
	return newPolicyMetrics(nil)
}

// NewPolicyMetricsWithRegistry creates policy metrics registered with a custom
// registerer. Useful for tests to avoid duplicate registration.
func NewPolicyMetricsWithRegistry(reg prometheus.Registerer) *PolicyMetrics {
	return newPolicyMetrics(reg)
}

func newPolicyMetrics(reg prometheus.Registerer) *PolicyMetrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &PolicyMetrics{
		PoliciesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "palisade",
			Subsystem: "policy",
			Name:      "loaded",
			Help:      "Number of isolation policies currently compiled and cached.",
		}),
		ReloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "palisade",
			Subsystem: "policy",
			Name:      "reloads_total",
			Help:      "Policy cache updates by kind.",
		}, []string{"kind"}),
		ResolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "palisade",
			Subsystem: "policy",
			Name:      "resolutions_total",
			Help:      "Namespace-to-policy resolutions by result.",
		}, []string{"result"}),
		FailoverDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "palisade",
			Subsystem: "policy",
			Name:      "failover_decisions_total",
			Help:      "Failover evaluations by decision.",
		}, []string{"decision"}),
	}
}
