// Package metrics exposes operator-facing Prometheus series. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	uploads             *prometheus.CounterVec
	versionConflicts    prometheus.Counter
	versionMode         *prometheus.GaugeVec
	verifications       *prometheus.CounterVec
	workflowTransitions *prometheus.CounterVec
	ledgerAppends       *prometheus.CounterVec
	ledgerWriteFailures prometheus.Counter
	chainVerifications  *prometheus.CounterVec
	snapshots           *prometheus.CounterVec
}

// New registers every series with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docauth_uploads_total",
			Help: "document versions created, by creation strategy",
		}, []string{"strategy"}),
		versionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "docauth_version_conflicts_total",
			Help: "version-number collisions retried by the optimistic strategy",
		}),
		versionMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docauth_version_creation_mode",
			Help: "active version creation strategy (1 for the active mode)",
		}, []string{"mode"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docauth_verifications_total",
			Help: "verification calls by outcome",
		}, []string{"outcome"}),
		workflowTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docauth_workflow_transitions_total",
			Help: "workflow status changes by target state",
		}, []string{"state"}),
		ledgerAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docauth_ledger_appends_total",
			Help: "audit entries appended, by action",
		}, []string{"action"}),
		ledgerWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "docauth_ledger_write_failures_total",
			Help: "audit appends that failed and left a gap in a chain",
		}),
		chainVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docauth_chain_verifications_total",
			Help: "chain recomputations by kind and result",
		}, []string{"kind", "result"}),
		snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docauth_ledger_snapshots_total",
			Help: "ledger snapshots archived, by provider",
		}, []string{"provider"}),
	}
}

func (m *Metrics) Upload(strategy string) {
	if m != nil {
		m.uploads.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) VersionConflict() {
	if m != nil {
		m.versionConflicts.Inc()
	}
}

// SetVersionMode marks mode as the only active creation mode.
func (m *Metrics) SetVersionMode(mode string) {
	if m == nil {
		return
	}
	m.versionMode.Reset()
	m.versionMode.WithLabelValues(mode).Set(1)
}

func (m *Metrics) Verification(outcome string) {
	if m != nil {
		m.verifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) WorkflowTransition(state string) {
	if m != nil {
		m.workflowTransitions.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) LedgerAppend(action string) {
	if m != nil {
		m.ledgerAppends.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) LedgerWriteFailure() {
	if m != nil {
		m.ledgerWriteFailures.Inc()
	}
}

// ChainVerified records one recomputation of kind "ledger" or "versions".
func (m *Metrics) ChainVerified(kind string, valid bool) {
	if m == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.chainVerifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Snapshot(provider string) {
	if m != nil {
		m.snapshots.WithLabelValues(provider).Inc()
	}
}
