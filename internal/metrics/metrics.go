// Package metrics exposes the loan engine's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EngineMetrics struct {
	originations      *prometheus.CounterVec
	confirmations     prometheus.Counter
	repayments        *prometheus.CounterVec
	repaidAmount      prometheus.Counter
	defaults          prometheus.Counter
	conflicts         *prometheus.CounterVec
	sweeps            prometheus.Counter
	snapshotsIngested *prometheus.CounterVec
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the process-wide collectors, registering them on first use.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			originations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loanengine_originations_total",
				Help: "Loan applications by outcome and risk tier.",
			}, []string{"outcome", "tier"}),
			confirmations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loanengine_collateral_confirmations_total",
				Help: "Escrow confirmations that activated a loan.",
			}),
			repayments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loanengine_repayments_total",
				Help: "Applied repayments by ledger status.",
			}, []string{"status"}),
			repaidAmount: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loanengine_repaid_amount_total",
				Help: "Sum of applied repayment amounts.",
			}),
			defaults: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loanengine_defaults_total",
				Help: "Loans moved to DEFAULTED.",
			}),
			conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loanengine_version_conflicts_total",
				Help: "Writes rejected because the loan changed underneath them.",
			}, []string{"operation"}),
			sweeps: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loanengine_delinquency_sweeps_total",
				Help: "Completed delinquency sweeps.",
			}),
			snapshotsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loanengine_snapshots_ingested_total",
				Help: "Collateral snapshots stored from oracle feeds by format.",
			}, []string{"format"}),
		}
		prometheus.MustRegister(
			engineRegistry.originations,
			engineRegistry.confirmations,
			engineRegistry.repayments,
			engineRegistry.repaidAmount,
			engineRegistry.defaults,
			engineRegistry.conflicts,
			engineRegistry.sweeps,
			engineRegistry.snapshotsIngested,
		)
	})
	return engineRegistry
}

func (m *EngineMetrics) ObserveOrigination(outcome, tier string) {
	if m == nil {
		return
	}
	if tier == "" {
		tier = "unknown"
	}
	m.originations.WithLabelValues(outcome, tier).Inc()
}

func (m *EngineMetrics) ObserveConfirmation() {
	if m == nil {
		return
	}
	m.confirmations.Inc()
}

func (m *EngineMetrics) ObserveRepayment(status string, amount float64) {
	if m == nil {
		return
	}
	m.repayments.WithLabelValues(status).Inc()
	if amount > 0 {
		m.repaidAmount.Add(amount)
	}
}

func (m *EngineMetrics) ObserveDefault() {
	if m == nil {
		return
	}
	m.defaults.Inc()
}

func (m *EngineMetrics) ObserveConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

func (m *EngineMetrics) ObserveSweep() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

func (m *EngineMetrics) ObserveSnapshots(format string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.snapshotsIngested.WithLabelValues(format).Add(float64(n))
}
