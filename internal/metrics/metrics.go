// Package metrics registers the service's Prometheus collectors on the
// default registry served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TapsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "taps_recorded_total",
		Help:      "Tap-ins written to the ledger, by resulting status.",
	}, []string{"status"})

	TapsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "taps_rejected_total",
		Help:      "Tap-ins refused, by error code.",
	}, []string{"code"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sweep_runs_total",
		Help:      "Absentee sweep triggers, by outcome.",
	}, []string{"outcome"})

	SweepAbsences = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sweep_absences_total",
		Help:      "ABSENT rows inserted by the absentee sweep.",
	})

	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sweep_insert_failures_total",
		Help:      "Per-student inserts that failed during a sweep.",
	})

	SweepRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Name:      "sweep_running",
		Help:      "1 while an absentee sweep is in progress.",
	})

	StatusCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "status_corrections_total",
		Help:      "Ledger status corrections, by new status.",
	}, []string{"status"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notify",
		Name:      "emails_total",
		Help:      "Notification emails, by outcome.",
	}, []string{"outcome"})
)
