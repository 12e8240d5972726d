// Package metrics holds the agent's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agwatch"

var (
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications emitted, by category",
		},
		[]string{"category"},
	)

	PreheatAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preheat_attempts_total",
			Help:      "Preheat network attempts, by result",
		},
		[]string{"result"}, // "success" / "failure" / "no_credential"
	)

	PreheatOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preheat_outcomes_total",
			Help:      "Automatic preheats by outcome, including ones skipped by the gate",
		},
		[]string{"outcome"}, // "succeeded", "exhausted" or "suppressed"
	)

	QuotaFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_fetch_total",
			Help:      "Quota fetches, by result",
		},
		[]string{"result"},
	)

	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "OAuth access token refreshes, by result",
		},
		[]string{"result"},
	)

	Schedules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedules",
			Help:      "Reset schedules currently tracked",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Duration of one reset scheduler tick",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with reg. Only the first call has effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			NotificationsTotal,
			PreheatAttemptsTotal,
			PreheatOutcomesTotal,
			QuotaFetchTotal,
			TokenRefreshTotal,
			Schedules,
			TickDuration,
		)
	})
}
