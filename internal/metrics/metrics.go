// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type Metrics struct {
	DaysSkipped       prometheus.Counter
	DaysFulfilled     prometheus.Counter
	DaysLockedBySweep prometheus.Counter
	CutoffSweepRuns   prometheus.Counter
	PaymentsApplied   *prometheus.CounterVec
	WebhooksRejected  prometheus.Counter
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the counters on the given registerer. Tests pass a fresh
// registry so repeated construction does not collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DaysSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sufra",
			Name:      "days_skipped_total",
			Help:      "Subscription days moved to skipped.",
		}),
		DaysFulfilled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sufra",
			Name:      "days_fulfilled_total",
			Help:      "Subscription days fulfilled.",
		}),
		DaysLockedBySweep: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sufra",
			Name:      "days_locked_by_sweep_total",
			Help:      "Open days locked by the daily cutoff sweep.",
		}),
		CutoffSweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sufra",
			Name:      "cutoff_sweep_runs_total",
			Help:      "Completed daily cutoff sweeps.",
		}),
		PaymentsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sufra",
			Name:      "payments_applied_total",
			Help:      "Payments applied, by payment type.",
		}, []string{"type"}),
		WebhooksRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sufra",
			Name:      "webhooks_rejected_total",
			Help:      "Webhook calls rejected before processing.",
		}),
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
