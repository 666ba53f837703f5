package settlement

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics records settlement outcomes. A nil *Metrics records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	settled  prometheus.Counter
}

// NewMetrics creates the settlement collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobsettle",
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobsettle",
			Name:      "settlement_duration_seconds",
			Help:      "Time spent in Settle, including lock waits.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		settled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobsettle",
			Name:      "settled_amount_total",
			Help:      "Sum of amounts moved by committed settlements.",
		}),
	}
	reg.MustRegister(m.attempts, m.duration, m.settled)
	return m
}

func (m *Metrics) observe(outcome string, elapsed time.Duration, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == OutcomeOK {
		m.settled.Add(amount.InexactFloat64())
	}
}
