package credbroadcast

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters and gauges a Broadcaster updates as it runs.
// Construct with NewMetrics against a registry owned by the process, or use
// NewNopMetrics in contexts (tests, disabled mode) where no registry exists.
type Metrics struct {
	attempts        *prometheus.CounterVec
	generation      prometheus.Gauge
	lastSuccess     prometheus.Gauge
	watchTicksTotal prometheus.Counter
}

// NewMetrics registers the Broadcaster's metrics against reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credreload_attempts_total",
			Help: "Total number of credential reload attempts, partitioned by result.",
		}, []string{"result"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credreload_generation",
			Help: "Monotonic counter of the most recently published credential generation.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credreload_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successfully published credential generation.",
		}),
		watchTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credreload_watch_ticks_total",
			Help: "Total number of watcher ticks observed by the broadcaster fold.",
		}),
	}

	for _, c := range []prometheus.Collector{m.attempts, m.generation, m.lastSuccess, m.watchTicksTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// NewNopMetrics returns a Metrics that records nothing and registers with no
// registry, for use where metrics plumbing would otherwise be optional.
func NewNopMetrics() *Metrics {
	return &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "unregistered_credreload_attempts_total"}, []string{"result"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unregistered_credreload_generation",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unregistered_credreload_last_success_timestamp_seconds",
		}),
		watchTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unregistered_credreload_watch_ticks_total",
		}),
	}
}

func (m *Metrics) recordAttempt(success bool) {
	if success {
		m.attempts.WithLabelValues("success").Inc()
		m.generation.Inc()
		m.lastSuccess.SetToCurrentTime()
		return
	}
	m.attempts.WithLabelValues("error").Inc()
}

func (m *Metrics) recordTick() {
	m.watchTicksTotal.Inc()
}
