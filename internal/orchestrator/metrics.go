package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
)

var attemptBuckets = []float64{1, 2, 3, 4, 5, 8}

// Metrics records run outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	once        sync.Once
	runs        *prometheus.CounterVec
	attempts    prometheus.Histogram
	recipes     *prometheus.CounterVec
	initialized bool
}

// NewMetrics registers collectors on the default registry, reusing any
// already registered by an earlier instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.init()
	return m
}

func (m *Metrics) init() {
	m.once.Do(func() {
		m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Count of finished runs by terminal status",
		}, []string{"status"})

		m.attempts = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "runs",
			Name:      "attempts",
			Help:      "Deploy attempts used per run",
			Buckets:   attemptBuckets,
		})

		m.recipes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "repair",
			Name:      "recipes_applied_total",
			Help:      "Number of times each repair recipe was applied",
		}, []string{"recipe"})

		collectors := []prometheus.Collector{m.runs, m.attempts, m.recipes}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == m.runs {
							m.runs = v
						} else {
							m.recipes = v
						}
					case prometheus.Histogram:
						m.attempts = v
					}
				}
			}
		}
		m.initialized = true
	})
}

func (m *Metrics) recordRun(status domain.Status, attempts int) {
	if m == nil || !m.initialized {
		return
	}
	m.runs.With(prometheus.Labels{"status": string(status)}).Inc()
	if attempts > 0 {
		m.attempts.Observe(float64(attempts))
	}
}

func (m *Metrics) recordRecipes(names []string) {
	if m == nil || !m.initialized {
		return
	}
	for _, name := range names {
		m.recipes.With(prometheus.Labels{"recipe": name}).Inc()
	}
}
