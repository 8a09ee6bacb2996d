package httpx

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.guardConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "api",
			Name:      "target_conflicts_total",
			Help:      "Run requests rejected because the target was busy",
		}, []string{"namespace"})

		collectors := []prometheus.Collector{r.requestTotal, r.requestDuration, r.guardConflicts}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch existing := already.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == r.requestTotal {
							r.requestTotal = existing
						} else {
							r.guardConflicts = existing
						}
					case *prometheus.HistogramVec:
						r.requestDuration = existing
					}
				}
			}
		}
		r.metricsInitialized = true
	})
}

// instrument records request metrics and an access log line per request.
func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequest(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if recorder.client != "" {
			fields = append(fields, "client", recorder.client)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Debug("http_request", fields...)
		}
	}
}

func (r *Router) recordRequest(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestDuration.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordConflict(namespace string) {
	if !r.metricsInitialized {
		return
	}
	r.guardConflicts.With(prometheus.Labels{"namespace": namespace}).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	client string
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetClient(client string) {
	sr.client = client
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
