package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

var (
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voiceframe",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "voiceframe", Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "path", "status"},
	)
	// External ops (gateway calls, SMTP sends)
	externalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "voiceframe", Name: "external_op_duration_seconds", Help: "Duration of external operations"},
		[]string{"op", "outcome"},
	)
	externalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "voiceframe", Name: "external_op_total", Help: "Total external operations"},
		[]string{"op", "outcome"},
	)
	breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "voiceframe", Name: "circuit_breaker_open", Help: "Circuit breaker state: 1=open, 0=closed"},
		[]string{"breaker"},
	)
	// Render queue + DLQ
	dlqInsertTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "voiceframe", Name: "dlq_insert_total", Help: "Total DLQ insertions"},
		[]string{"stream", "reason"},
	)
	dlqDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "voiceframe", Name: "dlq_depth", Help: "Current DLQ depth"},
		[]string{"stream"},
	)
	queuePending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "voiceframe", Name: "queue_pending", Help: "Pending messages in queue consumer groups"},
		[]string{"stream"},
	)
	renderTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "voiceframe", Name: "render_total", Help: "Poster render attempts by outcome"},
		[]string{"outcome"},
	)
	renderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "voiceframe", Name: "render_duration_seconds", Help: "Poster render duration", Buckets: prometheus.DefBuckets},
	)
	// Order lifecycle
	orderEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "voiceframe", Name: "order_events_total", Help: "Order lifecycle transitions"},
		[]string{"event"},
	)
	// Uploads
	uploadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "voiceframe", Name: "upload_total", Help: "Upload attempts by kind and outcome"},
		[]string{"kind", "outcome"},
	)
	// Rate limiting
	rateLimitRejectTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "voiceframe", Name: "rate_limit_reject_total", Help: "Requests rejected by the rate limiter"},
	)
	// Expiry sweeper
	sweptSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "voiceframe", Name: "swept_sessions_total", Help: "Expired draft sessions removed by the sweeper"},
	)
)

func init() {
	prometheus.MustRegister(reqDuration, reqTotal, externalDuration, externalTotal, breakerOpen,
		dlqInsertTotal, dlqDepth, queuePending, renderTotal, renderDuration, orderEventsTotal,
		uploadTotal, rateLimitRejectTotal, sweptSessionsTotal)
}

// MetricsMiddleware records basic HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		observer := reqDuration.WithLabelValues(c.Request.Method, path, toStr(status))
		// attach exemplar with trace_id if present
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			if eo, ok := observer.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(dur, prometheus.Labels{"trace_id": sc.TraceID().String()})
			} else {
				observer.Observe(dur)
			}
		} else {
			observer.Observe(dur)
		}
		reqTotal.With(prometheus.Labels{"method": c.Request.Method, "path": path, "status": toStr(status)}).Inc()
	}
}

func toStr(i int) string { return strconv.Itoa(i) }

// RecordExternalOp records an external operation metric with duration and outcome
func RecordExternalOp(op string, dur time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	externalDuration.WithLabelValues(op, outcome).Observe(dur.Seconds())
	externalTotal.WithLabelValues(op, outcome).Inc()
}

// SetBreakerState updates the breaker state gauge (1=open, 0=closed)
func SetBreakerState(name string, open bool) {
	if open {
		breakerOpen.WithLabelValues(name).Set(1)
	} else {
		breakerOpen.WithLabelValues(name).Set(0)
	}
}

// RecordDLQInsert increments the DLQ insertion counter
func RecordDLQInsert(stream string, reason string) {
	dlqInsertTotal.WithLabelValues(stream, reason).Inc()
}

// SetDLQDepth sets the current DLQ depth gauge
func SetDLQDepth(stream string, n int64) {
	dlqDepth.WithLabelValues(stream).Set(float64(n))
}

// SetQueuePending sets the current pending messages gauge
func SetQueuePending(stream string, n int64) {
	queuePending.WithLabelValues(stream).Set(float64(n))
}

// RecordRender records a poster render attempt.
func RecordRender(dur time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	renderTotal.WithLabelValues(outcome).Inc()
	renderDuration.Observe(dur.Seconds())
}

// RecordOrderEvent counts an order lifecycle transition ("paid", "failed", "fulfilled").
func RecordOrderEvent(event string) { orderEventsTotal.WithLabelValues(event).Inc() }

// RecordUpload counts an upload attempt.
func RecordUpload(kind string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	uploadTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordRateLimitReject increments the rate limiter rejection counter.
func RecordRateLimitReject() { rateLimitRejectTotal.Inc() }

// RecordSweptSessions adds to the sweeper counter.
func RecordSweptSessions(n int) { sweptSessionsTotal.Add(float64(n)) }
