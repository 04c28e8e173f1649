package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "govledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govledger_verifications_total",
		Help: "On-demand ledger verifications by scope and result.",
	}, []string{"scope", "result"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "govledger_webhooks_total",
		Help: "Inbound partner webhooks by result.",
	}, []string{"result"})
)

// PrometheusMiddleware records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the Prometheus registry.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordVerification(scope string, verified bool) {
	result := "verified"
	if !verified {
		result = "failed"
	}
	verificationsTotal.WithLabelValues(scope, result).Inc()
}

func recordWebhook(result string) {
	webhooksTotal.WithLabelValues(result).Inc()
}
