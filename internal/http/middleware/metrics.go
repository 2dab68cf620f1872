// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus collectors for HTTP traffic. Every series is
// labelled by the registered Gin route, never the raw URL, so chat ids do not
// create new series; requests that match no route share the "unmatched"
// label. Upload sizes get their own histogram because PDF bodies are orders
// of magnitude larger than the JSON traffic.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that hit no registered route.
const unmatchedRoute = "unmatched"

// Values of the "limiter" label on http_requests_rejected_total.
const (
	limiterBucket = "bucket"
	limiterWindow = "window"
)

var (
	httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "path", "status"})

	// Status is left out to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "HTTP request latency by method and route.",
		// Summaries and sends wait on the model; reads are fast.
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"method", "path"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "HTTP requests currently being served.",
	})

	httpReqSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_size_bytes",
		Help:    "Declared request body size by route, for requests that carry one.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10), // 256B..64MiB
	}, []string{"path"})

	httpRespSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size by method and route.",
		Buckets: prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
	}, []string{"method", "path"})

	httpRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_rejected_total",
		Help: "Requests answered 429 by a rate limiter.",
	}, []string{"limiter"})
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpReqSize, httpRespSize, httpRejected)
}

// routeLabel is the registered route of c, or "unmatched".
func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

// Metrics instruments every request:
//
//   - http_requests_total{method,path,status}
//   - http_request_duration_seconds{method,path}
//   - http_requests_inflight
//   - http_request_size_bytes{path} when Content-Length is known
//   - http_response_size_bytes{method,path} when a body was written
//
// Mount /metrics with promhttp next to it.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := routeLabel(c)
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if n := c.Request.ContentLength; n > 0 {
			httpReqSize.WithLabelValues(path).Observe(float64(n))
		}
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
