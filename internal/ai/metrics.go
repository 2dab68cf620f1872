package ai

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	modelRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_model_requests_total",
			Help: "Generative model calls by outcome.",
		},
		[]string{"outcome"},
	)
	modelDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_model_request_duration_seconds",
			Help:    "Latency of generative model calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)
)

func init() {
	prometheus.MustRegister(modelRequests, modelDuration)
}

type instrumented struct{ next Model }

// Instrument records call counts and latency for every call to m.
func Instrument(m Model) Model { return instrumented{next: m} }

func (i instrumented) Chat(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := i.next.Chat(ctx, req)
	modelDuration.Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	modelRequests.WithLabelValues(outcome).Inc()
	return out, err
}
