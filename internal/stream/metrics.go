package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	frameDelivered = "delivered"
	frameMalformed = "malformed"
	frameStale     = "stale"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_stream_transitions_total",
		Help: "Stream manager state transitions by target state",
	}, []string{"to"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_stream_frames_total",
		Help: "Inbound frames by handling result",
	}, []string{"result"})

	reconnectDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tether_stream_reconnect_delay_seconds",
		Help:    "Scheduled reconnect backoff delays",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
	})
)
