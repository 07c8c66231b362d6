package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_frames_received_total",
		Help: "Inbound JSON-RPC frames by message type",
	}, []string{"message_type"})

	framesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_frames_rejected_total",
		Help: "Inbound frames that failed envelope or frame validation",
	})

	dispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_dispatch_errors_total",
		Help: "Handler errors by protocol error code",
	}, []string{"code"})

	clientRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_client_retries_total",
		Help: "Outbound request retry attempts",
	})

	clientCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "league_client_call_duration_seconds",
		Help:    "Duration of outbound JSON-RPC calls",
		Buckets: prometheus.DefBuckets,
	})
)
