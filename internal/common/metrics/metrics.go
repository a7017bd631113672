package metrics

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "judgehub"

var (
	// HTTPRequestsTotal counts API requests by route, method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of http requests handled by the dispatcher.",
		},
		[]string{"path", "method", "code"},
	)

	// ConnectedJudges is the number of live worker connections.
	ConnectedJudges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_judges",
			Help:      "Number of judge workers currently connected.",
		},
	)

	// TasksClaimed counts tasks handed to a worker.
	TasksClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_claimed_total",
			Help:      "Total number of tasks claimed from the queue.",
		},
		[]string{"type"},
	)

	// TasksRequeued counts tasks put back after a disconnect or failed send.
	TasksRequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_requeued_total",
			Help:      "Total number of tasks returned to the queue.",
		},
		[]string{"reason"},
	)

	// JudgeMessages counts worker reports by key and handling result.
	JudgeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_messages_total",
			Help:      "Total number of worker messages by key and result.",
		},
		[]string{"key", "result"},
	)

	// PropagationFailures counts post-judge steps that exhausted their retries.
	PropagationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagation_failures_total",
			Help:      "Total number of post-judge propagation steps that failed.",
		},
		[]string{"step"},
	)

	// PropagationRecovered counts backlog records whose propagation later succeeded.
	PropagationRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagation_recovered_total",
			Help:      "Total number of records propagated by the backlog sweeper.",
		},
	)

	// PendingSequences is the number of out-of-order messages held back.
	PendingSequences = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_sequenced_messages",
			Help:      "Number of worker messages buffered until earlier sequence numbers arrive.",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records HTTPRequestsTotal for every routed request.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
