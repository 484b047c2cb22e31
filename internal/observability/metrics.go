package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_db_operation_duration_seconds",
			Help:    "Duration of wrapped storage operations, including retries.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "outcome"},
	)
	dbRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_db_operation_retries_total",
			Help: "Number of retried storage operation attempts.",
		},
		[]string{"operation"},
	)
	messagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_group_messages_sent_total",
			Help: "Group messages committed.",
		},
	)
	reactionTogglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reaction_toggles_total",
			Help: "Reaction toggles by direction.",
		},
		[]string{"direction"},
	)
	moderationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_moderation_actions_total",
			Help: "Moderation transitions by action and content type.",
		},
		[]string{"action", "content_type"},
	)
	postCommitFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_post_commit_failures_total",
			Help: "Failed best-effort post-commit side effects.",
		},
		[]string{"task"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		dbOperationDuration,
		dbRetriesTotal,
		messagesSentTotal,
		reactionTogglesTotal,
		moderationActionsTotal,
		postCommitFailuresTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func ObserveDBOperation(operation, outcome string, d time.Duration) {
	dbOperationDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

func IncDBRetry(operation string) {
	dbRetriesTotal.WithLabelValues(operation).Inc()
}

func IncMessagesSent() {
	messagesSentTotal.Inc()
}

func IncReactionToggle(direction string) {
	reactionTogglesTotal.WithLabelValues(direction).Inc()
}

func IncModerationAction(action, contentType string) {
	moderationActionsTotal.WithLabelValues(action, contentType).Inc()
}

func IncPostCommitFailure(task string) {
	postCommitFailuresTotal.WithLabelValues(task).Inc()
}
