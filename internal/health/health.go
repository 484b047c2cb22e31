// Package health reports dependency liveness over HTTP and the standard gRPC
// health protocol.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/observability"
)

// Check tests one dependency.
type Check func(ctx context.Context) error

// Report is the body of /healthz.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Checker runs the registered checks and mirrors the result into the gRPC
// health service.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	server  *grpchealth.Server
}

// NewChecker creates a Checker whose checks each get timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:  make(map[string]Check),
		timeout: timeout,
		server:  grpchealth.NewServer(),
	}
}

// Add registers check under name, replacing any previous one.
func (c *Checker) Add(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check and updates the gRPC serving status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	report := Report{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		c.mu.RLock()
		check := c.checks[name]
		c.mu.RUnlock()

		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			report.Status = "degraded"
			report.Checks[name] = err.Error()
			logger.FromContext(ctx).Warn().Err(err).Str("check", name).Msg("health check failed")
			continue
		}
		report.Checks[name] = "ok"
	}

	status := healthpb.HealthCheckResponse_SERVING
	if report.Status != "ok" {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.server.SetServingStatus("", status)
	return report
}

// Watch reruns the checks every interval until ctx ends.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) {
	c.Run(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Run(ctx)
		}
	}
}

// Handler serves /healthz: 200 when every check passes, 503 otherwise.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		report := c.Run(ctx.Request.Context())
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, report)
	}
}

// Shutdown flips every service to NOT_SERVING so balancers drain first.
func (c *Checker) Shutdown() {
	c.server.Shutdown()
}

// NewGRPCServer returns a server exposing the health service with metrics and
// tracing instrumentation.
func (c *Checker) NewGRPCServer() *grpc.Server {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(server, c.server)
	return server
}
