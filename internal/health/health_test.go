package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthzReportsEachCheck(t *testing.T) {
	checker := NewChecker(time.Second)
	checker.Add("postgres", func(context.Context) error { return nil })

	router := gin.New()
	router.GET("/healthz", checker.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())

	checker.Add("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"ok","redis":"connection refused"}}`, rec.Body.String())
}

func TestRunAppliesTimeout(t *testing.T) {
	checker := NewChecker(10 * time.Millisecond)
	checker.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	report := checker.Run(context.Background())
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Checks["slow"])
}

func TestGRPCHealthFollowsChecks(t *testing.T) {
	healthy := true
	checker := NewChecker(time.Second)
	checker.Add("postgres", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	listener := bufconn.Listen(1 << 20)
	server := checker.NewGRPCServer()
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	checker.Run(ctx)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	healthy = false
	checker.Run(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	checker.Shutdown()
	healthy = true
	checker.Run(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
