package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		fmt.Fprintf(&b, "  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			fmt.Fprintf(&b, " - %s", c.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Check probes one dependency.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// CheckAll runs all health checks and returns combined status
func CheckAll(ctx context.Context, checks ...Check) HealthStatus {
	results := make([]CheckResult, 0, len(checks))
	allOK := true
	for _, c := range checks {
		start := time.Now()
		err := c.Run(ctx)
		r := CheckResult{Name: c.Name, OK: err == nil, Latency: time.Since(start)}
		if err != nil {
			r.Error = err.Error()
			allOK = false
		}
		results = append(results, r)
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    results,
		CheckedAt: time.Now().UTC(),
	}
}

// Daily lists one room with the API key, the lightest authenticated call.
func Daily(apiKey, baseURL string) Check {
	client := resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")).SetTimeout(5 * time.Second)
	return Check{Name: "daily", Run: func(ctx context.Context) error {
		if apiKey == "" {
			return fmt.Errorf("DAILY_API_KEY not set")
		}
		resp, err := client.R().
			SetContext(ctx).
			SetAuthToken(apiKey).
			SetQueryParam("limit", "1").
			Get("/rooms")
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		switch {
		case resp.StatusCode() == 401:
			return fmt.Errorf("invalid API key (401)")
		case resp.StatusCode() != 200:
			body := resp.String()
			if len(body) > 256 {
				body = body[:256]
			}
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), body)
		}
		return nil
	}}
}

func Redis(client redis.UniversalClient) Check {
	return Check{Name: "redis", Run: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// Probe asks a gRPC health server for the status of service ("" for the
// whole server).
func Probe(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// GRPC checks that the health server at addr reports SERVING.
func GRPC(addr string) Check {
	return Check{Name: "grpc", Run: func(ctx context.Context) error {
		status, err := Probe(ctx, addr, "")
		if err != nil {
			return err
		}
		if status != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("status %s", status)
		}
		return nil
	}}
}
