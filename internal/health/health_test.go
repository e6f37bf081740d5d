package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestCheckAll(t *testing.T) {
	ok := Check{Name: "ok", Run: func(context.Context) error { return nil }}
	bad := Check{Name: "bad", Run: func(context.Context) error { return errors.New("down") }}

	st := CheckAll(context.Background(), ok)
	assert.True(t, st.OK)
	require.Len(t, st.Checks, 1)

	st = CheckAll(context.Background(), ok, bad)
	assert.False(t, st.OK)
	assert.Equal(t, "down", st.Checks[1].Error)
	assert.Contains(t, st.String(), "Health: FAIL")
	assert.Contains(t, st.String(), "✗ bad")
}

func TestDailyCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	assert.NoError(t, Daily("good", srv.URL).Run(ctx))
	assert.ErrorContains(t, Daily("bad", srv.URL).Run(ctx), "401")
	assert.ErrorContains(t, Daily("", srv.URL).Run(ctx), "not set")
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	assert.NoError(t, Redis(client).Run(context.Background()))
	mr.Close()
	assert.Error(t, Redis(client).Run(context.Background()))
}

func TestGRPCCheck(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx := context.Background()
	check := GRPC(lis.Addr().String())
	assert.NoError(t, check.Run(ctx))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.ErrorContains(t, check.Run(ctx), "NOT_SERVING")

	status, err := Probe(ctx, lis.Addr().String(), "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}
