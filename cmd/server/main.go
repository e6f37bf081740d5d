package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"highwayhub/voice/internal/api"
	"highwayhub/voice/internal/auth"
	"highwayhub/voice/internal/config"
	"highwayhub/voice/internal/daily"
	"highwayhub/voice/internal/health"
	"highwayhub/voice/internal/hub"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/retry"
	"highwayhub/voice/internal/store"
)

const healthInterval = 30 * time.Second

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := log.New(cfg.Server.LogFormat)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", log.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	clock := clockwork.NewRealClock()
	var checks []health.Check

	var rooms store.Rooms
	switch cfg.Store.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr, DB: cfg.Store.RedisDB})
		defer rdb.Close()
		rooms = store.NewRedis(rdb, cfg.Voice.RoomTTL)
		checks = append(checks, health.Redis(rdb))
	case "memory":
		rooms = store.NewMemory(cfg.Store.CacheSize, cfg.Voice.RoomTTL)
	default:
		return errors.New("STORE_BACKEND must be memory or redis")
	}
	events := store.NewEventLog(cfg.Hub.EventLogSize, cfg.Store.CacheSize, cfg.Voice.RoomTTL, clock)

	deps := api.Deps{
		Rooms:       rooms,
		Events:      events,
		Limiter:     api.NewLimiter(cfg.Voice.TokenRatePerMin, cfg.Store.CacheSize),
		RoomPrefix:  cfg.Voice.RoomPrefix,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger.Module("api"),
	}

	var h *hub.Hub
	switch cfg.Voice.Provider {
	case "hub":
		issuer, err := auth.NewIssuer(cfg.Voice.TokenSecret, cfg.Voice.TokenTTL, clock)
		if err != nil {
			return err
		}
		registry := hub.NewRegistry(clock, cfg.Hub.LevelInterval, logger.Module("hub"))
		h = hub.New(issuer, registry, events, clock, logger.Module("hub"), hub.Options{
			OriginPatterns: originPatterns(cfg.Server.CORSOrigins),
			ReadLimit:      cfg.Hub.ReadLimit,
		})
		deps.Hub = h
		deps.Provider = &api.HubProvider{Issuer: issuer, PublicWSURL: cfg.Server.PublicWSURL}
	case "daily":
		if cfg.Daily.APIKey == "" || cfg.Daily.Domain == "" {
			return errors.New("DAILY_API_KEY and DAILY_DOMAIN are required for the daily provider")
		}
		r := retry.New(retry.Policy{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Budget: 10 * time.Second, Attempts: 5}, logger.Module("daily"))
		deps.Provider = &api.DailyProvider{
			Client:   daily.NewClient(cfg.Daily.APIKey, cfg.Daily.BaseURL, r, logger.Module("daily")),
			Domain:   cfg.Daily.Domain,
			Privacy:  cfg.Daily.RoomPrivacy,
			RoomTTL:  cfg.Voice.RoomTTL,
			TokenTTL: cfg.Voice.TokenTTL,
			Clock:    clock,
		}
		checks = append(checks, health.Daily(cfg.Daily.APIKey, cfg.Daily.BaseURL))
	default:
		return errors.New("VOICE_PROVIDER must be hub or daily")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(deps).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server starting", log.String("addr", cfg.Server.Addr), log.String("provider", cfg.Voice.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("gRPC health server starting", log.String("addr", cfg.Server.GRPCAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		watchHealth(gctx, hs, checks, logger.Module("health"))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received; stopping server")
		hs.Shutdown()
		if h != nil {
			h.Shutdown()
		}
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		return err
	})

	return g.Wait()
}

// watchHealth maps dependency checks to the gRPC serving status until ctx
// is done.
func watchHealth(ctx context.Context, hs *grpchealth.Server, checks []health.Check, logger *log.Logger) {
	update := func() {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		st := health.CheckAll(cctx, checks...)
		status := healthpb.HealthCheckResponse_SERVING
		if !st.OK {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("Health check failed", log.Any("checks", st.Checks))
		}
		hs.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// originPatterns turns CORS origins into websocket origin patterns, which
// match on host only.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, o)
	}
	return out
}

