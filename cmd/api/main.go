// Command api runs the community archive request service: HTTP API, metrics
// and an optional gRPC health listener.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"crewarchive.org/internal/config"
	"crewarchive.org/internal/httpapi"
	"crewarchive.org/internal/notify"
	"crewarchive.org/internal/obs"
	"crewarchive.org/internal/requests"
	"crewarchive.org/internal/store/pg"
	"crewarchive.org/internal/stream"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store  requests.Store
		pinger httpapi.Pinger
	)
	if cfg.Postgres.DSN != "" {
		pgStore, err := pg.Open(ctx, cfg.Postgres.DSN,
			cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer func() { _ = pgStore.Close() }()
		store = pgStore
		pinger = pgStore
	} else {
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "no postgres dsn configured, using in-memory store",
		})
		store = requests.NewInMemory()
	}

	engine, err := requests.NewService(store, requests.WithNotifier(notify.LogEmitter{}))
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	broker := stream.NewBroker()
	router := httpapi.NewRouter(httpapi.Config{
		Engine:         engine,
		Broker:         broker,
		Readiness:      pinger,
		Version:        version,
		Commit:         commit,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Printf(`{"type":"boot","msg":"http listening","addr":%q,"version":%q}`, cfg.HTTP.Addr, version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcServer = grpc.NewServer()
		healthSrv := health.NewServer()
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		reflection.Register(grpcServer)
		go func() {
			logger.Printf(`{"type":"boot","msg":"grpc listening","addr":%q}`, cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	obs.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Println(`{"type":"boot","msg":"shutdown signal received"}`)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	obs.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}
