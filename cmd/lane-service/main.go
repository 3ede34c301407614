package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/lane-service/internal/bootstrap"
	"qms/lane-service/internal/config"
	"qms/lane-service/internal/httpapi"
	"qms/lane-service/internal/hub"
	"qms/lane-service/internal/queue"
	"qms/lane-service/internal/relay"
	"qms/lane-service/internal/reset"
	"qms/lane-service/internal/telemetry"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var version = "dev"

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("lane-service", version)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, closeStore, err := bootstrap.OpenStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	h := hub.New()
	var broadcaster queue.Broadcaster = h
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if cfg.RedisURL != "" {
		client, err := relay.Connect(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		defer client.Close()
		r := relay.New(client, cfg.RedisChannel, h)
		broadcaster = r
		go func() {
			if err := r.Run(relayCtx); err != nil {
				log.Printf("relay stopped: %v", err)
			}
		}()
	}

	var engine *queue.Engine
	scheduler := reset.NewScheduler(st, reset.WithOnReset(func(ctx context.Context) {
		engine.PublishSnapshot(ctx)
	}))
	engine = queue.NewEngine(st, broadcaster, queue.Options{
		MinutesPerPerson: cfg.MinutesPerPerson,
		RecentWindow:     cfg.RecentOpsWindow,
		Resetter:         scheduler,
	})
	if err := scheduler.Start(cfg.ResetCron); err != nil {
		log.Fatalf("reset scheduler: %v", err)
	}
	if _, err := scheduler.MaybeReset(context.Background()); err != nil {
		log.Printf("startup reset check: %v", err)
	}

	if cfg.JWTSecret == "" {
		log.Printf("JWT_SECRET is empty, staff and admin endpoints will reject every token")
	}
	realtime := httpapi.NewRealtime(h, engine, httpapi.RealtimeOptions{
		Heartbeat: cfg.SSEHeartbeat,
		Buffer:    cfg.ClientBuffer,
	})
	handler := httpapi.NewHandler(engine, httpapi.Options{
		JWTSecret: cfg.JWTSecret,
		Realtime:  realtime,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), "lane-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("lane-service listening on %s store=%s", server.Addr, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	scheduler.Stop()
	h.Close()
	stopRelay()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
