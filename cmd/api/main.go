package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/absens/internal/api"
	"github.com/your-org/absens/internal/api/handlers"
	"github.com/your-org/absens/internal/api/ws"
	"github.com/your-org/absens/internal/auth"
	"github.com/your-org/absens/internal/config"
	"github.com/your-org/absens/internal/ingest"
	"github.com/your-org/absens/internal/lifecycle"
	"github.com/your-org/absens/internal/matching"
	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/internal/queue"
	"github.com/your-org/absens/internal/recognition"
	"github.com/your-org/absens/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting absens API service",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"indexing", cfg.Indexing.Mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		slog.Error("open record store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Redis (optional)
	redisClient, err := storage.NewRedisClient(cfg.Redis)
	if err != nil {
		slog.Error("connect to redis", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	recognizer := recognition.NewClient(cfg.Recognition)

	checks := []handlers.Check{
		{Name: "store", Ping: db.Ping},
		{Name: "minio", Ping: minioStore.Ping},
		{Name: "nats", Ping: producer.Ping},
		// submissions and reads keep working while recognition is down
		{Name: "recognition", Ping: recognizer.Ping, Optional: true},
	}

	opts := []ingest.Option{
		ingest.WithEventPublisher(producer),
		ingest.WithMaxPhotoBytes(cfg.Server.MaxPhotoBytes),
	}
	if redisClient != nil {
		defer redisClient.Close()
		idem := storage.NewRedisIdempotencyStore(redisClient, cfg.Redis.IdempotencyTTL)
		opts = append(opts, ingest.WithIdempotency(idem))
		checks = append(checks, handlers.Check{Name: "redis", Ping: idem.Ping})
	} else {
		slog.Info("redis not configured, idempotency keys disabled")
	}

	// Index dispatch
	var (
		dispatcher ingest.Dispatcher
		pool       *ingest.PoolDispatcher
	)
	switch cfg.Indexing.Mode {
	case "local":
		pool = ingest.NewPoolDispatcher(ingest.NewIndexer(recognizer, db), cfg.Indexing.Workers, cfg.Indexing.QueueSize)
		pool.Start(ctx)
		dispatcher = pool
	default:
		dispatcher = ingest.NewQueueDispatcher(producer)
		go reportQueueDepth(ctx, producer)
	}

	orchestrator, err := ingest.NewOrchestrator(db, minioStore, dispatcher, opts...)
	if err != nil {
		slog.Error("init ingest orchestrator", "error", err)
		os.Exit(1)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create record event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Each API replica needs its own durable to see every event.
	host, _ := os.Hostname()
	err = consumer.ConsumeRecordEvents(ctx, "api-events-"+host, func(_ context.Context, evt models.RecordEvent) error {
		hub.BroadcastRecordEvent(evt)
		return nil
	})
	if err != nil {
		slog.Warn("start record event consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:        cfg.Server.APIKey,
		Tokens:        auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		MaxPhotoBytes: cfg.Server.MaxPhotoBytes,
		Ingest:        orchestrator,
		Records:       db,
		Matcher:       matching.NewResolver(recognizer, db, slog.Default()),
		Lifecycle:     lifecycle.NewManager(db, producer, slog.Default()),
		Photos:        minioStore,
		Reconciler:    ingest.NewReconciler(db, dispatcher, ingest.WithStaleAfter(cfg.Indexing.StaleAfter)),
		Checks:        checks,
		Hub:           hub,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	// drain queued index tasks while the store is still open
	if pool != nil {
		pool.Stop()
	}
	cancel()

	slog.Info("API server stopped")
}

func reportQueueDepth(ctx context.Context, producer *queue.Producer) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := producer.QueueDepth(ctx)
			if err == nil {
				observability.QueueDepth.Set(float64(depth))
			}
		}
	}
}
