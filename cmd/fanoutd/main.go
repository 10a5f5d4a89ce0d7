package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fanoutsh/fanout/internal/bus"
	"github.com/fanoutsh/fanout/internal/config"
	"github.com/fanoutsh/fanout/internal/deliver"
	"github.com/fanoutsh/fanout/internal/domain"
	"github.com/fanoutsh/fanout/internal/natsmirror"
	"github.com/fanoutsh/fanout/internal/server"
	"github.com/fanoutsh/fanout/internal/stats"
	"github.com/fanoutsh/fanout/internal/store"
	"github.com/fanoutsh/fanout/internal/topic"
	"github.com/fanoutsh/fanout/internal/websocket"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	// Storage
	var (
		events store.EventStore
		subs   store.SubscriptionStore
		dlq    store.DeadLetterStore
		pool   *pgxpool.Pool
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		events, subs, dlq = pg, pg, pg.DeadLetters()
		slog.Info("connected to database")
	default:
		mem := store.NewMemory(cfg.MaxEvents)
		events, subs, dlq = mem, mem, mem.DeadLetters()
		slog.Info("using in-memory store", "max_events", cfg.MaxEvents)
	}

	// Topic registry, optionally preloaded from config
	topics := topic.NewRegistry()
	if cfg.TopicsConfigPath != "" {
		if err := topics.LoadFile(cfg.TopicsConfigPath); err != nil {
			slog.Error("failed to load topics config", "error", err)
			os.Exit(1)
		}
		slog.Info("topics config loaded", "path", cfg.TopicsConfigPath)
	}

	// Optional NATS mirror, with optional embedded server
	var mirror bus.Mirror
	var embedded *natsmirror.EmbeddedServer
	if cfg.MirrorSubjectPrefix != "" {
		natsURL := cfg.NatsURL
		if cfg.NatsEmbedded {
			embedded, err = natsmirror.StartEmbedded(natsmirror.EmbeddedConfig{
				StoreDir: os.TempDir(),
				Port:     -1,
			})
			if err != nil {
				slog.Error("failed to start embedded NATS", "error", err)
				os.Exit(1)
			}
			defer embedded.Shutdown()
			natsURL = embedded.ClientURL()
		}

		m, err := natsmirror.Connect(ctx, natsmirror.Config{
			URL:           natsURL,
			Stream:        cfg.MirrorStream,
			SubjectPrefix: cfg.MirrorSubjectPrefix,
		})
		if err != nil {
			slog.Error("failed to connect NATS mirror", "error", err)
			os.Exit(1)
		}
		defer m.Close()
		mirror = m
	}

	// Delivery transports
	hub := websocket.NewHub()
	webhookDeliverer := deliver.NewWebhookDeliverer(cfg.DeliveryTimeout, cfg.WebhookSigningSecret, cfg.AllowPrivateEndpoints)
	deliverers := map[domain.ConnectionType]deliver.Deliverer{
		domain.ConnectionWebhook:   webhookDeliverer,
		domain.ConnectionWebSocket: deliver.NewWebSocketDeliverer(hub),
		domain.ConnectionDirect:    deliver.NewDirectCallDeliverer(),
	}

	b := bus.New(bus.Config{
		Dispatcher: bus.DispatcherConfig{
			DeliveryTimeout: cfg.DeliveryTimeout,
			ErrorThreshold:  cfg.ErrorThreshold,
			ErrorWindow:     cfg.ErrorWindow,
		},
		AllowPrivateEndpoints: cfg.AllowPrivateEndpoints,
	}, events, subs, dlq, topics, stats.New(), deliverers, webhookDeliverer, mirror)

	if err := b.Start(ctx); err != nil {
		slog.Error("failed to start bus", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg, b, hub, pool)

	go func() {
		slog.Info("starting server", "port", cfg.Port)
		if err := srv.Start(); err != nil {
			slog.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
	}

	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	slog.SetDefault(slog.New(h))
}
