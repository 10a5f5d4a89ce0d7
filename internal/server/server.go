package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanoutsh/fanout/internal/bus"
	"github.com/fanoutsh/fanout/internal/config"
	"github.com/fanoutsh/fanout/internal/handler"
	"github.com/fanoutsh/fanout/internal/middleware"
	"github.com/fanoutsh/fanout/internal/websocket"
)

// Server is the HTTP surface over the broker.
type Server struct {
	cfg         *config.Config
	bus         *bus.Bus
	hub         *websocket.Hub
	db          *pgxpool.Pool // nil with the memory backend
	rateLimiter *middleware.RateLimiter
	server      *http.Server

	purgeCancel context.CancelFunc
}

// New creates a server. db is nil when running on the memory backend;
// it is only used for readiness checks.
func New(cfg *config.Config, b *bus.Bus, hub *websocket.Hub, db *pgxpool.Pool) *Server {
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RatePerSecond:     cfg.PublishRateLimit,
		Burst:             cfg.PublishRateBurst,
		AnonRatePerSecond: 10,
		AnonBurst:         20,
		CleanupInterval:   5 * time.Minute,
		MaxAge:            10 * time.Minute,
	})

	s := &Server{
		cfg:         cfg,
		bus:         b,
		hub:         hub,
		db:          db,
		rateLimiter: rateLimiter,
	}
	s.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.routes(),
	}

	// Periodic dead-letter retention sweep.
	purgeCtx, purgeCancel := context.WithCancel(context.Background())
	s.purgeCancel = purgeCancel
	go s.purgeLoop(purgeCtx)

	return s
}

// purgeLoop removes dead-letter entries past retention on a ticker.
func (s *Server) purgeLoop(ctx context.Context) {
	interval := s.cfg.DLQPurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.DLQRetention)
			n, err := s.bus.PurgeDeadLetters(ctx, cutoff)
			if err != nil {
				slog.Error("dead-letter purge failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("dead-letter retention sweep", "purged", n)
			}
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Shutdown drains inflight requests, then stops delivery.
func (s *Server) Shutdown(ctx context.Context) error {
	s.purgeCancel()
	s.rateLimiter.Stop()

	err := s.server.Shutdown(ctx)
	s.bus.Stop()
	return err
}

// pinger adapts the pgx pool to the health handler; a nil pool means
// nothing to check.
func (s *Server) pinger() handler.Pinger {
	if s.db == nil {
		return nil
	}
	return s.db
}
