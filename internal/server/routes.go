package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fanoutsh/fanout/internal/handler"
	"github.com/fanoutsh/fanout/internal/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CallerIdentity)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks (no auth)
	healthHandler := handler.NewHealthHandler(s.pinger())
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	eventsHandler := handler.NewEventsHandler(s.bus)
	subsHandler := handler.NewSubscriptionsHandler(s.bus)
	topicsHandler := handler.NewTopicsHandler(s.bus)
	replayHandler := handler.NewReplayHandler(s.bus)
	dlqHandler := handler.NewDLQHandler(s.bus)
	statsHandler := handler.NewStatsHandler(s.bus)
	wsHandler := handler.NewWSHandler(s.bus, s.hub)

	// WebSocket endpoint at root (no /api/v1 prefix for WS)
	r.Get("/ws", wsHandler.Attach)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.rateLimiter))

		// Events
		r.Post("/events", eventsHandler.Publish)
		r.Post("/events/batch", eventsHandler.PublishBatch)
		r.Get("/events", eventsHandler.Query)
		r.Get("/events/query", eventsHandler.Query)

		// Subscriptions
		r.Post("/subscriptions", subsHandler.Create)
		r.Get("/subscriptions", subsHandler.List)
		r.Get("/subscriptions/{id}", subsHandler.Get)
		r.Delete("/subscriptions/{id}", subsHandler.Cancel)
		r.Post("/subscriptions/{id}/pause", subsHandler.Pause)
		r.Post("/subscriptions/{id}/resume", subsHandler.Resume)
		r.Post("/subscriptions/{id}/reactivate", subsHandler.Reactivate)

		// Topics
		r.Get("/topics", topicsHandler.List)
		r.Post("/topics", topicsHandler.Register)
		r.Get("/topics/*", topicsHandler.Events)

		// Replay
		r.Post("/replays", replayHandler.Start)
		r.Post("/replay", replayHandler.Start)
		r.Get("/replays", replayHandler.List)
		r.Get("/replays/{id}", replayHandler.Get)
		r.Post("/replays/{id}/cancel", replayHandler.Cancel)

		// Dead letters
		r.Get("/dlq", dlqHandler.List)
		r.Get("/dlq/{id}", dlqHandler.Get)
		r.Post("/dlq/{id}/redrive", dlqHandler.Redrive)
		r.Post("/dlq/redrive-all", dlqHandler.RedriveAll)
		r.Delete("/dlq/purge", dlqHandler.Purge)
		r.Delete("/dlq/{id}", dlqHandler.Delete)

		// Stats
		r.Get("/stats", statsHandler.Overview)
		r.Get("/metrics", statsHandler.Overview)
	})

	return r
}
