package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"huddle/internal/config"
	"huddle/internal/server/handlers"
	"huddle/internal/service/moments"
	"huddle/internal/service/moods"
	"huddle/internal/service/presence"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.ServerConfig,
	momentService *moments.Service,
	moodAggregator *moods.Aggregator,
	hub *presence.Hub,
) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	momentHandler := handlers.NewMomentHandler(momentService, moodAggregator)
	moodHandler := handlers.NewMoodHandler(moodAggregator)

	router.Handle("/metrics", promhttp.Handler())

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Route("/v1", func(r chi.Router) {
			r.Use(handlers.Identity)

			// Moments API
			r.Route("/moments", func(r chi.Router) {
				r.Post("/", momentHandler.CreateOrJoin)
				r.Get("/nearby", momentHandler.GetNearby)
				r.Get("/{id}", momentHandler.GetMoment)
				r.Post("/{id}/leave", momentHandler.LeaveMoment)

				// Moment posts
				r.Route("/{id}/posts", func(r chi.Router) {
					r.Get("/", momentHandler.ListPosts)
					r.Post("/", momentHandler.CreatePost)
					r.Post("/{postID}/reactions", momentHandler.ReactToPost)
				})

				// Moment mood
				r.Route("/{id}/mood", func(r chi.Router) {
					r.Get("/", moodHandler.GetSummary)
					r.Post("/", moodHandler.RecordVote)
				})
			})
		})
	})

	// WebSocket endpoint for real-time room communication
	router.With(handlers.Identity).Get("/ws", handlers.WebSocketHandler(hub))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
