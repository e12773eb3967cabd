// Package server exposes the memory engine over HTTP for the host chat
// application: lifecycle hooks, memory management and a WebSocket event
// stream.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/internal/engine"
	"github.com/solo125812/st-voyageai-memory/internal/logging"
)

// Server routes HTTP requests to the engine.
type Server struct {
	router *chi.Mux
	engine *engine.Engine
	hooks  engine.HostHooks
	hub    *Hub
}

// New builds the router. hub may be nil, in which case /ws is not served.
func New(cfg config.ServerConfig, eng *engine.Engine, hub *Hub) *Server {
	r := chi.NewRouter()
	s := &Server{
		router: r,
		engine: eng,
		hooks:  engine.NewHooks(eng),
		hub:    hub,
	}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/api/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
		r.Use(requireToken(cfg.APIToken))

		r.Route("/hooks", func(r chi.Router) {
			r.Post("/turn-received", s.turnReceived)
			r.Post("/turn-sent", s.turnSent)
			r.Post("/entity-changed", s.entityChanged)
			r.Post("/before-generation", s.beforeGeneration)
		})

		r.Get("/entities", s.listEntities)
		r.Route("/entities/{entity}", func(r chi.Router) {
			r.Get("/memories", s.listMemories)
			r.Delete("/memories", s.clearMemories)
			r.Delete("/memories/{id}", s.deleteMemory)
			r.Get("/stats", s.stats)
			r.Get("/export", s.exportMemories)
			r.Post("/import", s.importMemories)
			r.Post("/search", s.search)
			r.Post("/store", s.storeMessage)
			r.Post("/store-chat", s.storeChat)
		})

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Post("/test-connection", s.testConnection)
	})

	// Browsers cannot set headers on upgrades; /ws relies on the origin check.
	if hub != nil {
		r.Get("/ws", hub.ServeHTTP)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on the configured address and serves until ctx is
// cancelled. It returns the bound address, which differs from the
// configured one when port 0 is used, and a channel closed once shutdown
// has finished.
func Start(ctx context.Context, cfg config.ServerConfig, handler http.Handler) (string, <-chan struct{}, error) {
	logger := logging.With("server")
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, goerr.Wrap(err, "failed to listen", goerr.V("addr", addr))
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // store-chat runs for the whole batch
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	bound := listener.Addr().String()
	logger.Info("listening", "addr", bound)
	return bound, done, nil
}
