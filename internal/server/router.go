package server

import (
	"net/http"

	"github.com/cloo-solutions/repokit/internal/api"
	"github.com/cloo-solutions/repokit/internal/api/handlers"
	"github.com/cloo-solutions/repokit/internal/api/middleware"
	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/go-chi/chi/v5"
)

const defaultMaxBodyBytes int64 = 1 << 20

type RouterConfig struct {
	Logger       logger.Logger
	MaxBodyBytes int64
	NotesHandler *handlers.NotesHandler
	// Provider is reported by the health check.
	Provider string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.LimitBody(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok", "provider": cfg.Provider})
	})

	r.Route("/notes", func(r chi.Router) {
		r.Get("/", cfg.NotesHandler.List)
		r.Post("/", cfg.NotesHandler.Create)
		r.Delete("/", cfg.NotesHandler.DeleteAll)
		r.Post("/batch", cfg.NotesHandler.Batch)
		r.Get("/{id}", cfg.NotesHandler.Get)
		r.Put("/{id}", cfg.NotesHandler.Update)
		r.Delete("/{id}", cfg.NotesHandler.Delete)
	})

	return r
}
