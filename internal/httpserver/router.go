package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"llms-gateway/internal/handlers"
	"llms-gateway/internal/metrics"
	"llms-gateway/internal/middleware"
)

const (
	maxBodySize = 32 << 20 // inline images and audio make requests large
	readTimeout = 15 * time.Second
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Chat   *handlers.ChatHandler
	Models *handlers.ModelsHandler
	Admin  *handlers.AdminHandler
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.MaxBodySize(maxBodySize))

	// completions may stream for minutes, so no request timeout here
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", h.Chat.ChatCompletion)
		r.With(middleware.Timeout(readTimeout)).Get("/models", h.Models.OpenAIModels)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(readTimeout))
		r.Get("/models", h.Models.ActiveModels)
		r.Get("/models/list", h.Models.ModelIDs)
		r.Get("/status", h.Models.Status)
	})

	// reload may run model discovery against every provider
	r.Post("/admin/reload", h.Admin.Reload)

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
