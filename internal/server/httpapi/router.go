package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lastword/internal/server/engine"
	"lastword/internal/server/service"
)

type Router struct {
	services        *service.Services
	engine          *engine.Engine
	logger          *log.Logger
	cronToken       string
	maxRequestBytes int64
}

func NewRouter(services *service.Services, eng *engine.Engine, logger *log.Logger, cronToken string, maxRequestBytes int64) http.Handler {
	r := &Router{services: services, engine: eng, logger: logger, cronToken: cronToken, maxRequestBytes: maxRequestBytes}
	mux := chi.NewRouter()

	mux.Get("/health", r.handleHealth)
	mux.Post("/api/v1/auth/register", r.handleRegister)
	mux.Post("/api/v1/auth/login", r.handleLogin)
	mux.Post("/api/v1/auth/refresh", r.handleRefresh)

	// token possession authorizes; no session required
	mux.Post("/api/v1/checkin/{token}", r.handleCheckInByToken)

	// external scheduler entry point
	mux.Post("/api/v1/cron/sweep", r.handleSweep)

	mux.Group(func(pr chi.Router) {
		pr.Use(r.authMiddleware)
		pr.Get("/api/v1/secrets", r.handleListSecrets)
		pr.Post("/api/v1/secrets", r.handleCreateSecret)
		pr.Get("/api/v1/secrets/{id}", r.handleGetSecret)
		pr.Delete("/api/v1/secrets/{id}", r.handleDeleteSecret)
		pr.Post("/api/v1/secrets/{id}/checkin", r.handleCheckIn)
		pr.Post("/api/v1/secrets/{id}/pause", r.handlePause)
		pr.Post("/api/v1/secrets/{id}/resume", r.handleResume)
		pr.Put("/api/v1/secrets/{id}/interval", r.handleUpdateInterval)
		pr.Get("/api/v1/secrets/{id}/reminders", r.handleListReminders)
		pr.Get("/api/v1/secrets/{id}/disclosures", r.handleListDisclosures)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
