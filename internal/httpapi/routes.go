package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/buzzer-backend/internal/registry"
	"github.com/DoyleJ11/buzzer-backend/internal/ws"
)

func SetupRoutes(reg *registry.Registry, log *zap.Logger, wsOpts ...ws.Option) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz(reg, log))
	r.Get("/ws", ws.Handler(reg, log, wsOpts...))
	return r
}
