package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/andreasstove999/order-fulfillment/internal/httpx"
	"github.com/andreasstove999/order-fulfillment/internal/metrics"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.CorrelationID)
	r.Use(httpx.Trace("inventory-service"))
	r.Use(httpx.Recover(h.logger))
	r.Use(httpx.AccessLog(h.logger))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/inventory", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{productId}", h.Get)
		r.Put("/{productId}", h.Update)
		r.Get("/{productId}/check", h.Check)
		r.Post("/{productId}/reserve", h.Reserve)
		r.Post("/{productId}/release", h.Release)
		r.Post("/{productId}/confirm", h.Confirm)
	})

	return r
}
