package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/andreasstove999/order-fulfillment/internal/httpx"
	"github.com/andreasstove999/order-fulfillment/internal/metrics"
)

func NewRouter(h *OrderHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.CorrelationID)
	r.Use(httpx.Trace("order-service"))
	r.Use(httpx.Recover(h.logger))
	r.Use(httpx.AccessLog(h.logger))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Delete("/{id}", h.CancelOrder)
		r.Patch("/{id}/status", h.UpdateStatus)
		r.Post("/{id}/payment", h.PayOrder)
		r.Get("/{id}/saga", h.SagaLog)
	})

	return r
}
