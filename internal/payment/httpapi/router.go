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
	r.Use(httpx.Trace("payment-service"))
	r.Use(httpx.Recover(h.logger))
	r.Use(httpx.AccessLog(h.logger))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/payments", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/process", h.Process)
		r.Get("/order/{orderId}", h.GetByOrder)
		r.Get("/transaction/{transactionId}", h.GetByTransaction)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/refund", h.Refund)
	})

	return r
}
