package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/httpx"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/order"
	"github.com/andreasstove999/order-fulfillment/internal/payment"
	"github.com/andreasstove999/order-fulfillment/internal/resilience"
)

// sagaTimeout bounds a whole request so a saga step cannot hang.
const sagaTimeout = 30 * time.Second

type OrderHandler struct {
	orch   *order.Orchestrator
	logger *zap.Logger
}

func NewOrderHandler(orch *order.Orchestrator, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orch: orch, logger: logger}
}

func (h *OrderHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type itemRequest struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	UserID    string        `json:"userId" validate:"required"`
	AddressID string        `json:"addressId"`
	Items     []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	lines := make([]order.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, order.Line{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}

	ctx, cancel := context.WithTimeout(r.Context(), sagaTimeout)
	defer cancel()

	o, err := h.orch.CreateOrder(ctx, order.CreateRequest{UserID: req.UserID, AddressID: req.AddressID, Items: lines})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, o)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orch.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) SagaLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.orch.SagaLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if log == nil {
		log = order.SagaLog{}
	}
	httpx.WriteJSON(w, http.StatusOK, log)
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 0)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	size, err := intParam(q.Get("size"), order.DefaultPageSize)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "size must be an integer")
		return
	}

	p, err := h.orch.ListOrders(r.Context(), q.Get("userId"), page, size)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orch.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), sagaTimeout)
	defer cancel()

	if _, err := h.orch.CancelOrder(ctx, chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type payRequest struct {
	PaymentMethod  string `json:"paymentMethod" validate:"required"`
	CardToken      string `json:"cardToken" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

func (h *OrderHandler) PayOrder(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sagaTimeout)
	defer cancel()

	rec, err := h.orch.PayOrder(ctx, chi.URLParam(r, "id"), order.PayRequest{
		Method:         req.PaymentMethod,
		CardToken:      req.CardToken,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, rec)
}

func (h *OrderHandler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrValidation), errors.Is(err, payment.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInsufficientStock), errors.Is(err, order.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrPaymentFailed):
		httpx.WriteError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, resilience.ErrServiceUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logging.FromContext(r.Context(), h.logger).Error("order request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
