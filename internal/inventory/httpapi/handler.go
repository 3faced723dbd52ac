package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/httpx"
	"github.com/andreasstove999/order-fulfillment/internal/inventory"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
)

type Handler struct {
	svc    *inventory.Service
	logger *zap.Logger
}

func NewHandler(svc *inventory.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var (
		recs []inventory.Record
		err  error
	)
	if raw := r.URL.Query().Get("lowStockBelow"); raw != "" {
		threshold, convErr := strconv.Atoi(raw)
		if convErr != nil || threshold < 0 {
			httpx.WriteError(w, http.StatusBadRequest, "lowStockBelow must be a non-negative integer")
			return
		}
		recs, err = h.svc.LowStock(r.Context(), threshold)
	} else {
		recs, err = h.svc.List(r.Context())
	}
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, recs)
}

type createRequest struct {
	ProductID      string `json:"productId" validate:"required"`
	AvailableStock int    `json:"availableStock" validate:"gte=0"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.svc.CreateInventory(r.Context(), req.ProductID, req.AvailableStock)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rec)
}

type updateRequest struct {
	AvailableStock int `json:"availableStock" validate:"gte=0"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.svc.UpdateInventory(r.Context(), chi.URLParam(r, "productId"), req.AvailableStock)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	qty, ok := quantity(w, r)
	if !ok {
		return
	}
	available, err := h.svc.CheckStock(r.Context(), chi.URLParam(r, "productId"), qty)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, available)
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.ReserveStock)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.ReleaseStock)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.ConfirmReservation)
}

type mutation func(ctx context.Context, productID string, qty int) (inventory.Record, error)

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op mutation) {
	qty, ok := quantity(w, r)
	if !ok {
		return
	}
	rec, err := op(r.Context(), chi.URLParam(r, "productId"), qty)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func quantity(w http.ResponseWriter, r *http.Request) (int, bool) {
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || qty <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "quantity must be a positive integer")
		return 0, false
	}
	return qty, true
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrAlreadyExists),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrInvalidState):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		logging.FromContext(r.Context(), h.logger).Error("inventory request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
