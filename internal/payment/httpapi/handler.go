package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/httpx"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/payment"
)

type Handler struct {
	svc    *payment.Service
	logger *zap.Logger
}

func NewHandler(svc *payment.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type processRequest struct {
	OrderID        string          `json:"orderId" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"paymentMethod" validate:"required"`
	CardToken      string          `json:"cardToken" validate:"required"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		httpx.WriteError(w, http.StatusBadRequest, "amount must be greater than 0")
		return
	}

	rec, err := h.svc.ProcessPayment(r.Context(), payment.Request{
		OrderID:        req.OrderID,
		Amount:         req.Amount,
		Method:         req.PaymentMethod,
		CardToken:      req.CardToken,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rec)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "refund requested"
	}
	rec, err := h.svc.RefundPayment(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.svc.GetPayment(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) GetByOrder(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.svc.GetByOrder(r.Context(), chi.URLParam(r, "orderId")))
}

func (h *Handler) GetByTransaction(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.svc.GetByTransaction(r.Context(), chi.URLParam(r, "transactionId")))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var (
		recs []payment.Record
		err  error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		recs, err = h.svc.ListByStatus(r.Context(), status)
	} else {
		recs, err = h.svc.List(r.Context())
	}
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) func(payment.Record, error) {
	return func(rec payment.Record, err error) {
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payment.ErrAlreadyRefunded):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrPaymentFailed):
		httpx.WriteError(w, http.StatusPaymentRequired, err.Error())
	default:
		logging.FromContext(r.Context(), h.logger).Error("payment request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
