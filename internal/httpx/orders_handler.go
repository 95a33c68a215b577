package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/checkout"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/stock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// StatusCache is the read-through cache in front of GET /orders/{token}.
type StatusCache interface {
	Get(ctx context.Context, token string) (orders.View, bool)
	Put(ctx context.Context, v orders.View) error
	Invalidate(ctx context.Context, token string) error
}

type OrdersHandler struct {
	Orders *checkout.Service
	Cache  StatusCache // optional
	Log    *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{token}", h.getOrder)
	r.Patch("/orders/{token}/status", h.changeStatus)
	r.Delete("/orders/{token}", h.purgeOrder)
}

type changeStatusReq struct {
	Status orders.Status `json:"status"`
	Actor  string        `json:"actor"`
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.Create(ctx, req)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o.View())
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if v, ok := h.Cache.Get(ctx, token); ok {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	o, err := h.Orders.Get(ctx, token)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	v := o.View()
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, v); err != nil {
			logging.FromContext(ctx, h.Log).Debug("status_cache_put_failed", zap.Error(err))
		}
	}
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.ChangeStatus(ctx, chi.URLParam(r, "token"), req.Status, req.Actor)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

func (h *OrdersHandler) purgeOrder(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Orders.Purge(ctx, token); err != nil {
		h.fail(ctx, w, err)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.Invalidate(ctx, token)
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps domain errors to status codes.
func (h *OrdersHandler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	var ise *stock.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		stock.WriteInsufficient(w, ise.Shortages)
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, orders.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrInvalidStatusTransition), errors.Is(err, orders.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, checkout.ErrPaymentDriven):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, stock.ErrInventoryUnavailable):
		logging.FromContext(ctx, h.Log).Warn("inventory_unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "inventory unavailable")
	default:
		logging.FromContext(ctx, h.Log).Error("order_request_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
