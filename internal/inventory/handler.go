package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/stock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ProductStore interface {
	UpsertProduct(ctx context.Context, p Product) (Product, error)
	ListProducts(ctx context.Context, merchantID string) ([]Product, error)
}

type Handler struct {
	Inventory stock.Inventory
	Products  ProductStore
	Log       *zap.Logger
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/merchants/{merchantID}/stock/adjustments", h.adjust)
	r.Get("/v1/merchants/{merchantID}/products", h.listProducts)
	r.Put("/v1/merchants/{merchantID}/products/{productID}", h.putProduct)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func validate(req stock.AdjustRequest) string {
	switch {
	case strings.TrimSpace(req.Reference) == "":
		return "reference is required"
	case req.Kind != stock.KindReserve && req.Kind != stock.KindRelease:
		return "kind must be reserve or release"
	case len(req.Items) == 0:
		return "items are required"
	}
	for _, d := range req.Items {
		if d.ProductID == "" {
			return "product_id is required"
		}
		if req.Kind == stock.KindReserve && d.Delta >= 0 {
			return "reserve deltas must be negative"
		}
		if req.Kind == stock.KindRelease && d.Delta <= 0 {
			return "release deltas must be positive"
		}
	}
	return ""
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req stock.AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.MerchantID = chi.URLParam(r, "merchantID")
	if msg := validate(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	log := logging.FromContext(ctx, h.Log).With(
		zap.String("merchant_id", req.MerchantID),
		zap.String("reference", req.Reference),
		zap.String("kind", string(req.Kind)),
	)

	items, err := h.Inventory.Adjust(ctx, req)
	var ise *stock.InsufficientStockError
	switch {
	case err == nil:
		log.Info("stock_adjusted", zap.Int("items", len(items)))
		stock.WriteAdjusted(w, items)
	case errors.As(err, &ise):
		log.Info("stock_insufficient", zap.Any("shortages", ise.Shortages))
		stock.WriteInsufficient(w, ise.Shortages)
	case errors.Is(err, ErrUnknownProduct):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error("stock_adjust_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx, chi.URLParam(r, "merchantID"))
	if err != nil {
		logging.FromContext(ctx, h.Log).Error("list_products_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ps == nil {
		ps = []Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

type putProductReq struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

func (h *Handler) putProduct(w http.ResponseWriter, r *http.Request) {
	var req putProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Stock < 0 {
		writeError(w, http.StatusBadRequest, "stock must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Products.UpsertProduct(ctx, Product{
		MerchantID: chi.URLParam(r, "merchantID"),
		ID:         chi.URLParam(r, "productID"),
		Name:       req.Name,
		Stock:      req.Stock,
	})
	if err != nil {
		logging.FromContext(ctx, h.Log).Error("upsert_product_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
