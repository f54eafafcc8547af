package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/zyliufeng123/zhiguan-system/internal/repository"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler exposes read access to the product catalog.
type Handler struct {
	products repository.ProductRepository
	prices   repository.PriceRepository
	logger   *zap.Logger
}

// NewHTTPHandler wraps the catalog repositories.
func NewHTTPHandler(products repository.ProductRepository, prices repository.PriceRepository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{products: products, prices: prices, logger: logger}
}

// Register mounts the catalog routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/products", h.list)
	r.Get("/api/products/{productID}/prices", h.priceHistory)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	products, err := h.products.Search(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("failed to search products", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search products")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) priceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	records, err := h.prices.ListByProduct(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list prices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list prices")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
