package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"frame-commerce-api/internal/features"
	"frame-commerce-api/internal/models"
	"frame-commerce-api/internal/service"
	"frame-commerce-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	products    *service.ProductService
	purchases   *service.PurchaseService
	features    *features.Manager
	logger      *zap.Logger
	appURL      string
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	// AppURL is the public base URL used in frame embeds.
	AppURL   string
	Features *features.Manager
	Logger   *zap.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(products *service.ProductService, purchases *service.PurchaseService) *Handler {
	return NewHandlerWithOptions(products, purchases, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(products *service.ProductService, purchases *service.PurchaseService, opts NewHandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	flags := opts.Features
	if flags == nil {
		flags = features.NewDefaultManager(nil)
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		products:    products,
		purchases:   purchases,
		features:    flags,
		logger:      logger,
		appURL:      opts.AppURL,
		maxBodySize: maxBody,
	}
}

// RegisterRoutes mounts every API and frame route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/product", h.GetProductAttestations)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/purchases", h.ListPurchases)
		r.Post("/purchases", h.RecordPurchase)
		r.Get("/referrals/{fid}", h.GetReferrals)
		r.Get("/frame/{id}", h.GetFrameEmbed)
	})

	r.Get("/p/{id}", h.ProductPage)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// GetProductAttestations handles GET /api/product?id=
func (h *Handler) GetProductAttestations(w http.ResponseWriter, r *http.Request) {
	productID := validation.SanitizeString(r.URL.Query().Get("id"))
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "Product ID is required")
		return
	}

	resp, err := h.products.Attestations(r.Context(), productID)
	if err != nil {
		h.logger.Error("fetch attestations", zap.String("product_id", productID), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to fetch product data")
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// GetProduct handles GET /api/products/{id}?ref=
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID := validation.SanitizeString(chi.URLParam(r, "id"))
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "Product ID is required")
		return
	}

	product, err := h.products.ResolveProduct(r.Context(), productID, referrerParam(r))
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			h.logger.Info("product not resolved", zap.String("product_id", productID), zap.Error(err))
			h.respondError(w, http.StatusNotFound, "No product details found")
			return
		}
		h.logger.Error("resolve product", zap.String("product_id", productID), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to fetch product data")
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

// ListPurchases handles GET /api/purchases[?productId=]
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	productID := validation.SanitizeString(r.URL.Query().Get("productId"))

	var (
		purchases []models.PurchaseRecord
		err       error
	)
	if productID != "" {
		purchases, err = h.purchases.ListPurchasesForProduct(r.Context(), productID)
	} else {
		purchases, err = h.purchases.ListPurchases(r.Context())
	}
	if err != nil {
		h.logger.Error("list purchases", zap.String("product_id", productID), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to retrieve purchases")
		return
	}

	h.respondJSON(w, http.StatusOK, models.PurchasesResponse{Purchases: purchases})
}

// RecordPurchase handles POST /api/purchases
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.RecordPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	purchase, created, err := h.purchases.RecordPurchase(r.Context(), req)
	if err != nil {
		var vErr *validation.ValidationError
		if errors.As(err, &vErr) {
			h.respondError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		if errors.Is(err, service.ErrPurchaseInFlight) {
			h.logger.Info("purchase in flight", zap.String("tx_hash", req.TxHash))
			h.respondError(w, http.StatusConflict, "Purchase is already being recorded")
			return
		}
		h.logger.Error("record purchase", zap.String("tx_hash", req.TxHash), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to record purchase")
		return
	}

	if !created {
		h.logger.Info("purchase already recorded", zap.String("purchase_id", purchase.ID), zap.String("tx_hash", purchase.TxHash))
	}

	h.respondJSON(w, http.StatusOK, models.RecordPurchaseResponse{
		Success:  true,
		Purchase: *purchase,
	})
}

// GetReferrals handles GET /api/referrals/{fid}
func (h *Handler) GetReferrals(w http.ResponseWriter, r *http.Request) {
	fid, err := validation.ParseFID(chi.URLParam(r, "fid"), "fid")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := h.purchases.ReferralPurchases(r.Context(), fid)
	if err != nil {
		h.logger.Error("read referrals", zap.Int64("fid", fid), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to retrieve referrals")
		return
	}

	h.respondJSON(w, http.StatusOK, models.ReferralsResponse{FID: fid, PurchaseIDs: ids})
}

// referrerParam reads ?ref= as a fid. Anything but a positive integer means
// no referrer.
func referrerParam(r *http.Request) *int64 {
	raw := r.URL.Query().Get("ref")
	if raw == "" {
		return nil
	}
	fid, err := validation.ParseFID(raw, "ref")
	if err != nil {
		return nil
	}
	return &fid
}

func formatFID(fid *int64) string {
	if fid == nil {
		return ""
	}
	return strconv.FormatInt(*fid, 10)
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
