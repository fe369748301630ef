package handler

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"frame-commerce-api/internal/features"
	"frame-commerce-api/internal/models"
	"frame-commerce-api/internal/service"
	"frame-commerce-api/internal/validation"
)

const (
	defaultFrameTitle       = "Product Details"
	defaultFrameDescription = "Details for Product"
	frameButtonTitle        = "View Details"
	frameSplashBackground   = "#f7f7f7"
)

// BuildFrameEmbed returns the launch_frame embed for a product page. product
// may be nil when the product could not be resolved.
func BuildFrameEmbed(appURL, productID string, referrerFID *int64, product *models.ProductRecord) models.FrameEmbed {
	base := strings.TrimRight(appURL, "/")

	imageURL := base + "/p/opengraph-image"
	if product != nil && len(product.Images) > 0 && product.Images[0] != "" {
		imageURL = product.Images[0]
	}

	url := base + "/p/" + productID
	if referrerFID != nil {
		url += "?ref=" + formatFID(referrerFID)
	}

	return models.FrameEmbed{
		Version:  "next",
		ImageURL: imageURL,
		Button: models.FrameButton{
			Title: frameButtonTitle,
			Action: models.FrameAction{
				Type:                  "launch_frame",
				Name:                  defaultFrameTitle,
				URL:                   url,
				SplashImageURL:        base + "/splash.png",
				SplashBackgroundColor: frameSplashBackground,
			},
		},
	}
}

var productPageTemplate = template.Must(template.New("product").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta name="description" content="{{.Description}}">
<meta property="og:title" content="{{.Title}}">
<meta property="og:description" content="{{.Description}}">
<meta name="fc:frame" content="{{.Frame}}">
</head>
<body>
{{- with .Product}}
<main>
{{- if .Images}}
<img src="{{index .Images 0}}" alt="{{.Name}}">
{{- end}}
<h1>{{.Name}}</h1>
<p>${{.Price.StringFixed 2}}</p>
<p>{{if gt .Quantity 0}}{{.Quantity}} in stock{{else}}Out of stock{{end}}</p>
<p>{{.Description}}</p>
<p>Sold by {{.Seller.DisplayName}}</p>
{{- with .Referrer}}
<p>Referred by {{.DisplayName}}</p>
{{- end}}
</main>
{{- else}}
<div>No product details found</div>
{{- end}}
</body>
</html>
`))

type productPageData struct {
	Title       string
	Description string
	Frame       string
	Product     *models.ProductRecord
}

// resolveForFrame resolves a product for frame rendering. A nil product with
// a nil error means the product does not exist.
func (h *Handler) resolveForFrame(r *http.Request, productID string, referrerFID *int64) (*models.ProductRecord, error) {
	product, err := h.products.ResolveProduct(r.Context(), productID, referrerFID)
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			h.logger.Info("frame product not resolved", zap.String("product_id", productID), zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	return product, nil
}

// GetFrameEmbed handles GET /api/frame/{id}?ref=
func (h *Handler) GetFrameEmbed(w http.ResponseWriter, r *http.Request) {
	if !h.features.IsEnabled(features.FeatureFramePages) {
		h.respondError(w, http.StatusNotFound, "Not found")
		return
	}

	productID := validation.SanitizeString(chi.URLParam(r, "id"))
	referrerFID := referrerParam(r)

	product, err := h.resolveForFrame(r, productID, referrerFID)
	if err != nil {
		h.logger.Error("resolve frame product", zap.String("product_id", productID), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to fetch product data")
		return
	}

	h.respondJSON(w, http.StatusOK, BuildFrameEmbed(h.appURL, productID, referrerFID, product))
}

// ProductPage handles GET /p/{id}?ref=
func (h *Handler) ProductPage(w http.ResponseWriter, r *http.Request) {
	if !h.features.IsEnabled(features.FeatureFramePages) {
		http.NotFound(w, r)
		return
	}

	productID := validation.SanitizeString(chi.URLParam(r, "id"))
	referrerFID := referrerParam(r)

	product, err := h.resolveForFrame(r, productID, referrerFID)
	if err != nil {
		h.logger.Error("resolve product page", zap.String("product_id", productID), zap.Error(err))
		product = nil
	}

	frame, err := json.Marshal(BuildFrameEmbed(h.appURL, productID, referrerFID, product))
	if err != nil {
		h.logger.Error("encode frame embed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data := productPageData{
		Title:       defaultFrameTitle,
		Description: defaultFrameDescription,
		Frame:       string(frame),
		Product:     product,
	}
	status := http.StatusNotFound
	if product != nil {
		status = http.StatusOK
		if product.Name != "" {
			data.Title = product.Name
		}
		if product.Description != "" {
			data.Description = product.Description
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := productPageTemplate.Execute(w, data); err != nil {
		h.logger.Error("render product page", zap.String("product_id", productID), zap.Error(err))
	}
}
