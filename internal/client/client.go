// Package client talks to the commerce API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"frame-commerce-api/internal/models"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

// CommerceClient is the buyer-side view of the API.
type CommerceClient interface {
	GetProduct(ctx context.Context, productID string, referrerFID *int64) (*models.ProductRecord, error)
	RecordPurchase(ctx context.Context, req models.RecordPurchaseRequest) (*models.PurchaseRecord, error)
	ListPurchases(ctx context.Context, productID string) ([]models.PurchaseRecord, error)
}

type commerceClientImpl struct {
	httpClient *http.Client
	baseURL    string
}

// NewCommerceClient creates a client for the API at baseURL.
func NewCommerceClient(baseURL string, timeout time.Duration) CommerceClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &commerceClientImpl{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

func (c *commerceClientImpl) GetProduct(ctx context.Context, productID string, referrerFID *int64) (*models.ProductRecord, error) {
	endpoint := c.baseURL + "/api/products/" + url.PathEscape(productID)
	if referrerFID != nil {
		endpoint += "?ref=" + strconv.FormatInt(*referrerFID, 10)
	}

	var product models.ProductRecord
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *commerceClientImpl) RecordPurchase(ctx context.Context, req models.RecordPurchaseRequest) (*models.PurchaseRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode purchase: %w", err)
	}

	var resp models.RecordPurchaseResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/purchases", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "purchase not recorded"}
	}
	return &resp.Purchase, nil
}

func (c *commerceClientImpl) ListPurchases(ctx context.Context, productID string) ([]models.PurchaseRecord, error) {
	endpoint := c.baseURL + "/api/purchases"
	if productID != "" {
		endpoint += "?productId=" + url.QueryEscape(productID)
	}

	var resp models.PurchasesResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Purchases, nil
}

func (c *commerceClientImpl) do(ctx context.Context, method, endpoint string, body []byte, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp models.ErrorResponse
		json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
