package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"frame-commerce-api/internal/models"
)

// GatewayError is returned when the gateway cannot serve a document.
type GatewayError struct {
	ContentID  string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ipfs gateway: %s: status %d", e.ContentID, e.StatusCode)
	}
	return fmt.Sprintf("ipfs gateway: %s: %v", e.ContentID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Gateway fetches product documents by content identifier.
type Gateway interface {
	FetchProduct(ctx context.Context, contentID string) (*models.ProductDocument, error)
}

type gatewayImpl struct {
	httpClient *http.Client
	baseURL    string
}

// NewGateway creates a gateway client rooted at baseURL.
func NewGateway(baseURL string, timeout time.Duration) Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &gatewayImpl{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (g *gatewayImpl) FetchProduct(ctx context.Context, contentID string) (*models.ProductDocument, error) {
	ctx, span := otel.Tracer("frame-commerce-api/ipfs").Start(ctx, "ipfs.FetchProduct")
	defer span.End()
	span.SetAttributes(attribute.String("ipfs.cid", contentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+contentID, nil)
	if err != nil {
		return nil, &GatewayError{ContentID: contentID, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, &GatewayError{ContentID: contentID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &GatewayError{ContentID: contentID, StatusCode: resp.StatusCode}
	}

	var doc models.ProductDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &GatewayError{ContentID: contentID, Err: fmt.Errorf("decode document: %w", err)}
	}

	return &doc, nil
}
