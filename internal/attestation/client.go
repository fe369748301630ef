// Package attestation queries the EAS GraphQL service for product attestations.
package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"frame-commerce-api/internal/models"
)

const (
	// DefaultEndpoint is the Base Sepolia EAS indexer.
	DefaultEndpoint = "https://base-sepolia.easscan.org/graphql"
	// DefaultSchemaID is the schema products are attested under.
	DefaultSchemaID = "0x628d5ed6db59ebc4eb9ca9b9cbcdc8e5c3e963114b4f59d9d332fc82c74222cf"
)

const attestationsQuery = `
  query Attestation($where: AttestationWhereInput) {
    attestations(where: $where) {
      id
      attester
      decodedDataJson
      refUID
      time
      schemaId
      data
    }
  }
`

// GatewayError is returned when the attestation service cannot be queried.
type GatewayError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("attestation gateway: status %d", e.StatusCode)
	case e.Message != "":
		return "attestation gateway: " + e.Message
	default:
		return fmt.Sprintf("attestation gateway: %v", e.Err)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Client fetches attestations referencing a given UID.
type Client interface {
	Query(ctx context.Context, referenceID string) (*models.AttestationsResponse, error)
	FetchAttestations(ctx context.Context, referenceID string) ([]models.AttestationRecord, error)
}

type clientImpl struct {
	httpClient *http.Client
	endpoint   string
	schemaID   string
}

// NewClient creates a client for the given GraphQL endpoint and schema.
func NewClient(endpoint, schemaID string, timeout time.Duration) Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if schemaID == "" {
		schemaID = DefaultSchemaID
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &clientImpl{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		schemaID:   schemaID,
	}
}

type equalsFilter struct {
	Equals string `json:"equals"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   models.AttestationsData `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *clientImpl) buildRequest(referenceID string) graphQLRequest {
	where := map[string]any{
		"OR": []any{
			map[string]any{
				"AND": []any{
					map[string]any{"refUID": equalsFilter{Equals: referenceID}},
					map[string]any{"schemaId": equalsFilter{Equals: c.schemaID}},
				},
			},
		},
	}
	return graphQLRequest{
		Query:     attestationsQuery,
		Variables: map[string]any{"where": where},
	}
}

func (c *clientImpl) Query(ctx context.Context, referenceID string) (*models.AttestationsResponse, error) {
	ctx, span := otel.Tracer("frame-commerce-api/attestation").Start(ctx, "attestation.Query")
	defer span.End()
	span.SetAttributes(attribute.String("attestation.ref_uid", referenceID))

	body, err := json.Marshal(c.buildRequest(referenceID))
	if err != nil {
		return nil, fmt.Errorf("marshal attestation query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, &GatewayError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &GatewayError{StatusCode: resp.StatusCode}
	}

	var result graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &GatewayError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(result.Errors) > 0 {
		return nil, &GatewayError{Message: result.Errors[0].Message}
	}

	if result.Data.Attestations == nil {
		result.Data.Attestations = []models.AttestationRecord{}
	}
	span.SetAttributes(attribute.Int("attestation.count", len(result.Data.Attestations)))

	return &models.AttestationsResponse{Data: result.Data}, nil
}

func (c *clientImpl) FetchAttestations(ctx context.Context, referenceID string) ([]models.AttestationRecord, error) {
	resp, err := c.Query(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	return resp.Data.Attestations, nil
}
