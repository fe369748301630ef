package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"frame-commerce-api/internal/attestation"
	"frame-commerce-api/internal/cache"
	"frame-commerce-api/internal/farcaster"
	"frame-commerce-api/internal/ipfs"
	"frame-commerce-api/internal/models"
)

// ProductServiceOptions configures a ProductService.
type ProductServiceOptions struct {
	Seller models.Seller
	// Cache holds attestation envelopes; nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// ProductService resolves products from attestations and IPFS documents.
type ProductService struct {
	attestations attestation.Client
	gateway      ipfs.Gateway
	hub          farcaster.Hub
	cache        cache.Cache
	cacheTTL     time.Duration
	seller       models.Seller
	logger       *zap.Logger
}

// NewProductService creates a new product service.
func NewProductService(attestations attestation.Client, gateway ipfs.Gateway, hub farcaster.Hub, opts ProductServiceOptions) *ProductService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ProductService{
		attestations: attestations,
		gateway:      gateway,
		hub:          hub,
		cache:        opts.Cache,
		cacheTTL:     ttl,
		seller:       opts.Seller,
		logger:       logger,
	}
}

// Attestations returns the raw attestation envelope for productID, served
// from cache when a fresh copy exists.
func (s *ProductService) Attestations(ctx context.Context, productID string) (*models.AttestationsResponse, error) {
	key := attestationKey + productID

	if s.cache != nil {
		var cached models.AttestationsResponse
		err := cache.GetJSON(ctx, s.cache, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.Warn("attestation cache read failed", zap.String("product_id", productID), zap.Error(err))
		}
	}

	resp, err := s.attestations.Query(ctx, productID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, resp, s.cacheTTL); err != nil {
			s.logger.Warn("attestation cache write failed", zap.String("product_id", productID), zap.Error(err))
		}
	}

	return resp, nil
}

// evictAttestations drops the cached envelope of a product that failed to
// resolve, so the next request queries the attestation service again.
func (s *ProductService) evictAttestations(ctx context.Context, productID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, attestationKey+productID); err != nil {
		s.logger.Warn("attestation cache evict failed", zap.String("product_id", productID), zap.Error(err))
	}
}

// decodedField is one entry of an attestation's decodedDataJson.
type decodedField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value struct {
		Name  string          `json:"name"`
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"value"`
}

// contentIDFromAttestation extracts the hex-encoded CID held in the first
// decoded field and decodes it.
func contentIDFromAttestation(att models.AttestationRecord) (string, error) {
	var fields []decodedField
	if err := json.Unmarshal([]byte(att.DecodedDataJSON), &fields); err != nil {
		return "", fmt.Errorf("parse decoded data: %w", err)
	}
	if len(fields) == 0 {
		return "", errors.New("decoded data has no fields")
	}

	var hexValue string
	if err := json.Unmarshal(fields[0].Value.Value, &hexValue); err != nil {
		return "", fmt.Errorf("decoded field %q is not a hex string: %w", fields[0].Name, err)
	}

	return ipfs.ContentIDFromHex(hexValue)
}

// ResolveProduct builds the product record for productID. The configured
// seller address wins over the document's contractAddress. A referrer that
// cannot be looked up is dropped rather than failing the resolution.
func (s *ProductService) ResolveProduct(ctx context.Context, productID string, referrerFID *int64) (*models.ProductRecord, error) {
	envelope, err := s.Attestations(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProductNotFound, err)
	}

	atts := envelope.Data.Attestations
	if len(atts) == 0 {
		return nil, ErrProductNotFound
	}

	contentID, err := contentIDFromAttestation(atts[0])
	if err != nil {
		s.evictAttestations(ctx, productID)
		return nil, fmt.Errorf("%w: %w", ErrProductNotFound, err)
	}

	doc, err := s.gateway.FetchProduct(ctx, contentID)
	if err != nil {
		s.evictAttestations(ctx, productID)
		return nil, fmt.Errorf("%w: %w", ErrProductNotFound, err)
	}

	product := &models.ProductRecord{
		ProductDocument: *doc,
		ProductID:       productID,
		Seller:          s.seller,
	}
	if product.Seller.Address == "" {
		product.Seller.Address = doc.ContractAddress
	}

	if referrerFID != nil && s.hub != nil {
		name, err := s.hub.Username(ctx, *referrerFID)
		if err != nil {
			s.logger.Warn("referrer lookup failed",
				zap.Int64("fid", *referrerFID),
				zap.String("product_id", productID),
				zap.Error(err),
			)
		} else if name != "" {
			product.Referrer = &models.Referrer{FID: *referrerFID, DisplayName: name}
		}
	}

	return product, nil
}
