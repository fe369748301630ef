package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-commerce-api/internal/attestation"
	"frame-commerce-api/internal/cache"
	"frame-commerce-api/internal/models"
)

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

type fakeAttestations struct {
	resp  *models.AttestationsResponse
	err   error
	calls int
}

func (f *fakeAttestations) Query(ctx context.Context, referenceID string) (*models.AttestationsResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeAttestations) FetchAttestations(ctx context.Context, referenceID string) ([]models.AttestationRecord, error) {
	resp, err := f.Query(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	return resp.Data.Attestations, nil
}

type fakeGateway struct {
	doc       *models.ProductDocument
	err       error
	requested string
}

func (f *fakeGateway) FetchProduct(ctx context.Context, contentID string) (*models.ProductDocument, error) {
	f.requested = contentID
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.doc
	return &copied, nil
}

type fakeHub struct {
	names map[int64]string
	err   error
}

func (f *fakeHub) Username(ctx context.Context, fid int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[fid], nil
}

func attestationFor(cid string) models.AttestationRecord {
	decoded := fmt.Sprintf(`[{"name":"ipfsHash","type":"bytes","value":{"name":"ipfsHash","type":"bytes","value":"0x%s"}}]`,
		hex.EncodeToString([]byte(cid)))
	return models.AttestationRecord{
		ID:              "0xatt",
		Attester:        "0xattester",
		DecodedDataJSON: decoded,
		RefUID:          "0xproduct",
		SchemaID:        attestation.DefaultSchemaID,
	}
}

func testDocument() *models.ProductDocument {
	return &models.ProductDocument{
		Name:            "Hoodie",
		Description:     "Warm",
		Price:           decimal.RequireFromString("12.5"),
		Quantity:        3,
		Images:          []string{"https://img.example/hoodie.png"},
		ContractAddress: "0xcontract",
	}
}

func testSeller() models.Seller {
	return models.Seller{FID: 16216, DisplayName: "Shop Owner", Address: "0xseller"}
}

func envelopeWith(atts ...models.AttestationRecord) *models.AttestationsResponse {
	if atts == nil {
		atts = []models.AttestationRecord{}
	}
	return &models.AttestationsResponse{Data: models.AttestationsData{Attestations: atts}}
}

func TestResolveProduct_Success(t *testing.T) {
	atts := &fakeAttestations{resp: envelopeWith(attestationFor(testCID))}
	gw := &fakeGateway{doc: testDocument()}
	svc := NewProductService(atts, gw, &fakeHub{}, ProductServiceOptions{Seller: testSeller()})

	product, err := svc.ResolveProduct(context.Background(), "0xproduct", nil)
	require.NoError(t, err)

	assert.Equal(t, testCID, gw.requested)
	assert.Equal(t, "0xproduct", product.ProductID)
	assert.Equal(t, "Hoodie", product.Name)
	assert.True(t, decimal.RequireFromString("12.5").Equal(product.Price))
	assert.Equal(t, testSeller(), product.Seller)
	assert.Nil(t, product.Referrer)
}

func TestResolveProduct_WithReferrer(t *testing.T) {
	atts := &fakeAttestations{resp: envelopeWith(attestationFor(testCID))}
	hub := &fakeHub{names: map[int64]string{42: "alice"}}
	svc := NewProductService(atts, &fakeGateway{doc: testDocument()}, hub, ProductServiceOptions{Seller: testSeller()})

	fid := int64(42)
	product, err := svc.ResolveProduct(context.Background(), "0xproduct", &fid)
	require.NoError(t, err)
	require.NotNil(t, product.Referrer)
	assert.Equal(t, int64(42), product.Referrer.FID)
	assert.Equal(t, "alice", product.Referrer.DisplayName)
}

func TestResolveProduct_ReferrerLookupFailureIsIgnored(t *testing.T) {
	atts := &fakeAttestations{resp: envelopeWith(attestationFor(testCID))}
	hub := &fakeHub{err: errors.New("hub down")}
	svc := NewProductService(atts, &fakeGateway{doc: testDocument()}, hub, ProductServiceOptions{})

	fid := int64(7)
	product, err := svc.ResolveProduct(context.Background(), "0xproduct", &fid)
	require.NoError(t, err)
	assert.Nil(t, product.Referrer)
}

func TestResolveProduct_NoAttestations(t *testing.T) {
	svc := NewProductService(&fakeAttestations{resp: envelopeWith()}, &fakeGateway{doc: testDocument()}, nil, ProductServiceOptions{})

	_, err := svc.ResolveProduct(context.Background(), "0xmissing", nil)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestResolveProduct_UpstreamFailuresAreNotFound(t *testing.T) {
	badHex := attestationFor(testCID)
	badHex.DecodedDataJSON = `[{"name":"ipfsHash","type":"bytes","value":{"name":"ipfsHash","type":"bytes","value":"0xabc"}}]`

	badShape := attestationFor(testCID)
	badShape.DecodedDataJSON = `{"not":"a list"}`

	gatewayErr := &attestation.GatewayError{StatusCode: 502}

	tests := []struct {
		name    string
		atts    *fakeAttestations
		gateway *fakeGateway
	}{
		{"attestation service error", &fakeAttestations{err: gatewayErr}, &fakeGateway{doc: testDocument()}},
		{"odd length hex", &fakeAttestations{resp: envelopeWith(badHex)}, &fakeGateway{doc: testDocument()}},
		{"malformed decoded data", &fakeAttestations{resp: envelopeWith(badShape)}, &fakeGateway{doc: testDocument()}},
		{"ipfs gateway error", &fakeAttestations{resp: envelopeWith(attestationFor(testCID))}, &fakeGateway{err: errors.New("timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewProductService(tt.atts, tt.gateway, nil, ProductServiceOptions{})
			_, err := svc.ResolveProduct(context.Background(), "0xproduct", nil)
			assert.ErrorIs(t, err, ErrProductNotFound)
		})
	}
}

func TestResolveProduct_WrapsGatewayError(t *testing.T) {
	svc := NewProductService(&fakeAttestations{err: &attestation.GatewayError{StatusCode: 503}}, &fakeGateway{}, nil, ProductServiceOptions{})

	_, err := svc.ResolveProduct(context.Background(), "0xproduct", nil)

	var gwErr *attestation.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 503, gwErr.StatusCode)
}

func TestAttestations_Cached(t *testing.T) {
	atts := &fakeAttestations{resp: envelopeWith(attestationFor(testCID))}
	svc := NewProductService(atts, &fakeGateway{doc: testDocument()}, nil, ProductServiceOptions{
		Cache:    cache.NewInMemoryCache(),
		CacheTTL: time.Minute,
	})

	ctx := context.Background()
	first, err := svc.Attestations(ctx, "0xproduct")
	require.NoError(t, err)
	second, err := svc.Attestations(ctx, "0xproduct")
	require.NoError(t, err)

	assert.Equal(t, 1, atts.calls)
	assert.Equal(t, first, second)
}

func TestAttestations_NoCacheQueriesEveryTime(t *testing.T) {
	atts := &fakeAttestations{resp: envelopeWith()}
	svc := NewProductService(atts, &fakeGateway{}, nil, ProductServiceOptions{})

	ctx := context.Background()
	_, _ = svc.Attestations(ctx, "0xproduct")
	_, _ = svc.Attestations(ctx, "0xproduct")

	assert.Equal(t, 2, atts.calls)
}

func TestResolveProduct_SellerAddressFromDocument(t *testing.T) {
	atts := &fakeAttestations{resp: envelopeWith(attestationFor(testCID))}
	seller := models.Seller{FID: 16216, DisplayName: "Shop Owner"}
	svc := NewProductService(atts, &fakeGateway{doc: testDocument()}, nil, ProductServiceOptions{Seller: seller})

	product, err := svc.ResolveProduct(context.Background(), "0xproduct", nil)
	require.NoError(t, err)

	assert.Equal(t, "0xcontract", product.Seller.Address)
	assert.Equal(t, int64(16216), product.Seller.FID)
	assert.Equal(t, "Shop Owner", product.Seller.DisplayName)
}

func TestResolveProduct_ConfiguredSellerAddressWins(t *testing.T) {
	atts := &fakeAttestations{resp: envelopeWith(attestationFor(testCID))}
	svc := NewProductService(atts, &fakeGateway{doc: testDocument()}, nil, ProductServiceOptions{Seller: testSeller()})

	product, err := svc.ResolveProduct(context.Background(), "0xproduct", nil)
	require.NoError(t, err)
	assert.Equal(t, "0xseller", product.Seller.Address)
}

func TestResolveProduct_FailureEvictsCachedEnvelope(t *testing.T) {
	atts := &fakeAttestations{resp: envelopeWith(attestationFor(testCID))}
	gw := &fakeGateway{err: errors.New("timeout")}
	c := cache.NewInMemoryCache()
	svc := NewProductService(atts, gw, nil, ProductServiceOptions{Cache: c, CacheTTL: time.Minute})
	ctx := context.Background()

	_, err := svc.ResolveProduct(ctx, "0xproduct", nil)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = c.Get(ctx, "attestations:0xproduct")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	gw.err = nil
	gw.doc = testDocument()
	_, err = svc.ResolveProduct(ctx, "0xproduct", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, atts.calls)

	_, err = svc.ResolveProduct(ctx, "0xproduct", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, atts.calls)
}
