package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Seller identifies who receives payment for a product.
type Seller struct {
	FID         int64  `json:"fid"`
	DisplayName string `json:"displayName"`
	Address     string `json:"address"`
}

// Referrer identifies the user credited with bringing in a buyer.
type Referrer struct {
	FID         int64  `json:"fid"`
	DisplayName string `json:"displayName"`
}

// ProductDocument is the JSON document stored on IPFS for a product.
type ProductDocument struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	Quantity        int             `json:"quantity"`
	Images          []string        `json:"images"`
	ContractAddress string          `json:"contractAddress"`
}

// ProductRecord is a product resolved from its attestation and IPFS document.
type ProductRecord struct {
	ProductDocument
	ProductID string    `json:"productId"`
	Seller    Seller    `json:"seller"`
	Referrer  *Referrer `json:"referrer,omitempty"`
}

// PurchaseRecord is one confirmed purchase stored in the ledger.
type PurchaseRecord struct {
	ID           string `json:"id"`
	ProductID    string `json:"productId"`
	TxHash       string `json:"txHash"`
	Timestamp    int64  `json:"timestamp"` // epoch milliseconds
	BuyerAddress string `json:"buyerAddress"`
	ReferrerFID  *int64 `json:"referrerFid,omitempty"`
	ReferrerName string `json:"referrerName,omitempty"`
}

// AttestationRecord is an attestation as returned by the GraphQL service.
type AttestationRecord struct {
	ID              string `json:"id"`
	Attester        string `json:"attester"`
	DecodedDataJSON string `json:"decodedDataJson"`
	RefUID          string `json:"refUID"`
	Time            int64  `json:"time"`
	SchemaID        string `json:"schemaId"`
	Data            string `json:"data"`
}

// AttestationsData is the data member of the attestation query response.
type AttestationsData struct {
	Attestations []AttestationRecord `json:"attestations"`
}

// AttestationsResponse is the envelope proxied by GET /api/product.
type AttestationsResponse struct {
	Data AttestationsData `json:"data"`
}

// RecordPurchaseRequest represents the request body for POST /api/purchases.
type RecordPurchaseRequest struct {
	ProductID    string `json:"productId" validate:"required"`
	TxHash       string `json:"txHash" validate:"required"`
	BuyerAddress string `json:"buyerAddress" validate:"required"`
	ReferrerFID  *int64 `json:"referrerFid,omitempty"`
	ReferrerName string `json:"referrerName,omitempty"`
}

// UnmarshalJSON accepts referrerFid as a JSON number or a numeric string.
// An empty string or null leaves it unset.
func (r *RecordPurchaseRequest) UnmarshalJSON(data []byte) error {
	type plain RecordPurchaseRequest
	aux := struct {
		*plain
		ReferrerFID json.RawMessage `json:"referrerFid,omitempty"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fid, err := parseReferrerFID(aux.ReferrerFID)
	if err != nil {
		return err
	}
	r.ReferrerFID = fid
	return nil
}

func parseReferrerFID(raw json.RawMessage) (*int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
	}

	fid, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("referrerFid %s is not an integer", raw)
	}
	return &fid, nil
}

// RecordPurchaseResponse is returned after a purchase has been recorded.
type RecordPurchaseResponse struct {
	Success  bool           `json:"success"`
	Purchase PurchaseRecord `json:"purchase"`
}

// PurchasesResponse lists purchases newest first.
type PurchasesResponse struct {
	Purchases []PurchaseRecord `json:"purchases"`
}

// ReferralsResponse lists the purchase ids credited to a referrer.
type ReferralsResponse struct {
	FID         int64    `json:"fid"`
	PurchaseIDs []string `json:"purchaseIds"`
}

// FrameAction is the launch action of a frame button.
type FrameAction struct {
	Type                  string `json:"type"`
	Name                  string `json:"name"`
	URL                   string `json:"url"`
	SplashImageURL        string `json:"splashImageUrl"`
	SplashBackgroundColor string `json:"splashBackgroundColor"`
}

// FrameButton is the single button shown on a frame embed.
type FrameButton struct {
	Title  string      `json:"title"`
	Action FrameAction `json:"action"`
}

// FrameEmbed is serialized into the fc:frame meta tag.
type FrameEmbed struct {
	Version  string      `json:"version"`
	ImageURL string      `json:"imageUrl"`
	Button   FrameButton `json:"button"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
