// Package service implements product resolution and the purchase ledger.
package service

import (
	"errors"
	"time"
)

// ErrProductNotFound is returned when a product id does not resolve to a
// product document. The underlying cause, if any, is wrapped.
var ErrProductNotFound = errors.New("product not found")

// Key layout shared with every store backend.
const (
	purchaseKeyPrefix = "purchase:"
	purchaseKeyGlob   = "purchase:*"
	referralKeyPrefix = "referrals:"
	txClaimKeyPrefix  = "purchase-tx:"
	attestationKey    = "attestations:"
)

// Clock returns the current time; tests replace it.
type Clock func() time.Time
