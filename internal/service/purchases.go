package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"frame-commerce-api/internal/events"
	"frame-commerce-api/internal/models"
	"frame-commerce-api/internal/store"
	"frame-commerce-api/internal/validation"
)

const txHashPrefixLen = 10

// DefaultClaimGrace is how long a transaction claim without a record is
// assumed to belong to a writer that is still running.
const DefaultClaimGrace = 30 * time.Second

// ErrPurchaseInFlight is returned when another request holds the claim for
// the same transaction and has not finished writing it.
var ErrPurchaseInFlight = errors.New("purchase is already being recorded")

// PurchaseService is the purchase ledger.
type PurchaseService struct {
	store     store.Store
	publisher events.Publisher
	now       Clock
	grace     time.Duration
	logger    *zap.Logger
}

// NewPurchaseService creates a ledger on top of s. publisher may be nil.
func NewPurchaseService(s store.Store, publisher events.Publisher, logger *zap.Logger) *PurchaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurchaseService{
		store:     s,
		publisher: publisher,
		now:       time.Now,
		grace:     DefaultClaimGrace,
		logger:    logger,
	}
}

// SetClock replaces the time source.
func (s *PurchaseService) SetClock(now Clock) {
	s.now = now
}

// SetClaimGrace changes how long an unfinished claim is left to its owner
// before another request may complete it.
func (s *PurchaseService) SetClaimGrace(d time.Duration) {
	s.grace = d
}

// PurchaseID derives a ledger id from a transaction hash and a write time.
func PurchaseID(txHash string, at time.Time) string {
	prefix := txHash
	if len(prefix) > txHashPrefixLen {
		prefix = prefix[:txHashPrefixLen]
	}
	return prefix + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}

// RecordPurchase validates req and stores a new purchase. The transaction
// hash is the idempotency key: recording the same hash again returns the
// stored purchase and created=false.
func (s *PurchaseService) RecordPurchase(ctx context.Context, req models.RecordPurchaseRequest) (*models.PurchaseRecord, bool, error) {
	req.ProductID = validation.SanitizeString(req.ProductID)
	req.TxHash = validation.SanitizeString(req.TxHash)
	req.BuyerAddress = validation.SanitizeString(req.BuyerAddress)
	req.ReferrerName = validation.SanitizeString(req.ReferrerName)

	if err := validation.ValidatePurchaseRequest(req); err != nil {
		return nil, false, err
	}

	at := s.now()
	id := PurchaseID(req.TxHash, at)

	claimKey := txClaimKeyPrefix + req.TxHash
	claimed, err := s.store.SetNX(ctx, claimKey, []byte(id))
	if err != nil {
		return nil, false, fmt.Errorf("claim transaction %s: %w", req.TxHash, err)
	}

	if !claimed {
		existing, err := s.existingForTx(ctx, claimKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
		raw, getErr := s.store.Get(ctx, claimKey)
		if getErr != nil {
			return nil, false, fmt.Errorf("read transaction claim: %w", getErr)
		}
		claimedAt, ok := claimTime(string(raw))
		if ok && at.Sub(claimedAt) < s.grace {
			return nil, false, ErrPurchaseInFlight
		}
		// The claim outlived its writer; finish the write under the
		// claimed id and time.
		s.logger.Warn("completing abandoned purchase claim",
			zap.String("tx_hash", req.TxHash),
			zap.String("purchase_id", string(raw)),
		)
		id = string(raw)
		if ok {
			at = claimedAt
		}
	}

	purchase := models.PurchaseRecord{
		ID:           id,
		ProductID:    req.ProductID,
		TxHash:       req.TxHash,
		Timestamp:    at.UnixMilli(),
		BuyerAddress: req.BuyerAddress,
		ReferrerName: req.ReferrerName,
	}
	if req.ReferrerFID != nil && *req.ReferrerFID != 0 {
		fid := *req.ReferrerFID
		purchase.ReferrerFID = &fid
	}

	if err := store.SetJSON(ctx, s.store, purchaseKeyPrefix+id, purchase); err != nil {
		return nil, false, fmt.Errorf("store purchase %s: %w", id, err)
	}

	if purchase.ReferrerFID != nil {
		key := referralKeyPrefix + strconv.FormatInt(*purchase.ReferrerFID, 10)
		if err := s.store.SAdd(ctx, key, id); err != nil {
			return nil, false, fmt.Errorf("track referral for purchase %s: %w", id, err)
		}
	}

	s.logger.Info("purchase recorded",
		zap.String("purchase_id", purchase.ID),
		zap.String("product_id", purchase.ProductID),
		zap.String("tx_hash", purchase.TxHash),
	)

	if s.publisher != nil {
		s.publisher.PublishPurchaseRecorded(ctx, purchase)
	}

	return &purchase, true, nil
}

// claimTime reads the write time encoded in a purchase id.
func claimTime(id string) (time.Time, bool) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *PurchaseService) existingForTx(ctx context.Context, claimKey string) (*models.PurchaseRecord, error) {
	raw, err := s.store.Get(ctx, claimKey)
	if err != nil {
		return nil, err
	}

	var purchase models.PurchaseRecord
	if err := store.GetJSON(ctx, s.store, purchaseKeyPrefix+string(raw), &purchase); err != nil {
		return nil, err
	}
	return &purchase, nil
}

// ListPurchases returns every purchase, newest first. Entries that disappear
// between listing and reading are skipped.
func (s *PurchaseService) ListPurchases(ctx context.Context) ([]models.PurchaseRecord, error) {
	keys, err := s.store.Keys(ctx, purchaseKeyGlob)
	if err != nil {
		return nil, fmt.Errorf("list purchase keys: %w", err)
	}

	purchases := []models.PurchaseRecord{}
	if len(keys) == 0 {
		return purchases, nil
	}

	values, err := s.store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read purchases: %w", err)
	}

	for i, raw := range values {
		if raw == nil {
			continue
		}
		var p models.PurchaseRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Warn("skipping unreadable purchase", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		purchases = append(purchases, p)
	}

	sort.SliceStable(purchases, func(i, j int) bool {
		if purchases[i].Timestamp != purchases[j].Timestamp {
			return purchases[i].Timestamp > purchases[j].Timestamp
		}
		return purchases[i].ID > purchases[j].ID
	})

	return purchases, nil
}

// ListPurchasesForProduct returns the purchases of one product, newest first.
func (s *PurchaseService) ListPurchasesForProduct(ctx context.Context, productID string) ([]models.PurchaseRecord, error) {
	all, err := s.ListPurchases(ctx)
	if err != nil {
		return nil, err
	}

	filtered := []models.PurchaseRecord{}
	for _, p := range all {
		if p.ProductID == productID {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// ReferralPurchases returns the purchase ids credited to fid, sorted.
func (s *PurchaseService) ReferralPurchases(ctx context.Context, fid int64) ([]string, error) {
	ids, err := s.store.SMembers(ctx, referralKeyPrefix+strconv.FormatInt(fid, 10))
	if err != nil {
		return nil, fmt.Errorf("read referrals for fid %d: %w", fid, err)
	}
	sort.Strings(ids)
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
