// Package checkout drives a single product purchase: wallet connection, chain
// selection, the stablecoin transfer, confirmation and recording the
// purchase in the ledger.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"frame-commerce-api/internal/models"
	"frame-commerce-api/internal/wallet"
)

// RejectedMessage is shown when the signer declines the transaction.
const RejectedMessage = "Rejected by user."

// ErrTxReverted is reported when a mined transaction did not succeed.
var ErrTxReverted = errors.New("transaction reverted")

// Wallet is the signer the controller pays with.
type Wallet interface {
	Address() common.Address
	ChainID(ctx context.Context) (int64, error)
	SwitchChain(ctx context.Context, chainID int64) error
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Recorder stores confirmed purchases.
type Recorder interface {
	RecordPurchase(ctx context.Context, req models.RecordPurchaseRequest) (*models.PurchaseRecord, error)
}

// Options configures a Controller.
type Options struct {
	ChainID      int64
	Stablecoin   common.Address
	ReferrerFID  *int64
	ReferrerName string
	// QueueSize bounds the event queue; zero means 16.
	QueueSize int
	Logger    *zap.Logger
}

// Controller is the purchase state machine. All transitions happen on the
// goroutine running Run; wallet and ledger calls run on worker goroutines
// that report back through the queue.
type Controller struct {
	product  models.ProductRecord
	wallet   Wallet
	recorder Recorder
	opts     Options
	logger   *zap.Logger

	events chan Event
	done   chan struct{}

	mu        sync.Mutex
	snapshot  Snapshot
	listeners map[int]func(Snapshot)
	nextID    int

	// recorded is only touched by the Run goroutine.
	recorded map[common.Hash]bool
	workers  sync.WaitGroup
}

// New creates a controller for product.
func New(product models.ProductRecord, w Wallet, recorder Recorder, opts Options) (*Controller, error) {
	if w == nil {
		return nil, errors.New("checkout: wallet is required")
	}
	if recorder == nil {
		return nil, errors.New("checkout: recorder is required")
	}
	if opts.ChainID <= 0 {
		return nil, errors.New("checkout: chain id is required")
	}
	if opts.Stablecoin == (common.Address{}) {
		return nil, errors.New("checkout: stablecoin address is required")
	}
	if !common.IsHexAddress(product.Seller.Address) {
		return nil, fmt.Errorf("checkout: invalid seller address %q", product.Seller.Address)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 16
	}

	return &Controller{
		product:   product,
		wallet:    w,
		recorder:  recorder,
		opts:      opts,
		logger:    logger.With(zap.String("product_id", product.ProductID)),
		events:    make(chan Event, size),
		done:      make(chan struct{}),
		snapshot:  Snapshot{State: Disconnected},
		listeners: make(map[int]func(Snapshot)),
		recorded:  make(map[common.Hash]bool),
	}, nil
}

// Subscribe registers fn to receive every snapshot after a transition. fn
// runs on the controller goroutine and must not block. The returned func
// removes the listener.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Post queues ev. It fails once Run has returned or ctx is done.
func (c *Controller) Post(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return errors.New("checkout: controller stopped")
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return errors.New("checkout: controller stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mount starts the flow by querying the wallet.
func (c *Controller) Mount(ctx context.Context) error {
	return c.Post(ctx, Event{Kind: Mounted})
}

// Buy requests the purchase.
func (c *Controller) Buy(ctx context.Context) error {
	return c.Post(ctx, Event{Kind: BuyRequested})
}

// Run drains the queue until ctx is cancelled. In-flight wallet and ledger
// calls are cancelled with ctx and awaited before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		close(c.done)
		c.workers.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// async runs fn on a worker and queues the event it returns.
func (c *Controller) async(ctx context.Context, fn func(context.Context) Event) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		ev := fn(ctx)
		select {
		case c.events <- ev:
		case <-c.done:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	c.mu.Lock()
	s := c.snapshot
	c.mu.Unlock()

	next, changed := c.transition(ctx, s, ev)
	if !changed {
		c.logger.Debug("no transition", zap.Stringer("event", ev.Kind), zap.Stringer("state", s.State))
		return
	}

	if next.State != s.State {
		c.logger.Info("state changed",
			zap.Stringer("from", s.State),
			zap.Stringer("to", next.State),
			zap.Stringer("event", ev.Kind),
		)
	}

	c.mu.Lock()
	c.snapshot = next
	listeners := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// transition applies ev to s. It returns the new snapshot and whether the
// event was accepted.
func (c *Controller) transition(ctx context.Context, s Snapshot, ev Event) (Snapshot, bool) {
	switch ev.Kind {
	case Mounted:
		c.async(ctx, c.queryWallet)
		return s, false

	case WalletConnected:
		s.Address = ev.Address
		s.ChainID = ev.ChainID
		if s.State.inFlight() || s.State.Terminal() {
			return s, true
		}
		s.Message = ""
		if ev.ChainID != c.opts.ChainID {
			s.State = WrongChain
			c.async(ctx, c.switchChain)
			return s, true
		}
		s.State = Ready
		return s, true

	case WalletDisconnected:
		if s.State.inFlight() {
			return s, false
		}
		s.State = Disconnected
		s.Address = common.Address{}
		s.ChainID = 0
		s.Message = ""
		if ev.Err != nil {
			s.Message = ev.Err.Error()
		}
		return s, true

	case ChainChanged:
		if s.State != WrongChain && s.State != Ready {
			return s, false
		}
		if ev.Err != nil {
			s.State = WrongChain
			s.Message = ev.Err.Error()
			return s, true
		}
		s.ChainID = ev.ChainID
		s.Message = ""
		if ev.ChainID == c.opts.ChainID {
			s.State = Ready
		} else {
			s.State = WrongChain
		}
		return s, true

	case BuyRequested:
		if s.State != Ready {
			return s, false
		}
		data, err := c.transferData()
		if err != nil {
			s.State = TxFailed
			s.Message = err.Error()
			return s, true
		}
		s.State = TxSubmitted
		s.Message = ""
		c.async(ctx, func(ctx context.Context) Event {
			hash, err := c.wallet.SendTransaction(ctx, c.opts.Stablecoin, data)
			if err != nil {
				return Event{Kind: TxSendFailed, Err: err}
			}
			return Event{Kind: TxSent, TxHash: hash}
		})
		return s, true

	case TxSent:
		if s.State != TxSubmitted {
			return s, false
		}
		s.State = TxConfirming
		s.TxHash = ev.TxHash
		hash := ev.TxHash
		c.async(ctx, func(ctx context.Context) Event {
			return c.awaitReceipt(ctx, hash)
		})
		return s, true

	case TxSendFailed:
		if s.State != TxSubmitted {
			return s, false
		}
		s.State = TxFailed
		s.Message = failureMessage(ev.Err)
		return s, true

	case ReceiptConfirmed:
		if ev.TxHash != s.TxHash || (s.State != TxConfirming && s.State != TxConfirmed) {
			return s, false
		}
		s.State = TxConfirmed
		s.Message = ""
		if !c.recorded[ev.TxHash] {
			c.recorded[ev.TxHash] = true
			hash := ev.TxHash
			req := c.purchaseRequest(s.Address, hash)
			c.async(ctx, func(ctx context.Context) Event {
				purchase, err := c.recorder.RecordPurchase(ctx, req)
				if err != nil {
					return Event{Kind: PurchaseRecordFailed, TxHash: hash, Err: err}
				}
				return Event{Kind: PurchaseRecorded, TxHash: hash, Purchase: purchase}
			})
		}
		return s, true

	case ReceiptFailed:
		if ev.TxHash != s.TxHash || s.State != TxConfirming {
			return s, false
		}
		s.State = TxFailed
		s.Message = failureMessage(ev.Err)
		return s, true

	case PurchaseRecorded:
		if s.State != TxConfirmed || ev.TxHash != s.TxHash {
			return s, false
		}
		s.Purchase = ev.Purchase
		s.RecordError = ""
		return s, true

	case PurchaseRecordFailed:
		if s.State != TxConfirmed || ev.TxHash != s.TxHash {
			return s, false
		}
		c.logger.Error("record purchase", zap.String("tx_hash", ev.TxHash.Hex()), zap.Error(ev.Err))
		s.RecordError = ev.Err.Error()
		return s, true
	}

	return s, false
}

func (c *Controller) queryWallet(ctx context.Context) Event {
	chainID, err := c.wallet.ChainID(ctx)
	if err != nil {
		return Event{Kind: WalletDisconnected, Err: err}
	}
	return Event{Kind: WalletConnected, Address: c.wallet.Address(), ChainID: chainID}
}

func (c *Controller) switchChain(ctx context.Context) Event {
	if err := c.wallet.SwitchChain(ctx, c.opts.ChainID); err != nil {
		return Event{Kind: ChainChanged, Err: err}
	}
	return Event{Kind: ChainChanged, ChainID: c.opts.ChainID}
}

func (c *Controller) awaitReceipt(ctx context.Context, hash common.Hash) Event {
	receipt, err := c.wallet.WaitForReceipt(ctx, hash)
	if err != nil {
		return Event{Kind: ReceiptFailed, TxHash: hash, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Event{Kind: ReceiptFailed, TxHash: hash, Err: ErrTxReverted}
	}
	return Event{Kind: ReceiptConfirmed, TxHash: hash}
}

func (c *Controller) transferData() ([]byte, error) {
	amount, err := wallet.AmountFromPrice(c.product.Price)
	if err != nil {
		return nil, err
	}
	return wallet.TransferCalldata(common.HexToAddress(c.product.Seller.Address), amount)
}

func (c *Controller) purchaseRequest(buyer common.Address, hash common.Hash) models.RecordPurchaseRequest {
	return models.RecordPurchaseRequest{
		ProductID:    c.product.ProductID,
		TxHash:       hash.Hex(),
		BuyerAddress: buyer.Hex(),
		ReferrerFID:  c.opts.ReferrerFID,
		ReferrerName: c.opts.ReferrerName,
	}
}

func failureMessage(err error) string {
	if err == nil {
		return ErrTxReverted.Error()
	}
	if errors.Is(err, wallet.ErrUserRejected) {
		return RejectedMessage
	}
	return err.Error()
}
