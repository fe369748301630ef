package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-commerce-api/internal/models"
	"frame-commerce-api/internal/wallet"
)

const testChainID = 8453

var (
	stablecoin = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	buyer      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	seller     = "0x00000000000000000000000000000000000000aa"
	txHash     = common.HexToHash("0xabc123abcdef")
)

type fakeWallet struct {
	mu         sync.Mutex
	chainID    int64
	switchErr  error
	sendErr    error
	receiptErr error
	status     uint64
	sentTo     common.Address
	sentData   []byte
	sends      int
	// hold blocks WaitForReceipt until closed.
	hold chan struct{}
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{chainID: testChainID, status: types.ReceiptStatusSuccessful}
}

func (f *fakeWallet) Address() common.Address { return buyer }

func (f *fakeWallet) ChainID(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chainID, nil
}

func (f *fakeWallet) SwitchChain(ctx context.Context, chainID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.switchErr != nil {
		return f.switchErr
	}
	f.chainID = chainID
	return nil
}

func (f *fakeWallet) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sentTo = to
	f.sentData = data
	return txHash, nil
}

func (f *fakeWallet) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return &types.Receipt{Status: f.status, TxHash: hash}, nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []models.RecordPurchaseRequest
	err   error
}

func (f *fakeRecorder) RecordPurchase(ctx context.Context, req models.RecordPurchaseRequest) (*models.PurchaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.PurchaseRecord{ID: req.TxHash[:10] + "-1", ProductID: req.ProductID, TxHash: req.TxHash}, nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testProduct() models.ProductRecord {
	return models.ProductRecord{
		ProductDocument: models.ProductDocument{Name: "Hoodie", Price: decimal.RequireFromString("12.5")},
		ProductID:       "0xproduct",
		Seller:          models.Seller{FID: 16216, Address: seller},
	}
}

type harness struct {
	ctrl      *Controller
	snapshots chan Snapshot
	cancel    context.CancelFunc
	done      chan error
}

func start(t *testing.T, w Wallet, rec Recorder, opts Options) *harness {
	t.Helper()
	if opts.ChainID == 0 {
		opts.ChainID = testChainID
	}
	if opts.Stablecoin == (common.Address{}) {
		opts.Stablecoin = stablecoin
	}

	ctrl, err := New(testProduct(), w, rec, opts)
	require.NoError(t, err)

	h := &harness{ctrl: ctrl, snapshots: make(chan Snapshot, 64), done: make(chan error, 1)}
	ctrl.Subscribe(func(s Snapshot) { h.snapshots <- s })

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

// waitFor returns the first snapshot satisfying pred.
func (h *harness) waitFor(t *testing.T, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.snapshots:
			if pred(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out; last snapshot %+v", h.ctrl.Snapshot())
		}
	}
}

func inState(state State) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.State == state }
}

func TestNew_Validation(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	opts := Options{ChainID: testChainID, Stablecoin: stablecoin}

	_, err := New(testProduct(), nil, rec, opts)
	assert.Error(t, err)

	_, err = New(testProduct(), w, rec, Options{Stablecoin: stablecoin})
	assert.Error(t, err)

	bad := testProduct()
	bad.Seller.Address = "nope"
	_, err = New(bad, w, rec, opts)
	assert.Error(t, err)
}

func TestController_HappyPath(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	ref := int64(42)
	h := start(t, w, rec, Options{ReferrerFID: &ref, ReferrerName: "alice"})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	ready := h.waitFor(t, inState(Ready))
	assert.Equal(t, buyer, ready.Address)

	require.NoError(t, h.ctrl.Buy(ctx))
	h.waitFor(t, inState(TxSubmitted))
	confirming := h.waitFor(t, inState(TxConfirming))
	assert.Equal(t, txHash, confirming.TxHash)

	recorded := h.waitFor(t, func(s Snapshot) bool { return s.State == TxConfirmed && s.Purchase != nil })
	assert.Equal(t, "0xproduct", recorded.Purchase.ProductID)

	require.Equal(t, 1, rec.count())
	req := rec.calls[0]
	assert.Equal(t, txHash.Hex(), req.TxHash)
	assert.Equal(t, buyer.Hex(), req.BuyerAddress)
	require.NotNil(t, req.ReferrerFID)
	assert.Equal(t, int64(42), *req.ReferrerFID)
	assert.Equal(t, "alice", req.ReferrerName)

	amount, err := wallet.AmountFromPrice(decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	wantData, err := wallet.TransferCalldata(common.HexToAddress(seller), amount)
	require.NoError(t, err)
	assert.Equal(t, stablecoin, w.sentTo)
	assert.Equal(t, wantData, w.sentData)
}

func TestController_RecordsOncePerHash(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	h := start(t, w, rec, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	h.waitFor(t, inState(Ready))
	require.NoError(t, h.ctrl.Buy(ctx))
	h.waitFor(t, func(s Snapshot) bool { return s.Purchase != nil })

	require.NoError(t, h.ctrl.Post(ctx, Event{Kind: ReceiptConfirmed, TxHash: txHash}))
	h.waitFor(t, inState(TxConfirmed))

	assert.Equal(t, 1, rec.count())
}

func TestController_SwitchesWrongChain(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	w.chainID = 1
	h := start(t, w, rec, Options{})

	require.NoError(t, h.ctrl.Mount(context.Background()))
	h.waitFor(t, inState(WrongChain))
	ready := h.waitFor(t, inState(Ready))
	assert.Equal(t, int64(testChainID), ready.ChainID)
}

func TestController_ChainSwitchFails(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	w.chainID = 1
	w.switchErr = wallet.ErrChainSwitchUnsupported
	h := start(t, w, rec, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	failed := h.waitFor(t, func(s Snapshot) bool { return s.State == WrongChain && s.Message != "" })
	assert.Contains(t, failed.Message, "chain switch not supported")

	require.NoError(t, h.ctrl.Buy(ctx))
	// Buy is not accepted outside Ready; a later chain change still is.
	require.NoError(t, h.ctrl.Post(ctx, Event{Kind: ChainChanged, ChainID: testChainID}))
	h.waitFor(t, inState(Ready))

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, 0, w.sends)
}

func TestController_UserRejection(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	w.sendErr = wallet.ErrUserRejected
	h := start(t, w, rec, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	h.waitFor(t, inState(Ready))
	require.NoError(t, h.ctrl.Buy(ctx))

	failed := h.waitFor(t, inState(TxFailed))
	assert.Equal(t, RejectedMessage, failed.Message)
	assert.Equal(t, 0, rec.count())
}

func TestController_SendError(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	w.sendErr = errors.New("insufficient funds for gas")
	h := start(t, w, rec, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	h.waitFor(t, inState(Ready))
	require.NoError(t, h.ctrl.Buy(ctx))

	failed := h.waitFor(t, inState(TxFailed))
	assert.Equal(t, "insufficient funds for gas", failed.Message)
}

func TestController_RevertedReceipt(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	w.status = types.ReceiptStatusFailed
	h := start(t, w, rec, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	h.waitFor(t, inState(Ready))
	require.NoError(t, h.ctrl.Buy(ctx))

	failed := h.waitFor(t, inState(TxFailed))
	assert.Equal(t, ErrTxReverted.Error(), failed.Message)
	assert.Equal(t, 0, rec.count())
}

func TestController_RecordFailureKeepsConfirmed(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{err: errors.New("api: status 500")}
	h := start(t, w, rec, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	h.waitFor(t, inState(Ready))
	require.NoError(t, h.ctrl.Buy(ctx))

	s := h.waitFor(t, func(s Snapshot) bool { return s.RecordError != "" })
	assert.Equal(t, TxConfirmed, s.State)
	assert.Nil(t, s.Purchase)
	assert.Equal(t, 1, rec.count())
}

func TestController_DisconnectIgnoredWhileConfirming(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	w.hold = make(chan struct{})
	h := start(t, w, rec, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	h.waitFor(t, inState(Ready))
	require.NoError(t, h.ctrl.Buy(ctx))
	h.waitFor(t, inState(TxConfirming))

	require.NoError(t, h.ctrl.Post(ctx, Event{Kind: WalletDisconnected}))
	close(w.hold)

	s := h.waitFor(t, inState(TxConfirmed))
	assert.Equal(t, buyer, s.Address)
}

func TestController_RunStopsOnCancel(t *testing.T) {
	w, rec := newFakeWallet(), &fakeRecorder{}
	w.hold = make(chan struct{})
	h := start(t, w, rec, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Mount(ctx))
	h.waitFor(t, inState(Ready))
	require.NoError(t, h.ctrl.Buy(ctx))
	h.waitFor(t, inState(TxConfirming))

	h.cancel()
	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Error(t, h.ctrl.Post(ctx, Event{Kind: BuyRequested}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "tx_confirming", TxConfirming.String())
	assert.True(t, TxFailed.Terminal())
	assert.False(t, Ready.Terminal())
}
