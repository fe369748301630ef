// Package wallet signs and submits payment transactions from a local key.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrUserRejected is returned when the signer declines a request.
	ErrUserRejected = errors.New("wallet: user rejected the request")
	// ErrChainSwitchUnsupported is returned when the wallet cannot move to
	// the requested chain.
	ErrChainSwitchUnsupported = errors.New("wallet: chain switch not supported")
)

// Backend is the subset of ethclient.Client the wallet uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ConfirmFunc asks the signer to approve a transaction.
type ConfirmFunc func(ctx context.Context, to common.Address, data []byte) (bool, error)

// Options configures a KeyWallet.
type Options struct {
	// Confirm is consulted before every transaction; nil approves all.
	Confirm      ConfirmFunc
	PollInterval time.Duration
}

// KeyWallet signs with an in-process ECDSA key and submits through an RPC
// backend. Its chain is whatever the backend serves.
type KeyWallet struct {
	backend      Backend
	key          *ecdsa.PrivateKey
	address      common.Address
	confirm      ConfirmFunc
	pollInterval time.Duration
	closeFn      func()
}

// NewKeyWallet creates a wallet from a hex private key (without 0x).
func NewKeyWallet(backend Backend, hexKey string, opts Options) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &KeyWallet{
		backend:      backend,
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		confirm:      opts.Confirm,
		pollInterval: interval,
	}, nil
}

// Dial connects to rpcURL and creates a wallet on top of it.
func Dial(ctx context.Context, rpcURL, hexKey string, opts Options) (*KeyWallet, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	w, err := NewKeyWallet(client, hexKey, opts)
	if err != nil {
		client.Close()
		return nil, err
	}
	w.closeFn = client.Close
	return w, nil
}

// Close releases the RPC connection opened by Dial.
func (w *KeyWallet) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Address returns the signing account.
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// ChainID returns the chain served by the backend.
func (w *KeyWallet) ChainID(ctx context.Context) (int64, error) {
	id, err := w.backend.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain id: %w", err)
	}
	return id.Int64(), nil
}

// SwitchChain succeeds only when the backend already serves chainID.
func (w *KeyWallet) SwitchChain(ctx context.Context, chainID int64) error {
	current, err := w.ChainID(ctx)
	if err != nil {
		return err
	}
	if current != chainID {
		return fmt.Errorf("%w: rpc serves chain %d, want %d", ErrChainSwitchUnsupported, current, chainID)
	}
	return nil
}

// SendTransaction signs a dynamic-fee transaction calling to with data and
// submits it.
func (w *KeyWallet) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if w.confirm != nil {
		ok, err := w.confirm(ctx, to, data)
		if err != nil {
			return common.Hash{}, fmt.Errorf("confirm transaction: %w", err)
		}
		if !ok {
			return common.Hash{}, ErrUserRejected
		}
	}

	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}

	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: w.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls until hash is mined or ctx is done.
func (w *KeyWallet) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
