package checkout

import (
	"github.com/ethereum/go-ethereum/common"

	"frame-commerce-api/internal/models"
)

// State is a purchase flow state.
type State int

const (
	Disconnected State = iota
	WrongChain
	Ready
	TxSubmitted
	TxConfirming
	TxConfirmed
	TxFailed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case WrongChain:
		return "wrong_chain"
	case Ready:
		return "ready"
	case TxSubmitted:
		return "tx_submitted"
	case TxConfirming:
		return "tx_confirming"
	case TxConfirmed:
		return "tx_confirmed"
	case TxFailed:
		return "tx_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transaction progress is possible.
func (s State) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// inFlight reports whether a transaction is being sent or awaited.
func (s State) inFlight() bool {
	return s == TxSubmitted || s == TxConfirming
}

// EventKind identifies an input to the controller.
type EventKind int

const (
	Mounted EventKind = iota
	WalletConnected
	WalletDisconnected
	ChainChanged
	BuyRequested
	TxSent
	TxSendFailed
	ReceiptConfirmed
	ReceiptFailed
	PurchaseRecorded
	PurchaseRecordFailed
)

func (k EventKind) String() string {
	switch k {
	case Mounted:
		return "mounted"
	case WalletConnected:
		return "wallet_connected"
	case WalletDisconnected:
		return "wallet_disconnected"
	case ChainChanged:
		return "chain_changed"
	case BuyRequested:
		return "buy_requested"
	case TxSent:
		return "tx_sent"
	case TxSendFailed:
		return "tx_send_failed"
	case ReceiptConfirmed:
		return "receipt_confirmed"
	case ReceiptFailed:
		return "receipt_failed"
	case PurchaseRecorded:
		return "purchase_recorded"
	case PurchaseRecordFailed:
		return "purchase_record_failed"
	default:
		return "unknown"
	}
}

// Event is one entry on the controller queue. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind     EventKind
	Address  common.Address
	ChainID  int64
	TxHash   common.Hash
	Purchase *models.PurchaseRecord
	Err      error
}

// Snapshot is the observable state of a controller.
type Snapshot struct {
	State   State
	Address common.Address
	ChainID int64
	TxHash  common.Hash
	// Message is the user-facing error for WrongChain and TxFailed.
	Message string
	// Purchase is set once the ledger has accepted the purchase.
	Purchase *models.PurchaseRecord
	// RecordError is set when the ledger write failed after confirmation.
	RecordError string
}
