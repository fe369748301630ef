package wallet

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// StablecoinDecimals is the number of decimals of the payment token.
const StablecoinDecimals = 6

const erc20TransferABIJSON = `[
  {"inputs": [{"name": "to", "type": "address"}, {"name": "value", "type": "uint256"}], "name": "transfer", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	erc20TransferABI     abi.ABI
	erc20TransferABIOnce sync.Once
	erc20TransferABIErr  error
)

func erc20TransferABIInstance() (abi.ABI, error) {
	erc20TransferABIOnce.Do(func() {
		erc20TransferABI, erc20TransferABIErr = abi.JSON(strings.NewReader(erc20TransferABIJSON))
	})
	return erc20TransferABI, erc20TransferABIErr
}

// AmountFromPrice converts a price in currency units to token base units,
// truncating anything below the token's precision.
func AmountFromPrice(price decimal.Decimal) (*big.Int, error) {
	if price.IsNegative() {
		return nil, fmt.Errorf("negative price %s", price)
	}
	return price.Shift(StablecoinDecimals).Truncate(0).BigInt(), nil
}

// TransferCalldata encodes transfer(recipient, amount).
func TransferCalldata(recipient common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := erc20TransferABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	data, err := parsed.Pack("transfer", recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	return data, nil
}
