// Package ipfs turns attestation payloads into content identifiers and
// fetches the documents they address from an HTTP gateway.
package ipfs

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DecodeError reports a hex payload that could not be turned into bytes.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode hex %q: %v", e.Input, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// BytesFromHex decodes a hex string with an optional 0x prefix.
// Odd-length input and non-hex characters are rejected.
func BytesFromHex(input string) ([]byte, error) {
	clean := input
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		clean = clean[2:]
	}

	b, err := hexutil.Decode("0x" + clean)
	if err != nil {
		return nil, &DecodeError{Input: input, Err: err}
	}
	return b, nil
}

// HashFromBytes interprets b as UTF-8 text.
func HashFromBytes(b []byte) string {
	return string(b)
}

// ContentIDFromHex decodes an attestation field into a content identifier.
func ContentIDFromHex(input string) (string, error) {
	b, err := BytesFromHex(input)
	if err != nil {
		return "", err
	}
	return HashFromBytes(b), nil
}
