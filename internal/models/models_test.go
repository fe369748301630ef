package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPurchaseRequest_ReferrerFID(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		want    *int64
		wantErr bool
	}{
		{name: "number", field: `,"referrerFid":42`, want: int64Ptr(42)},
		{name: "string", field: `,"referrerFid":"42"`, want: int64Ptr(42)},
		{name: "padded string", field: `,"referrerFid":" 7 "`, want: int64Ptr(7)},
		{name: "zero", field: `,"referrerFid":0`, want: int64Ptr(0)},
		{name: "empty string", field: `,"referrerFid":""`},
		{name: "null", field: `,"referrerFid":null`},
		{name: "absent"},
		{name: "word", field: `,"referrerFid":"alice"`, wantErr: true},
		{name: "fraction", field: `,"referrerFid":4.2`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"productId":"p1","txHash":"0xabc","buyerAddress":"0xdef","referrerName":"alice"` + tt.field + `}`

			var req RecordPurchaseRequest
			err := json.Unmarshal([]byte(body), &req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, "p1", req.ProductID)
			assert.Equal(t, "0xabc", req.TxHash)
			assert.Equal(t, "0xdef", req.BuyerAddress)
			assert.Equal(t, "alice", req.ReferrerName)
			assert.Equal(t, tt.want, req.ReferrerFID)
		})
	}
}

func TestRecordPurchaseRequest_MarshalsNumericFID(t *testing.T) {
	body, err := json.Marshal(RecordPurchaseRequest{ProductID: "p1", TxHash: "0xabc", BuyerAddress: "0xdef", ReferrerFID: int64Ptr(42)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"productId":"p1","txHash":"0xabc","buyerAddress":"0xdef","referrerFid":42}`, string(body))
}

func int64Ptr(v int64) *int64 { return &v }
