package ipfs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_FetchProduct(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"name": "Hoodie",
			"description": "Warm",
			"price": "12.50",
			"quantity": 3,
			"images": ["https://img.example/1.png"],
			"contractAddress": "0x00000000000000000000000000000000000000aa"
		}`))
	}))
	defer srv.Close()

	gw := NewGateway(srv.URL+"/ipfs/", time.Second)
	doc, err := gw.FetchProduct(context.Background(), sampleCID)
	require.NoError(t, err)

	assert.Equal(t, "/ipfs/"+sampleCID, gotPath)
	assert.Equal(t, "Hoodie", doc.Name)
	assert.Equal(t, "12.5", doc.Price.String())
	assert.Equal(t, 3, doc.Quantity)
	assert.Equal(t, []string{"https://img.example/1.png"}, doc.Images)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", doc.ContractAddress)
}

func TestGateway_NumericPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Mug","price":7.25,"quantity":1}`))
	}))
	defer srv.Close()

	doc, err := NewGateway(srv.URL, time.Second).FetchProduct(context.Background(), "cid")
	require.NoError(t, err)
	assert.Equal(t, "7.25", doc.Price.String())
}

func TestGateway_Errors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no link named", http.StatusNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewGateway(srv.URL, time.Second).FetchProduct(context.Background(), "cid")
			require.Error(t, err)

			var gwErr *GatewayError
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, "cid", gwErr.ContentID)
			assert.Equal(t, tt.wantStatus, gwErr.StatusCode)
		})
	}
}

func TestGateway_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewGateway(url, time.Second).FetchProduct(context.Background(), "cid")
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Zero(t, gwErr.StatusCode)
	assert.Error(t, gwErr.Err)
}
