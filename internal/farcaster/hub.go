// Package farcaster looks up user profile data on a Farcaster hub.
package farcaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultHubURL is the public Pinata hub.
const DefaultHubURL = "https://hub.pinata.cloud"

const userDataTypeUsername = "USER_DATA_TYPE_USERNAME"

// ErrUsernameNotSet is returned when the hub has no username record for a fid.
var ErrUsernameNotSet = errors.New("farcaster: username not set")

// LookupError wraps a failed hub request.
type LookupError struct {
	FID        int64
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("farcaster hub: fid %d: status %d", e.FID, e.StatusCode)
	}
	return fmt.Sprintf("farcaster hub: fid %d: %v", e.FID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Hub resolves Farcaster identities.
type Hub interface {
	Username(ctx context.Context, fid int64) (string, error)
}

type hubImpl struct {
	httpClient *http.Client
	baseURL    string
}

// NewHub creates a hub client.
func NewHub(baseURL string, timeout time.Duration) Hub {
	if baseURL == "" {
		baseURL = DefaultHubURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &hubImpl{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type userDataResponse struct {
	Messages []struct {
		Data struct {
			UserDataBody struct {
				Type  string `json:"type"`
				Value string `json:"value"`
			} `json:"userDataBody"`
		} `json:"data"`
	} `json:"messages"`
}

// Username returns the username user-data record for fid.
func (h *hubImpl) Username(ctx context.Context, fid int64) (string, error) {
	ctx, span := otel.Tracer("frame-commerce-api/farcaster").Start(ctx, "farcaster.Username")
	defer span.End()
	span.SetAttributes(attribute.Int64("farcaster.fid", fid))

	url := h.baseURL + "/v1/userDataByFid?fid=" + strconv.FormatInt(fid, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &LookupError{FID: fid, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", &LookupError{FID: fid, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", &LookupError{FID: fid, StatusCode: resp.StatusCode}
	}

	var data userDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", &LookupError{FID: fid, Err: fmt.Errorf("decode user data: %w", err)}
	}

	for _, msg := range data.Messages {
		if msg.Data.UserDataBody.Type == userDataTypeUsername {
			return msg.Data.UserDataBody.Value, nil
		}
	}

	return "", &LookupError{FID: fid, Err: ErrUsernameNotSet}
}
