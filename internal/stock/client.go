package stock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient talks to the inventory service's batched adjust endpoint.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type adjustResponse struct {
	Items     []ItemResult `json:"items"`
	Error     string       `json:"error,omitempty"`
	Shortages []Shortage   `json:"shortages,omitempty"`
}

const errCodeInsufficientStock = "INSUFFICIENT_STOCK"

func AdjustPath(merchantID string) string {
	return "/v1/merchants/" + url.PathEscape(merchantID) + "/stock/adjustments"
}

func (c *HTTPClient) Adjust(ctx context.Context, req AdjustRequest) ([]ItemResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+AdjustPath(req.MerchantID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference+":"+string(req.Kind))

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrInventoryUnavailable, err)
	}

	var out adjustResponse
	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrInventoryUnavailable, err)
		}
		return out.Items, nil
	case resp.StatusCode == http.StatusConflict:
		if err := json.Unmarshal(raw, &out); err == nil && out.Error == errCodeInsufficientStock {
			return nil, &InsufficientStockError{Shortages: out.Shortages}
		}
		return nil, fmt.Errorf("inventory conflict: %s", strings.TrimSpace(string(raw)))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrInventoryUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("inventory rejected adjustment: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}

// WriteInsufficient renders the structured insufficient-stock response.
func WriteInsufficient(w http.ResponseWriter, shortages []Shortage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(adjustResponse{Error: errCodeInsufficientStock, Shortages: shortages})
}

// WriteAdjusted renders a successful adjustment.
func WriteAdjusted(w http.ResponseWriter, items []ItemResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(adjustResponse{Items: items})
}
