package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kmarket/settlement/internal/domain"
)

// EventSource abstracts the chain event gateway so the reconciler can be
// tested with an in-memory fake.
type EventSource interface {
	// CurrentSlot returns the gateway's latest confirmed slot.
	CurrentSlot(ctx context.Context) (uint64, error)
	// FetchEvents returns all decoded events in the slot range [from, to],
	// ordered by slot ascending.
	FetchEvents(ctx context.Context, from, to uint64) ([]domain.ChainEvent, error)
}

// GatewayClient fetches decoded program events from the HTTP event gateway.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGatewayClient creates a client for the event gateway.
func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// slotResponse mirrors the gateway's GET /v1/slot payload.
type slotResponse struct {
	Slot uint64 `json:"slot"`
}

// eventsResponse mirrors the gateway's GET /v1/events payload.
type eventsResponse struct {
	Events []domain.ChainEvent `json:"events"`
}

// CurrentSlot returns the gateway's latest confirmed slot.
func (c *GatewayClient) CurrentSlot(ctx context.Context) (uint64, error) {
	var resp slotResponse
	if err := c.getJSON(ctx, "/v1/slot", nil, &resp); err != nil {
		return 0, fmt.Errorf("gateway.CurrentSlot: %w", err)
	}
	return resp.Slot, nil
}

// FetchEvents returns all decoded events in the inclusive slot range.
func (c *GatewayClient) FetchEvents(ctx context.Context, from, to uint64) ([]domain.ChainEvent, error) {
	params := url.Values{}
	params.Set("from_slot", strconv.FormatUint(from, 10))
	params.Set("to_slot", strconv.FormatUint(to, 10))

	var resp eventsResponse
	if err := c.getJSON(ctx, "/v1/events", params, &resp); err != nil {
		return nil, fmt.Errorf("gateway.FetchEvents: %w", err)
	}
	return resp.Events, nil
}

// getJSON performs a GET request and decodes the JSON response body.
func (c *GatewayClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
