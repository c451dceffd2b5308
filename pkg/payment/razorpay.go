package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// RazorpayConfig holds the API credentials for the orders endpoint.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Currency  string
	Timeout   time.Duration
}

// RazorpayGateway opens orders through the Razorpay REST API.
type RazorpayGateway struct {
	cfg    RazorpayConfig
	client *http.Client
}

// NewRazorpayGateway builds a client. A nil httpClient gets one with cfg.Timeout.
func NewRazorpayGateway(cfg RazorpayConfig, httpClient *http.Client) *RazorpayGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &RazorpayGateway{cfg: cfg, client: httpClient}
}

type razorpayOrderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder implements Gateway.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	currency := req.Currency
	if currency == "" {
		currency = g.cfg.Currency
	}
	payload, err := json.Marshal(razorpayOrderBody{
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode order: %v", ErrGateway, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrGateway, err)
	}
	httpReq.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGateway, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: status %d: malformed response", ErrGateway, resp.StatusCode)
	}

	parsed := gjson.ParseBytes(body)
	if resp.StatusCode >= http.StatusBadRequest {
		desc := parsed.Get("error.description").String()
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrGateway, resp.StatusCode, desc)
	}

	orderID := parsed.Get("id").String()
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id missing from response", ErrGateway)
	}

	return &Order{
		ID:       orderID,
		Amount:   parsed.Get("amount").Int(),
		Currency: parsed.Get("currency").String(),
		Receipt:  parsed.Get("receipt").String(),
		Status:   parsed.Get("status").String(),
	}, nil
}
