package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrGateway wraps every failure reported by a payment provider.
var ErrGateway = errors.New("payment gateway error")

// OrderRequest describes an order to open with the provider. Amount is in minor units.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is the provider's view of an opened order.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway opens payment orders. Completion arrives through the provider callback.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

// ManualGateway issues local order references for offline or desk payments.
type ManualGateway struct {
	currency string
}

// NewManualGateway returns a gateway that never leaves the process.
func NewManualGateway(currency string) *ManualGateway {
	return &ManualGateway{currency: currency}
}

// CreateOrder implements Gateway.
func (g *ManualGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, errors.Join(ErrGateway, errors.New("amount must be positive"))
	}
	currency := req.Currency
	if currency == "" {
		currency = g.currency
	}
	return &Order{
		ID:       "order_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}
