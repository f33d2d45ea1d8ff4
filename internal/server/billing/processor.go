// Package billing talks to the payment processor: it creates customers and
// checkout sessions and turns signed webhook deliveries into typed events.
package billing

import "context"

// Mode selects how a checkout session charges the customer.
type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

// LineItem is an ad-hoc priced item, used for one-time plan purchases.
type LineItem struct {
	Name        string
	Description string
	AmountCents int64
	Currency    string
}

// CheckoutRequest describes one checkout session. Exactly one of PriceID and
// Item is set.
type CheckoutRequest struct {
	CustomerID string
	Mode       Mode
	PriceID    string
	Item       *LineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type CustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

// Processor is the outbound side of the payment processor.
type Processor interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}
