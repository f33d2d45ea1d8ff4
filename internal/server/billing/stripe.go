package billing

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeProcessor implements Processor on the Stripe API.
type StripeProcessor struct {
	api *client.API
}

func NewStripeProcessor(secretKey string) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProcessor{api: api}
}

// newStripeProcessorWithBackends lets tests point the client at a local server.
func newStripeProcessorWithBackends(secretKey string, backends *stripe.Backends) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProcessor{api: api}
}

func (p *StripeProcessor) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx
	params.AddMetadata("userId", req.UserID)

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", common.ErrBilling, err)
	}
	return c.ID, nil
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}

	switch {
	case req.PriceID != "":
		item.Price = stripe.String(req.PriceID)
	case req.Item != nil:
		item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(req.Item.Currency),
			UnitAmount: stripe.Int64(req.Item.AmountCents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(req.Item.Name),
			},
		}
		if req.Item.Description != "" {
			item.PriceData.ProductData.Description = stripe.String(req.Item.Description)
		}
	default:
		return "", fmt.Errorf("%w: checkout without price", common.ErrValidation)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(req.Mode)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{item},
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create checkout session: %v", common.ErrBilling, err)
	}
	return s.ID, nil
}
