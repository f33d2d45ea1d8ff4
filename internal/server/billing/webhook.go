package billing

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Event is a verified webhook delivery. It is one of CheckoutCompleted or
// Ignored.
type Event interface {
	eventID() string
}

// CheckoutCompleted carries what the ledger needs from a completed checkout.
type CheckoutCompleted struct {
	EventID         string
	SessionID       string
	UserID          string
	PlanID          string
	AmountCents     int64
	Currency        string
	PaymentRef      string
	SubscriptionRef string
}

// Ignored is any verified event the ledger does not act on.
type Ignored struct {
	EventID string
	Type    string
}

func (e CheckoutCompleted) eventID() string { return e.EventID }
func (e Ignored) eventID() string           { return e.EventID }

// ParseWebhook checks the Stripe-Signature header against secret and decodes
// the payload. A bad signature or stale timestamp yields
// common.ErrSignatureInvalid. A completed checkout missing its metadata
// yields common.ErrMalformedEvent.
func ParseWebhook(payload []byte, header, secret string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSignatureInvalid, err)
	}

	if ev.Type != stripe.EventTypeCheckoutSessionCompleted {
		return Ignored{EventID: ev.ID, Type: string(ev.Type)}, nil
	}

	if ev.Data == nil {
		return nil, fmt.Errorf("%w: no data", common.ErrMalformedEvent)
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
	}

	out := CheckoutCompleted{
		EventID:     ev.ID,
		SessionID:   s.ID,
		UserID:      s.Metadata["userId"],
		PlanID:      s.Metadata["planId"],
		AmountCents: s.AmountTotal,
		Currency:    string(s.Currency),
	}
	if out.UserID == "" || out.PlanID == "" {
		return nil, fmt.Errorf("%w: metadata userId and planId are required", common.ErrMalformedEvent)
	}

	// subscription-mode sessions have no payment intent; the session id is
	// still unique per purchase
	out.PaymentRef = s.ID
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		out.PaymentRef = s.PaymentIntent.ID
	}
	if s.Subscription != nil {
		out.SubscriptionRef = s.Subscription.ID
	}

	return out, nil
}
