package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/server/billing"
	"github.com/dmitrijs2005/paywall/internal/server/services"
)

// Stripe keeps webhook bodies well under this.
const maxWebhookBody = 64 << 10

type priceCheckoutRequest struct {
	PriceID string `json:"priceId"`
}

type planCheckoutRequest struct {
	PlanID string `json:"planId"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
}

type planResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	PriceCents   int64  `json:"priceCents"`
	Currency     string `json:"currency"`
	Credits      int    `json:"credits"`
	DurationDays int    `json:"durationInDays"`
}

type webhookResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.checkout.ListPlans(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			PriceCents:   p.PriceCents,
			Currency:     p.Currency,
			Credits:      p.Credits,
			DurationDays: p.DurationDays,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handlePriceCheckout(w http.ResponseWriter, r *http.Request) {
	var req priceCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	user := userFromContext(r.Context())
	id, err := s.checkout.CreatePriceCheckout(r.Context(), user.ID, req.PriceID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, checkoutResponse{SessionID: id})
}

func (s *Server) handlePlanCheckout(w http.ResponseWriter, r *http.Request) {
	var req planCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	user := userFromContext(r.Context())
	id, err := s.checkout.CreatePlanCheckout(r.Context(), user.ID, req.PlanID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, checkoutResponse{SessionID: id})
}

// handleWebhook acknowledges every verified delivery it does not need to
// see again. Only storage failures ask the sender to retry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("unreadable").Inc()
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	ev, err := billing.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret)
	if err != nil {
		if errors.Is(err, common.ErrMalformedEvent) {
			s.metrics.WebhookEvents.WithLabelValues("malformed").Inc()
			s.logger.Warn(ctx, "ignoring malformed checkout event", "error", err)
			respondJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: true})
			return
		}
		s.metrics.WebhookEvents.WithLabelValues("bad_signature").Inc()
		s.respondError(w, r, err)
		return
	}

	switch e := ev.(type) {
	case billing.CheckoutCompleted:
		s.applyCheckout(w, r, e, payload)
	case billing.Ignored:
		s.metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		s.logger.Debug(ctx, "webhook event ignored", "event_id", e.EventID, "type", e.Type)
		respondJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: true})
	}
}

func (s *Server) applyCheckout(w http.ResponseWriter, r *http.Request, e billing.CheckoutCompleted, payload []byte) {
	ctx := r.Context()

	applied, err := s.entitlements.ApplyCompletedPayment(ctx, services.PaymentCompleted{
		UserID:                  e.UserID,
		PlanID:                  e.PlanID,
		AmountCents:             e.AmountCents,
		Currency:                e.Currency,
		ExternalPaymentRef:      e.PaymentRef,
		ExternalSubscriptionRef: e.SubscriptionRef,
	})
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("failed").Inc()
		s.respondError(w, r, err)
		return
	}
	if !applied {
		s.metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
		s.logger.Info(ctx, "checkout already applied", "event_id", e.EventID, "payment_ref", e.PaymentRef)
		respondJSON(w, http.StatusOK, webhookResponse{Received: true, Duplicate: true})
		return
	}

	s.metrics.WebhookEvents.WithLabelValues("applied").Inc()
	s.logger.Info(ctx, "checkout applied", "event_id", e.EventID, "user_id", e.UserID, "plan_id", e.PlanID)

	if key, err := s.archive.Archive(ctx, e.EventID, payload); err != nil {
		s.logger.Warn(ctx, "webhook archive failed", "event_id", e.EventID, "error", err)
	} else if key != "" {
		s.logger.Debug(ctx, "webhook archived", "key", key)
	}

	respondJSON(w, http.StatusOK, webhookResponse{Received: true})
}
