package models

import "time"

// Plan is reference data administered out of band.
type Plan struct {
	ID           string
	Name         string
	Description  string
	PriceCents   int64
	Currency     string
	Credits      int
	DurationDays int
	IsActive     bool
}

// Subscription records the entitlement window granted by one payment.
type Subscription struct {
	ID                      string
	UserID                  string
	PlanID                  string
	StartDate               time.Time
	EndDate                 time.Time
	CreditsRemaining        int
	IsActive                bool
	ExternalSubscriptionRef string
}

const PaymentStatusCompleted = "completed"

// Payment is an append-only audit row, unique per ExternalPaymentRef.
type Payment struct {
	ID                 string
	UserID             string
	PlanID             string
	AmountCents        int64
	Currency           string
	PaymentMethod      string
	Status             string
	ExternalPaymentRef string
	PaymentDate        time.Time
}
