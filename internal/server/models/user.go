// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account holder. Optional columns map to zero values: an empty
// PlanID means no plan, a nil EmailVerifiedAt means unverified.
type User struct {
	ID                string
	Email             string
	EmailVerifiedAt   *time.Time
	Name              string
	Image             string
	PlanID            string
	PlanName          string
	Credits           int
	BillingCustomerID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Verified reports whether the email has been confirmed at least once.
func (u *User) Verified() bool { return u.EmailVerifiedAt != nil }
