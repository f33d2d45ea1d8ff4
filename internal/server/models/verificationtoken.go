package models

import "time"

// VerificationToken is a pending one-time code. Only the bcrypt hash of the
// code is stored.
type VerificationToken struct {
	ID         string
	Identifier string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token is no longer usable at now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
