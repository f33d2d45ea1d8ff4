package models

import "time"

// Account links a federated identity (provider + provider-side id) to a User.
type Account struct {
	UserID            string
	Type              string
	Provider          string
	ProviderAccountID string
	CreatedAt         time.Time
}
