package models

import "time"

// Session is the server-side half of a session token. Deleting the row
// revokes the token even if its signature is still valid.
type Session struct {
	ID         string
	UserID     string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}
