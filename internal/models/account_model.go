package models

import (
	"time"
)

// Account is the publishing credential a campaign posts through. Tokens are
// sealed at rest.
type Account struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Platform       string    `db:"platform" json:"platform"`
	Handle         string    `db:"handle" json:"handle"`
	AccessToken    string    `db:"access_token" json:"-"`
	RefreshToken   string    `db:"refresh_token" json:"-"`
	TokenExpiresAt time.Time `db:"token_expires_at" json:"token_expires_at"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

const (
	AccountStatusActive  = "active"
	AccountStatusRevoked = "revoked"
)

// RateKey identifies the account's token bucket.
func (a *Account) RateKey() string {
	return "account:" + a.Platform + ":" + a.Handle
}
