package models

import "time"

// ApiKey authenticates API calls in place of a session token. Only the hash
// of the key is stored; Prefix lets the owner tell keys apart.
type ApiKey struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Prefix    string    `db:"prefix" json:"prefix"`
	KeyHash   string    `db:"key_hash" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
