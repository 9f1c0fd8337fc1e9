package transfer

import "time"

type AccountRegistration struct {
	Platform     string    `json:"platform"`
	Handle       string    `json:"handle"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type ApiKeyCreated struct {
	ApiKey string `json:"api_key"`
}
