package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IdempotencyKey is stable for one campaign, target time and content, so a
// re-sent post is recognised by the platform as the same request.
func IdempotencyKey(campaignID int64, target time.Time, content string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(campaignID, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(target.Unix(), 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// NewClaimToken returns a random token identifying one delivery claim.
func NewClaimToken() (string, error) {
	return gonanoid.New()
}

const apiKeyPrefix = "cf_"

// NewAPIKey returns a fresh API key. Only HashAPIKey of it is stored.
func NewAPIKey() (string, error) {
	id, err := gonanoid.New(32)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + id, nil
}

func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
