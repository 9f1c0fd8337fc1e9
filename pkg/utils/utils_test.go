package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSealOpen(t *testing.T) {
	key := bytes.Repeat([]byte("k"), 32)
	sealed, err := Seal("access-token", key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "access-token" {
		t.Fatal("value was not encrypted")
	}
	got, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "access-token" {
		t.Fatalf("Open = %q", got)
	}

	other := bytes.Repeat([]byte("x"), 32)
	if _, err := Open(sealed, other); err == nil {
		t.Fatal("expected error opening with the wrong key")
	}
	if _, err := Open("AAAA", key); err == nil {
		t.Fatal("expected error for short ciphertext")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", 42, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ValidateToken("secret", token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("UserID = %d", claims.UserID)
	}
	if _, err := ValidateToken("other", token); err == nil {
		t.Fatal("expected signature error")
	}

	expired, err := GenerateToken("secret", 42, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ValidateToken("secret", expired); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestIdempotencyKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	a := IdempotencyKey(1, at, "hello")
	if len(a) != 32 {
		t.Fatalf("len = %d", len(a))
	}
	if a != IdempotencyKey(1, at, "hello") {
		t.Fatal("key is not stable")
	}
	for _, b := range []string{
		IdempotencyKey(2, at, "hello"),
		IdempotencyKey(1, at.Add(time.Second), "hello"),
		IdempotencyKey(1, at, "hello!"),
	} {
		if a == b {
			t.Fatal("distinct inputs produced the same key")
		}
	}
}

func TestNewClaimTokenIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := NewClaimToken()
		if err != nil {
			t.Fatalf("NewClaimToken: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestAPIKey(t *testing.T) {
	key, err := NewAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, "cf_") || len(key) != 35 {
		t.Fatalf("key = %q", key)
	}
	if HashAPIKey(key) != HashAPIKey(key) || HashAPIKey(key) == HashAPIKey(key+"x") {
		t.Fatal("hash is not a stable function of the key")
	}
}
