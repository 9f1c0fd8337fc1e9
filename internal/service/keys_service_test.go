package service

import (
	"context"
	"errors"
	"testing"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"go.uber.org/zap"
)

func TestApiKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewApiKeyService(repository.NewMemoryStore().Keys, zap.NewNop())

	key, err := svc.Create(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	userID, err := svc.GetUserID(ctx, key)
	if err != nil || userID != 3 {
		t.Fatalf("GetUserID = %d, %v", userID, err)
	}
	if _, err := svc.GetUserID(ctx, key+"x"); !errors.Is(err, ErrUnknownApiKey) {
		t.Fatalf("unknown key resolved: %v", err)
	}

	keys, _ := svc.List(ctx, 3)
	if len(keys) != 1 || keys[0].Prefix != key[:8] {
		t.Fatalf("keys = %+v", keys)
	}
	if err := svc.RemoveAPIKey(ctx, 4, keys[0].ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("other user removed the key: %v", err)
	}
	if err := svc.RemoveAPIKey(ctx, 3, keys[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetUserID(ctx, key); !errors.Is(err, ErrUnknownApiKey) {
		t.Fatal("removed key still resolves")
	}
}

func TestApiKeyLimit(t *testing.T) {
	ctx := context.Background()
	svc := NewApiKeyService(repository.NewMemoryStore().Keys, zap.NewNop())
	for i := 0; i < maxApiKeys; i++ {
		if _, err := svc.Create(ctx, 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Create(ctx, 1); apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("created key past the limit: %v", err)
	}
}
