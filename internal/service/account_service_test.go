package service

import (
	"testing"
	"time"

	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"github.com/maheshrc27/campaignflow/internal/repository"
	"github.com/maheshrc27/campaignflow/pkg/utils"
	"go.uber.org/zap"
)

func TestRegisterAccountSealsTokens(t *testing.T) {
	f := newFixture(t)
	svc := NewAccountService(f.store.Accounts, testSecretKey, zap.NewNop())

	a, err := svc.Register(f.ctx, 7, AccountRegistration{
		Platform:     "gateway",
		Handle:       " @shop ",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    testStart.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Handle != "@shop" || a.AccessToken == "access-1" {
		t.Fatalf("account = %+v", a)
	}
	if got, err := utils.Open(a.RefreshToken, []byte(testSecretKey)); err != nil || got != "refresh-1" {
		t.Fatalf("refresh token opens to %q, %v", got, err)
	}

	list, err := svc.List(f.ctx, 7)
	if err != nil || len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("List = %+v, %v", list, err)
	}
}

func TestRegisterAccountValidates(t *testing.T) {
	svc := NewAccountService(repository.NewMemoryStore().Accounts, testSecretKey, zap.NewNop())
	for _, req := range []AccountRegistration{
		{Handle: "shop", AccessToken: "a"},
		{Platform: "gateway", AccessToken: "a"},
		{Platform: "gateway", Handle: "shop"},
	} {
		if _, err := svc.Register(t.Context(), 1, req); apperrors.KindOf(err) != apperrors.KindValidation {
			t.Errorf("Register(%+v) error = %v", req, err)
		}
	}
}
