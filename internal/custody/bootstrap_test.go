package custody_test

import (
	"context"
	"testing"

	"github.com/yushukk/trading-custody-sub000/internal/auth"
	"github.com/yushukk/trading-custody-sub000/internal/custody"
	"github.com/yushukk/trading-custody-sub000/internal/model"
	"github.com/yushukk/trading-custody-sub000/internal/store"
)

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	if err := custody.EnsureAdmin(ctx, ms, "admin", "first-pass"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	// A second call with another password leaves the account alone.
	if err := custody.EnsureAdmin(ctx, ms, "admin", "second-pass"); err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}

	users, _ := ms.ListUsers(ctx)
	if len(users) != 1 || users[0].Role != model.RoleAdmin {
		t.Fatalf("expected one admin, got %+v", users)
	}
	u, _ := ms.GetUserByName(ctx, "admin")
	if err := auth.CheckPassword(u.PasswordHash, "first-pass"); err != nil {
		t.Errorf("expected original password to remain: %v", err)
	}
}

func TestEnsureAdmin_GeneratesPassword(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	if err := custody.EnsureAdmin(ctx, ms, "ops", ""); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	u, err := ms.GetUserByName(ctx, "ops")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PasswordHash == "" || auth.CheckPassword(u.PasswordHash, "") == nil {
		t.Error("expected a non-empty generated password")
	}
}
