package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yushukk/trading-custody-sub000/internal/auth"
	"github.com/yushukk/trading-custody-sub000/internal/model"
	"github.com/yushukk/trading-custody-sub000/internal/store"
)

// EnsureAdmin creates the bootstrap admin account unless a user with that
// name already exists. An empty password is replaced by a random one,
// which is logged once.
func EnsureAdmin(ctx context.Context, st store.Store, username, password string) error {
	_, err := st.GetUserByName(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up admin %s: %w", username, err)
	}

	generated := password == ""
	if generated {
		password = uuid.New().String()
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	admin := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("create admin %s: %w", username, err)
	}

	if generated {
		slog.Warn("ADMIN_PASSWORD not set, generated a password for the admin account",
			"username", username,
			"password", password,
		)
	} else {
		slog.Info("admin account created", "username", username)
	}
	return nil
}
