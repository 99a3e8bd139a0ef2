package custody

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yushukk/trading-custody-sub000/internal/auth"
	"github.com/yushukk/trading-custody-sub000/internal/model"
)

const minPasswordLength = 6

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Role     model.Role `json:"role"` // empty → user
}

// ChangePasswordRequest is the JSON body for PUT /users/{userID}/password.
// OldPassword is required unless an admin resets another user's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ListUsers handles GET /api/v1/users
func (s *Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeFailure(w, r, err, "failed to list users")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateUser handles POST /api/v1/users
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}
	switch req.Role {
	case "":
		req.Role = model.RoleUser
	case model.RoleUser, model.RoleAdmin:
	default:
		writeError(w, "role must be admin or user", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeFailure(w, r, err, "failed to hash password")
		return
	}
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeFailure(w, r, err, "failed to create user")
		return
	}

	slog.Info("user created", "id", user.ID, "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}

// DeleteUser handles DELETE /api/v1/users/{userID}
// The user's ledgers are kept; only the account is removed.
func (s *Service) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if p := auth.FromContext(r.Context()); p != nil && p.UserID == userID {
		writeError(w, "cannot delete the current user", http.StatusConflict)
		return
	}
	if err := s.store.DeleteUser(r.Context(), userID); err != nil {
		writeFailure(w, r, err, "failed to delete user")
		return
	}
	slog.Info("user deleted", "id", userID)
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles PUT /api/v1/users/{userID}/password
func (s *Service) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req ChangePasswordRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		writeFailure(w, r, err, "failed to load user")
		return
	}

	p := auth.FromContext(ctx)
	resetByAdmin := p.IsAdmin() && p.UserID != userID
	if !resetByAdmin {
		if err := auth.CheckPassword(user.PasswordHash, req.OldPassword); err != nil {
			writeError(w, "old password is incorrect", http.StatusForbidden)
			return
		}
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeFailure(w, r, err, "failed to hash password")
		return
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		writeFailure(w, r, err, "failed to update password")
		return
	}

	slog.Info("password changed", "user", userID, "by", p.UserID)
	w.WriteHeader(http.StatusNoContent)
}
