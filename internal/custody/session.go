package custody

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yushukk/trading-custody-sub000/internal/auth"
	"github.com/yushukk/trading-custody-sub000/internal/model"
	"github.com/yushukk/trading-custody-sub000/internal/store"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the session token, also set as a cookie.
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// Login handles POST /api/v1/auth/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user, err := s.store.GetUserByName(r.Context(), req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeFailure(w, r, err, "failed to load user")
		return
	}
	if user == nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		slog.Info("login rejected", "username", req.Username)
		writeError(w, auth.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
		return
	}

	token, err := s.issuer.Sign(user)
	if err != nil {
		writeFailure(w, r, err, "failed to issue token")
		return
	}
	expires := time.Now().Add(s.issuer.TTL())

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(s.issuer.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("user logged in", "user", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expires.UTC(), User: user})
}

// Logout handles POST /api/v1/auth/logout by clearing the session cookie.
// Tokens are stateless and stay valid until they expire.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/me
func (s *Service) Me(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	user, err := s.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeFailure(w, r, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
