package custody

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yushukk/trading-custody-sub000/internal/auth"
	"github.com/yushukk/trading-custody-sub000/internal/model"
	"github.com/yushukk/trading-custody-sub000/internal/store"
)

// Routes returns the API router, to be mounted at /api/v1.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/login", s.Login)
	r.Post("/auth/logout", s.Logout)

	r.Group(func(r chi.Router) {
		r.Use(s.issuer.Middleware)
		r.Use(s.requireActiveUser)

		r.Get("/me", s.Me)
		r.Get("/prices", s.ListPrices)
		r.Get("/prices/{code}", s.GetPrice)
		if s.wsHub != nil {
			// WebSocket endpoint for price and ledger events.
			r.Get("/ws", s.wsHub.HandleWS)
		}

		// Owner or admin.
		r.Group(func(r chi.Router) {
			r.Use(requireUserAccess)
			r.Put("/users/{userID}/password", s.ChangePassword)
			r.Get("/users/{userID}/funds", s.GetFunds)
			r.Get("/users/{userID}/transactions", s.ListTransactions)
			r.Get("/users/{userID}/pnl", s.GetPnL)
		})

		// Admin only.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(model.RoleAdmin))
			r.Get("/users", s.ListUsers)
			r.Post("/users", s.CreateUser)
			r.Delete("/users/{userID}", s.DeleteUser)
			r.Post("/users/{userID}/funds", s.RecordFund)
			r.Post("/users/{userID}/transactions", s.RecordTransaction)
			r.Post("/prices/sync", s.SyncPrices)
			r.Put("/prices/{code}", s.SetPrice)
		})
	})

	return r
}

// requireUserAccess lets admins through and limits everyone else to their
// own {userID}.
func requireUserAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.FromContext(r.Context())
		if p == nil || !p.CanAccessUser(chi.URLParam(r, "userID")) {
			writeError(w, "access to this user is forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireActiveUser rejects tokens of deleted accounts and applies the
// stored role, so a demoted admin loses access before the token expires.
func (s *Service) requireActiveUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.FromContext(r.Context())
		user, err := s.store.GetUser(r.Context(), p.UserID)
		if errors.Is(err, store.ErrNotFound) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, "account no longer exists", http.StatusUnauthorized)
			return
		}
		if err != nil {
			writeFailure(w, r, err, "failed to load user")
			return
		}
		if user.Role != p.Role {
			current := *p
			current.Role = user.Role
			r = r.WithContext(auth.WithPrincipal(r.Context(), &current))
		}
		next.ServeHTTP(w, r)
	})
}
