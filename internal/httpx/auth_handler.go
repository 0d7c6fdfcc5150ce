package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/resto-orders/internal/auth"
	"github.com/go-chi/chi/v5"
)

type AuthService interface {
	Authenticator
	Register(ctx context.Context, actor *auth.User, in auth.RegisterInput) (auth.User, error)
	Login(ctx context.Context, in auth.LoginInput) (auth.Session, error)
	Logout(ctx context.Context, token string) error
}

type AuthHandler struct {
	Auth    AuthService
	Orders  OrderReader
	Timeout time.Duration
}

type loginResp struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) Register(r chi.Router, session func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Group(func(r chi.Router) {
			r.Use(session)
			r.Post("/logout", h.logout)
			r.Get("/user", h.me)
			r.Get("/user/orders", h.myOrders)
		})
	})
}

func (h *AuthHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	// Sign-up is public. A session is only consulted so a manager can
	// create staff accounts.
	var actor *auth.User
	if tok := sessionToken(r); tok != "" {
		u, err := h.Auth.Authenticate(ctx, tok)
		switch {
		case err == nil:
			actor = &u
		case errors.Is(err, auth.ErrSessionExpired):
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		case errors.Is(err, auth.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		default:
			internalError(w, r, "failed to register user", err)
			return
		}
	}

	u, err := h.Auth.Register(ctx, actor, in)
	var ie *auth.InputError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, u)
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		internalError(w, r, "failed to register user", err)
	}
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Auth.Login(ctx, in)
	var ie *auth.InputError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, loginResp{Token: s.Token, ExpiresAt: s.ExpiresAt})
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		internalError(w, r, "failed to login", err)
	}
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	if err := h.Auth.Logout(ctx, sessionToken(r)); err != nil {
		internalError(w, r, "failed to logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	writeJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())

	ctx, cancel := h.ctx(r)
	defer cancel()

	list, err := h.Orders.ListByUser(ctx, u.ID)
	if err != nil {
		internalError(w, r, "failed to list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
