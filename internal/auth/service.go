package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/resto-orders/internal/validation"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const DefaultSessionTTL = time.Hour

// Store is what Service needs from persistence. *Repo implements it.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	CreateSession(ctx context.Context, s Session) (Session, error)
	SessionByToken(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	Store Store
	TTL   time.Duration
	// Cost is the bcrypt work factor; zero means bcrypt.DefaultCost.
	Cost int
	Now  func() time.Time
}

func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{Store: store, TTL: ttl, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Register validates the input, hashes the password and stores the user.
// actor is the signed-in user making the request, nil for self sign-up; the
// stored role is GrantableRole(actor, in.Role).
func (s *Service) Register(ctx context.Context, actor *User, in RegisterInput) (User, error) {
	if err := validation.Struct(in); err != nil {
		return User{}, err
	}
	in.Role = GrantableRole(actor, in.Role)

	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	return s.Store.CreateUser(ctx, User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
	})
}

// Login checks the credentials and opens a new session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	if err := validation.Struct(in); err != nil {
		return Session{}, err
	}

	u, err := s.Store.UserByEmail(ctx, in.Email)
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	now := s.now()
	if n, err := s.Store.DeleteExpiredSessions(ctx, now); err != nil {
		slog.WarnContext(ctx, "expired session cleanup failed", "err", err)
	} else if n > 0 {
		slog.DebugContext(ctx, "expired sessions removed", "count", n)
	}

	return s.Store.CreateSession(ctx, Session{
		UserID:    u.ID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(s.TTL),
	})
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrUnauthorized
	}
	sess, err := s.Store.SessionByToken(ctx, token)
	if err != nil {
		return User{}, err
	}
	if sess.Expired(s.now()) {
		if err := s.Store.DeleteSession(ctx, token); err != nil {
			slog.WarnContext(ctx, "expired session delete failed", "err", err)
		}
		return User{}, ErrSessionExpired
	}

	u, err := s.Store.UserByID(ctx, sess.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrUnauthorized
	}
	return u, err
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	return s.Store.DeleteSession(ctx, token)
}
