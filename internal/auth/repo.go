package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/resto-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
)

const (
	userColumns   = `id, username, email, password_hash, role, created_at, updated_at`
	insertUserSQL = `INSERT INTO users(username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns
	userByEmailSQL   = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	userByIDSQL      = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	insertSessionSQL = `INSERT INTO sessions(user_id, session_token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	sessionByTokenSQL = `SELECT id, user_id, session_token, expires_at FROM sessions WHERE session_token = $1`
	deleteSessionSQL  = `DELETE FROM sessions WHERE session_token = $1`
	deleteExpiredSQL  = `DELETE FROM sessions WHERE expires_at <= $1`
)

// Repo is the postgres-backed user directory and session store.
type Repo struct{ DB postgres.DB }

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

func (r *Repo) CreateUser(ctx context.Context, u User) (User, error) {
	out, err := scanUser(r.DB.QueryRow(ctx, insertUserSQL, u.Username, u.Email, u.PasswordHash, string(u.Role)))
	if postgres.IsUniqueViolation(err) {
		return User{}, ErrUserExists
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return out, nil
}

func (r *Repo) UserByEmail(ctx context.Context, email string) (User, error) {
	return r.userBy(ctx, userByEmailSQL, email)
}

func (r *Repo) UserByID(ctx context.Context, id int64) (User, error) {
	return r.userBy(ctx, userByIDSQL, id)
}

func (r *Repo) userBy(ctx context.Context, sql string, arg any) (User, error) {
	u, err := scanUser(r.DB.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (r *Repo) CreateSession(ctx context.Context, s Session) (Session, error) {
	if err := r.DB.QueryRow(ctx, insertSessionSQL, s.UserID, s.Token, s.ExpiresAt).Scan(&s.ID); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// SessionByToken returns ErrUnauthorized for unknown tokens.
func (r *Repo) SessionByToken(ctx context.Context, token string) (Session, error) {
	var s Session
	err := r.DB.QueryRow(ctx, sessionByTokenSQL, token).Scan(&s.ID, &s.UserID, &s.Token, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrUnauthorized
	}
	if err != nil {
		return Session{}, fmt.Errorf("select session: %w", err)
	}
	return s, nil
}

func (r *Repo) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.DB.Exec(ctx, deleteSessionSQL, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session that expired at or before now
// and returns how many were removed.
func (r *Repo) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredSQL, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
