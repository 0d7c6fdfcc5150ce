package auth

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleChef     Role = "chef"
	RoleManager  Role = "manager"
)

// GrantableRole is the role a registration by actor may assign. Only a
// manager can create chef or manager accounts; everyone else gets customer.
func GrantableRole(actor *User, requested Role) Role {
	if requested == "" || actor == nil || actor.Role != RoleManager {
		return RoleCustomer
	}
	return requested
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Session struct {
	ID        int64     `json:"-"`
	UserID    int64     `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer usable at t.
func (s Session) Expired(t time.Time) bool { return !t.Before(s.ExpiresAt) }

type RegisterInput struct {
	Username string `json:"username" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     Role   `json:"role" validate:"omitempty,oneof=customer chef manager"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
