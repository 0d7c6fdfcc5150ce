package auth

import (
	"errors"

	"github.com/ariefcatur/resto-orders/internal/validation"
)

var (
	ErrUserExists         = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSessionExpired     = errors.New("session expired")
	ErrUserNotFound       = errors.New("user not found")
)

// InputError lists the request fields that failed validation.
type InputError = validation.Error
