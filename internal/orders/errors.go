package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed         = errors.New("malformed order")
	ErrDishUnavailable   = errors.New("dish unavailable")
	ErrPersistence       = errors.New("persistence failure")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDishNotFound      = errors.New("dish not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Shortfall describes one dish that cannot cover the requested quantity.
// Available is 0 for dishes that do not exist.
type Shortfall struct {
	DishID    int64 `json:"dish_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

// ValidationError is returned for requests that must not be persisted.
// Kind is ErrMalformed or ErrDishUnavailable.
type ValidationError struct {
	Kind       error
	Reason     string
	Shortfalls []Shortfall
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func malformed(format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ErrMalformed, Reason: fmt.Sprintf(format, args...)}
}

func unavailable(shortfalls []Shortfall) *ValidationError {
	ids := make([]string, 0, len(shortfalls))
	for _, s := range shortfalls {
		ids = append(ids, fmt.Sprintf("%d", s.DishID))
	}
	return &ValidationError{
		Kind:       ErrDishUnavailable,
		Reason:     "insufficient stock for dish " + strings.Join(ids, ", "),
		Shortfalls: shortfalls,
	}
}

// StoreError wraps a storage failure. Op names the step that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
