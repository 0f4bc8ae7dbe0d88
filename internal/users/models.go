package users

import (
	"context"
	"errors"
	"strings"
	"time"
)

// User is the owner of one or more inbound phone numbers.
// Every call session, text template and audit event is scoped to a user.
type User struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

var ErrNotFound = errors.New("users: not found")

// Directory resolves the owning user of a phone number.
// Implementations return ErrNotFound when no user owns the number.
type Directory interface {
	FindByPhoneNumber(ctx context.Context, phone string) (User, error)
}

// NormalizePhone trims whitespace; provider numbers are already E.164.
func NormalizePhone(s string) string {
	return strings.TrimSpace(s)
}
