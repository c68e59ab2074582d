// Package identity verifies bearer tokens and manages the user directory
// that privileged operations resolve users against.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ClaimAdmin is the custom claim that marks an administrator.
const ClaimAdmin = "admin"

var (
	// ErrInvalidToken covers malformed, forged and expired tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when registering an email twice.
	ErrUserExists = errors.New("user already exists")
)

// User is a directory record.
type User struct {
	UID       string         `json:"uid"`
	Email     string         `json:"email"`
	Claims    map[string]any `json:"claims,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Identity is the verified caller behind a token.
type Identity struct {
	UID       string
	Email     string
	Claims    map[string]any
	ExpiresAt time.Time
}

// Admin reports whether the identity carries admin=true. Only a boolean true counts.
func (i *Identity) Admin() bool {
	if i == nil || i.Claims == nil {
		return false
	}
	v, ok := i.Claims[ClaimAdmin].(bool)
	return ok && v
}

// Provider is the identity surface used by privileged operations.
type Provider interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	MergeCustomClaims(ctx context.Context, uid string, updates map[string]any) (*User, error)
}

// NormalizeEmail lowercases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MergeClaims returns a copy of base with updates applied on top.
func MergeClaims(base, updates map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}
