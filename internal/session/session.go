// Package session provides login session storage backends.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or expired tokens.
var ErrNotFound = errors.New("session: not found or expired")

// Data holds what is stored per session token.
type Data struct {
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps session tokens for a bounded time.
type Store interface {
	Create(ctx context.Context, data Data) (string, error)
	Lookup(ctx context.Context, token string) (Data, error)
	Revoke(ctx context.Context, token string) error
	Close() error
}

// DefaultTTL applies when a store is built with a non-positive ttl.
const DefaultTTL = 12 * time.Hour

func newToken() string {
	return uuid.NewString()
}
