// Package auth resolves caller identity from login sessions and checks
// administrator credentials.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/session"
)

// Caller is the identity attached to a request.
type Caller struct {
	ID            uint
	Username      string
	Authenticated bool
}

// Anonymous is the caller of requests without a valid session.
func Anonymous() Caller { return Caller{} }

type callerKey struct{}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, or Anonymous.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// Users is the credential lookup used by Service.
type Users interface {
	FindUser(ctx context.Context, username string) (*models.User, error)
	SaveUser(ctx context.Context, username, password string) (*models.User, error)
}

// Service logs administrators in and out.
type Service struct {
	users    Users
	sessions session.Store
	log      *slog.Logger
}

func NewService(users Users, sessions session.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{users: users, sessions: sessions, log: log}
}

// Login checks the credentials and opens a session. Unknown users and wrong
// passwords both yield apperr.ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (string, Caller, error) {
	if username == "" || password == "" {
		return "", Caller{}, apperr.ErrUnauthorized
	}

	u, err := s.users.FindUser(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", Caller{}, apperr.ErrUnauthorized
	}
	if err != nil {
		return "", Caller{}, err
	}
	if !CheckPassword(u.Password, password) {
		return "", Caller{}, apperr.ErrUnauthorized
	}

	if !isHash(u.Password) {
		s.upgrade(ctx, username, password)
	}

	token, err := s.sessions.Create(ctx, session.Data{UserID: u.ID, Username: u.Username})
	if err != nil {
		return "", Caller{}, fmt.Errorf("auth: create session: %w", err)
	}
	return token, Caller{ID: u.ID, Username: u.Username, Authenticated: true}, nil
}

// upgrade replaces a legacy plaintext password with its bcrypt hash.
func (s *Service) upgrade(ctx context.Context, username, password string) {
	hash, err := HashPassword(password)
	if err == nil {
		_, err = s.users.SaveUser(ctx, username, hash)
	}
	if err != nil {
		s.log.Warn("auth: password upgrade failed", "username", username, "error", err)
		return
	}
	s.log.Info("auth: upgraded plaintext password", "username", username)
}

// Logout revokes the session. An empty token is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, token)
}

// Resolve maps a session token to a caller. Lookup failures other than an
// unknown token are logged and treated as anonymous.
func (s *Service) Resolve(ctx context.Context, token string) Caller {
	if token == "" {
		return Anonymous()
	}
	data, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			s.log.Warn("auth: session lookup failed", "error", err)
		}
		return Anonymous()
	}
	return Caller{ID: data.UserID, Username: data.Username, Authenticated: true}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword compares password against a stored bcrypt hash, or against a
// legacy plaintext value in constant time.
func CheckPassword(stored, password string) bool {
	if isHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

func isHash(stored string) bool {
	return strings.HasPrefix(stored, "$2")
}
