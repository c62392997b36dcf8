// Package auth keeps the signed-in user in the local persistence shim and
// answers the engine's "who is signed in" question.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"spendsync/internal/core"
	"spendsync/internal/localstore"
)

var ErrInvalidEmail = errors.New("Invalid email address")

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return ErrInvalidEmail
	}
	return nil
}

// Session is an Authenticator backed by the stored session record.
type Session struct {
	storage *localstore.ExpenseStorage
	now     func() time.Time
}

func NewSession(storage *localstore.ExpenseStorage) *Session {
	return &Session{storage: storage, now: time.Now}
}

// CurrentUser returns the signed-in user or core.ErrAuthRequired.
func (s *Session) CurrentUser(ctx context.Context) (core.User, error) {
	u, ok, err := s.storage.GetUser(ctx)
	if err != nil {
		return core.User{}, fmt.Errorf("read session: %w", err)
	}
	if !ok || u.ID == "" {
		return core.User{}, core.ErrAuthRequired
	}
	return u, nil
}

// SignIn stores a session for email, registering the user on first sight.
// The token is opaque to this package.
func (s *Session) SignIn(ctx context.Context, email, name, token string) (core.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := ValidateEmail(email); err != nil {
		return core.User{}, err
	}

	u, ok, err := s.storage.FindUser(ctx, email)
	if err != nil {
		return core.User{}, err
	}
	if !ok {
		u = core.User{ID: uuid.NewString(), Email: email, Name: name, CreatedAt: s.now().UTC()}
		if err := s.storage.RegisterUser(ctx, u); err != nil {
			return core.User{}, err
		}
		slog.InfoContext(ctx, "Registered new user", "user_id", u.ID)
	}
	if name != "" && u.Name != name {
		u.Name = name
		if err := s.storage.RegisterUser(ctx, u); err != nil {
			return core.User{}, err
		}
	}
	if token == "" {
		token = uuid.NewString()
	}
	if err := s.storage.SaveSession(ctx, u, token); err != nil {
		return core.User{}, fmt.Errorf("save session: %w", err)
	}
	slog.InfoContext(ctx, "User signed in", "user_id", u.ID)
	return u, nil
}

// SignOut forgets the stored session. Registered users are kept.
func (s *Session) SignOut(ctx context.Context) error {
	return s.storage.ClearSession(ctx)
}
