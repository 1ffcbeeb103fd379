package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"accountserver/internal/auth"
	"accountserver/internal/domain"
	"accountserver/internal/metrics"
)

type AuthAccountsStore interface {
	GetAccountByEmail(ctx context.Context, email string) (domain.AccountWithCredential, error)
	SetLastLogin(ctx context.Context, id int64, when time.Time) error
}

type AuthService struct {
	Accounts AuthAccountsStore
	Sessions *SessionResolver
	Hasher   auth.Hasher
	Logger   *slog.Logger
	Now      func() time.Time
}

// Authenticate checks email and password. Unknown email, wrong password and
// an inactive or unverified account all fail with the same
// domain.ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (domain.Account, error) {
	email = normalizeEmail(email)

	u, err := s.Accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.Hasher.Verify(password, nil, nil)
			metrics.ObserveLogin("invalid")
			return domain.Account{}, domain.ErrInvalidCredentials
		}
		metrics.ObserveLogin("error")
		return domain.Account{}, fmt.Errorf("lookup account: %w", err)
	}

	ok := s.Hasher.Verify(password, u.PasswordHash, u.Salt)
	if !ok || !u.Active || !u.Verified || u.Deleted {
		metrics.ObserveLogin("invalid")
		return domain.Account{}, domain.ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	if err := s.Accounts.SetLastLogin(ctx, u.ID, now); err != nil {
		s.logger().Warn("set last login", "account_id", u.ID, "err", err)
	} else {
		u.LastLogin = &now
	}

	metrics.ObserveLogin("ok")
	s.logger().Info("account logged in", "account_id", u.ID)
	return u.Account, nil
}

// Logout drops the session. Logging out of an unknown session succeeds.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.NewValidationError(map[string]string{"session": "no session provided"})
	}
	deleted, err := s.Sessions.Invalidate(ctx, sessionID)
	if err != nil {
		return err
	}
	if !deleted {
		s.logger().Debug("logout for unknown session")
	}
	return nil
}

func (s *AuthService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
