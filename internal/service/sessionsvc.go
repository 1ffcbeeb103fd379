package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accountserver/internal/domain"
)

type SessionAccountsStore interface {
	GetAccountByID(ctx context.Context, id int64) (domain.Account, error)
}

type SessionResolver struct {
	Sessions SessionStore
	Accounts SessionAccountsStore
	Now      func() time.Time
}

func (s *SessionResolver) Resolve(ctx context.Context, sessionID string) (domain.Account, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Account{}, domain.ErrUnauthorized
	}

	sess, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Account{}, domain.ErrUnauthorized
		}
		return domain.Account{}, fmt.Errorf("get session: %w", err)
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	if !now.Before(sess.ExpiresAt) {
		return domain.Account{}, domain.ErrUnauthorized
	}

	a, err := s.Accounts.GetAccountByID(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("get session account: %w", err)
	}
	return a, nil
}

// Invalidate deletes the session. Deleting an unknown session reports false.
func (s *SessionResolver) Invalidate(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, nil
	}
	deleted, err := s.Sessions.DeleteSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return deleted, nil
}
