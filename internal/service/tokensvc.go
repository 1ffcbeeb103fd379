package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accountserver/internal/auth"
	"accountserver/internal/domain"
	"accountserver/internal/metrics"
)

// RecoveryTTL is how long a password recovery code stays redeemable.
const RecoveryTTL = 2 * time.Hour

type TokenIssuer struct {
	Tokens TokensStore
	Now    func() time.Time
}

func (s *TokenIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// With returns a copy of the issuer bound to st, typically a transaction.
func (s *TokenIssuer) With(st TokensStore) *TokenIssuer {
	c := *s
	c.Tokens = st
	return &c
}

func (s *TokenIssuer) Issue(ctx context.Context, accountID int64, kind domain.TokenKind, ttl time.Duration) (domain.Token, error) {
	fields := map[string]string{}
	if accountID <= 0 {
		fields["account_id"] = "required"
	}
	if !kind.Valid() {
		fields["kind"] = "must be activation_code or recovery_code"
	}
	if len(fields) > 0 {
		return domain.Token{}, domain.NewValidationError(fields)
	}

	code, err := auth.NewCode()
	if err != nil {
		return domain.Token{}, err
	}

	now := s.now().UTC()
	tok, err := s.Tokens.CreateToken(ctx, domain.Token{
		AccountID: accountID,
		Kind:      kind,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Active:    true,
	})
	if err != nil {
		return domain.Token{}, fmt.Errorf("issue %s: %w", kind, err)
	}
	return tok, nil
}

// Redeem locates an active token of the given kind. An expired token is
// rejected but left untouched in storage.
func (s *TokenIssuer) Redeem(ctx context.Context, code string, kind domain.TokenKind) (domain.Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		metrics.ObserveTokenRedeem(string(kind), "invalid")
		return domain.Token{}, domain.ErrTokenInvalid
	}

	tok, err := s.Tokens.GetActiveToken(ctx, code, kind)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveTokenRedeem(string(kind), "invalid")
			return domain.Token{}, domain.ErrTokenInvalid
		}
		return domain.Token{}, fmt.Errorf("redeem %s: %w", kind, err)
	}
	if !tok.Usable(kind, s.now()) {
		metrics.ObserveTokenRedeem(string(kind), "expired")
		return domain.Token{}, domain.ErrTokenExpired
	}

	metrics.ObserveTokenRedeem(string(kind), "ok")
	return tok, nil
}

// Invalidate consumes tok. When a concurrent caller already consumed it the
// store changes nothing and domain.ErrTokenInvalid is returned.
func (s *TokenIssuer) Invalidate(ctx context.Context, tok domain.Token) error {
	if err := s.Tokens.DeactivateToken(ctx, tok.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrTokenInvalid
		}
		return fmt.Errorf("invalidate %s: %w", tok.Kind, err)
	}
	return nil
}
