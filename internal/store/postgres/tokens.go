package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"accountserver/internal/domain"
)

func (s *Store) CreateToken(ctx context.Context, t domain.Token) (domain.Token, error) {
	const q = `
		INSERT INTO tokens (account_id, kind, code, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	if err := s.db.QueryRow(ctx, q, t.AccountID, string(t.Kind), t.Code, t.CreatedAt, t.ExpiresAt, t.Active).Scan(&t.ID); err != nil {
		return domain.Token{}, fmt.Errorf("create token: %w", err)
	}
	return t, nil
}

func (s *Store) GetActiveToken(ctx context.Context, code string, kind domain.TokenKind) (domain.Token, error) {
	const q = `
		SELECT id, account_id, kind, code, created_at, expires_at, active
		FROM tokens
		WHERE code = $1 AND kind = $2 AND active
	`

	var (
		t    domain.Token
		kstr string
	)
	err := s.db.QueryRow(ctx, q, code, string(kind)).Scan(&t.ID, &t.AccountID, &kstr, &t.Code, &t.CreatedAt, &t.ExpiresAt, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("get token: %w", err)
	}
	t.Kind = domain.TokenKind(kstr)
	return t, nil
}

// DeactivateToken is the single-use guard: of any number of concurrent
// callers exactly one sees a changed row.
func (s *Store) DeactivateToken(ctx context.Context, id int64) error {
	const q = `UPDATE tokens SET active = FALSE WHERE id = $1 AND active`

	tag, err := s.db.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
