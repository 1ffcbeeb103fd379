package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"accountserver/internal/auth"
	"accountserver/internal/domain"
)

type SessionsStore struct {
	db DB
}

func NewSessionsStore(db DB) *SessionsStore {
	return &SessionsStore{db: db}
}

func (s *SessionsStore) CreateSession(ctx context.Context, accountID int64, expiresAt time.Time, ip, userAgent string) (string, error) {
	const q = `
		INSERT INTO sessions (id, account_id, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5)
	`

	id, err := auth.NewSessionID()
	if err != nil {
		return "", err
	}
	if _, err := s.db.Exec(ctx, q, id, accountID, expiresAt, nullIfEmpty(ip), nullIfEmpty(userAgent)); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// GetSession returns the record even when it has expired; expiry is decided
// by the caller.
func (s *SessionsStore) GetSession(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	const q = `SELECT id, account_id, expires_at FROM sessions WHERE id = $1`

	var rec domain.SessionRecord
	if err := s.db.QueryRow(ctx, q, sessionID).Scan(&rec.ID, &rec.AccountID, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionRecord{}, domain.ErrNotFound
		}
		return domain.SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

func (s *SessionsStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeExpired deletes sessions that expired before now.
func (s *SessionsStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
