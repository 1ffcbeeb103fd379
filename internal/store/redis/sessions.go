// Package redis keeps sessions in Redis under "sess:<id>" keys that expire
// together with the session.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"accountserver/internal/auth"
	"accountserver/internal/domain"
)

const keyPrefix = "sess:"

type payload struct {
	AccountID int64     `json:"accountId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

type SessionsStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewSessionsStore(client *redis.Client) *SessionsStore {
	return &SessionsStore{client: client, now: time.Now}
}

// NewClient creates a client and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *SessionsStore) CreateSession(ctx context.Context, accountID int64, expiresAt time.Time, ip, userAgent string) (string, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return "", fmt.Errorf("create session: expiry %s is in the past", expiresAt.Format(time.RFC3339))
	}

	id, err := auth.NewSessionID()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(payload{AccountID: accountID, ExpiresAt: expiresAt.UTC(), IP: ip, UserAgent: userAgent})
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+id, data, ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set session: %w", err)
	}
	return id, nil
}

func (s *SessionsStore) GetSession(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	data, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SessionRecord{}, domain.ErrNotFound
		}
		return domain.SessionRecord{}, fmt.Errorf("redis get session: %w", err)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return domain.SessionRecord{ID: sessionID, AccountID: p.AccountID, ExpiresAt: p.ExpiresAt}, nil
}

func (s *SessionsStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Del(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("redis del session: %w", err)
	}
	return n > 0, nil
}
