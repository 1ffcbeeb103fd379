package service

import (
	"context"
	"time"

	"accountserver/internal/domain"
)

// AccountsStore persists accounts. Every lookup ignores soft-deleted rows and
// reports a missing row as domain.ErrNotFound.
type AccountsStore interface {
	CreateAccount(ctx context.Context, a domain.NewAccount) (domain.Account, error)
	GetAccountByID(ctx context.Context, id int64) (domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (domain.AccountWithCredential, error)
	UpdateAccount(ctx context.Context, id int64, patch domain.AccountPatch, when time.Time) (domain.Account, error)
	// MarkVerified sets verified on a live account. Activation is its only
	// caller.
	MarkVerified(ctx context.Context, id int64, when time.Time) error
	SetCredential(ctx context.Context, id int64, hash, salt []byte, when time.Time) error
	SetLastLogin(ctx context.Context, id int64, when time.Time) error
	SoftDeleteAccount(ctx context.Context, id int64, when time.Time) (domain.Account, error)
	ListAccounts(ctx context.Context, filter domain.AccountFilter) (domain.AccountPage, error)
}

type TokensStore interface {
	CreateToken(ctx context.Context, t domain.Token) (domain.Token, error)
	GetActiveToken(ctx context.Context, code string, kind domain.TokenKind) (domain.Token, error)
	// DeactivateToken flips active to false only if it is still true and
	// returns domain.ErrNotFound when no row changed.
	DeactivateToken(ctx context.Context, id int64) error
}

type Store interface {
	AccountsStore
	TokensStore
	// InTx runs fn against a transactional view of the store. fn's error
	// rolls everything back.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (domain.SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
}
