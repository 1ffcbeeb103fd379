package postgres

import (
	"context"
	"fmt"

	"accountserver/internal/service"
)

// Store implements service.Store over a pool or, inside InTx, a transaction.
type Store struct {
	db   DB
	inTx bool
}

var _ service.Store = (*Store)(nil)

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// InTx commits when fn returns nil and rolls back on error or panic. Nested
// calls reuse the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx service.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	return fn(&Store{db: tx, inTx: true})
}
