// Package memory is a process-local Store and SessionStore used in development
// and tests. A single mutex serializes every operation, and InTx holds it for
// the whole callback, so transactions are fully isolated.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"accountserver/internal/domain"
	"accountserver/internal/service"
)

type accountRow struct {
	account domain.Account
	hash    []byte
	salt    []byte
}

type state struct {
	nextAccountID int64
	nextTokenID   int64
	accounts      map[int64]accountRow
	tokens        map[int64]domain.Token
}

func (st *state) clone() *state {
	c := &state{
		nextAccountID: st.nextAccountID,
		nextTokenID:   st.nextTokenID,
		accounts:      make(map[int64]accountRow, len(st.accounts)),
		tokens:        make(map[int64]domain.Token, len(st.tokens)),
	}
	for id, row := range st.accounts {
		c.accounts[id] = row
	}
	for id, tok := range st.tokens {
		c.tokens[id] = tok
	}
	return c
}

type db struct {
	mu sync.Mutex
	st *state
}

type Store struct {
	db   *db
	inTx bool
}

var _ service.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{db: &db{st: &state{
		accounts: map[int64]accountRow{},
		tokens:   map[int64]domain.Token{},
	}}}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.db.mu.Lock()
	return s.db.mu.Unlock
}

func (s *Store) InTx(ctx context.Context, fn func(tx service.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snapshot := s.db.st.clone()
	if err := fn(&Store{db: s.db, inTx: true}); err != nil {
		s.db.st = snapshot
		return err
	}
	return nil
}

func (s *Store) CreateAccount(_ context.Context, a domain.NewAccount) (domain.Account, error) {
	defer s.lock()()

	if s.emailInUse(a.Email, 0) {
		return domain.Account{}, domain.ErrEmailTaken
	}

	st := s.db.st
	st.nextAccountID++
	now := time.Now().UTC()
	row := accountRow{
		account: domain.Account{
			ID:        st.nextAccountID,
			Name:      a.Name,
			Email:     a.Email,
			Avatar:    a.Avatar,
			Active:    a.Active,
			Verified:  a.Verified,
			CreatedAt: now,
			UpdatedAt: now,
		},
		hash: append([]byte(nil), a.PasswordHash...),
		salt: append([]byte(nil), a.Salt...),
	}
	st.accounts[row.account.ID] = row
	return row.account, nil
}

func (s *Store) GetAccountByID(_ context.Context, id int64) (domain.Account, error) {
	defer s.lock()()

	row, ok := s.live(id)
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return row.account, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (domain.AccountWithCredential, error) {
	defer s.lock()()

	for _, row := range s.db.st.accounts {
		if !row.account.Deleted && row.account.Email == email {
			return domain.AccountWithCredential{
				Account:      row.account,
				PasswordHash: append([]byte(nil), row.hash...),
				Salt:         append([]byte(nil), row.salt...),
			}, nil
		}
	}
	return domain.AccountWithCredential{}, domain.ErrNotFound
}

func (s *Store) UpdateAccount(_ context.Context, id int64, patch domain.AccountPatch, when time.Time) (domain.Account, error) {
	defer s.lock()()

	row, ok := s.live(id)
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	if patch.Email != nil && s.emailInUse(*patch.Email, id) {
		return domain.Account{}, domain.ErrEmailTaken
	}

	a := &row.account
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Email != nil {
		a.Email = *patch.Email
	}
	if patch.Avatar != nil {
		a.Avatar = *patch.Avatar
	}
	if patch.Active != nil {
		a.Active = *patch.Active
	}
	a.UpdatedAt = when
	s.db.st.accounts[id] = row
	return row.account, nil
}

func (s *Store) SetCredential(_ context.Context, id int64, hash, salt []byte, when time.Time) error {
	defer s.lock()()

	row, ok := s.live(id)
	if !ok {
		return domain.ErrNotFound
	}
	row.hash = append([]byte(nil), hash...)
	row.salt = append([]byte(nil), salt...)
	changed := when
	row.account.LastPasswordChange = &changed
	row.account.UpdatedAt = when
	s.db.st.accounts[id] = row
	return nil
}

func (s *Store) MarkVerified(_ context.Context, id int64, when time.Time) error {
	defer s.lock()()

	row, ok := s.live(id)
	if !ok {
		return domain.ErrNotFound
	}
	row.account.Verified = true
	row.account.UpdatedAt = when
	s.db.st.accounts[id] = row
	return nil
}

func (s *Store) SetLastLogin(_ context.Context, id int64, when time.Time) error {
	defer s.lock()()

	row, ok := s.live(id)
	if !ok {
		return domain.ErrNotFound
	}
	at := when
	row.account.LastLogin = &at
	s.db.st.accounts[id] = row
	return nil
}

func (s *Store) SoftDeleteAccount(_ context.Context, id int64, when time.Time) (domain.Account, error) {
	defer s.lock()()

	row, ok := s.live(id)
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	deletedAt := when
	row.account.Deleted = true
	row.account.DeletedAt = &deletedAt
	row.account.UpdatedAt = when
	s.db.st.accounts[id] = row
	return row.account, nil
}

func (s *Store) ListAccounts(_ context.Context, filter domain.AccountFilter) (domain.AccountPage, error) {
	defer s.lock()()

	search := strings.ToLower(filter.Search)
	matched := make([]domain.Account, 0)
	for _, row := range s.db.st.accounts {
		a := row.account
		if a.Deleted {
			continue
		}
		switch filter.Status {
		case domain.AccountStatusActive:
			if !a.Active {
				continue
			}
		case domain.AccountStatusInactive:
			if a.Active {
				continue
			}
		}
		if search != "" && !strings.Contains(strings.ToLower(a.Name), search) && !strings.Contains(strings.ToLower(a.Email), search) {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page := domain.AccountPage{Total: len(matched), Items: []domain.Account{}}
	if filter.Offset >= len(matched) {
		return page, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	page.Items = matched[filter.Offset:end]
	return page, nil
}

func (s *Store) CreateToken(_ context.Context, t domain.Token) (domain.Token, error) {
	defer s.lock()()

	st := s.db.st
	if _, ok := st.accounts[t.AccountID]; !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	for _, existing := range st.tokens {
		if existing.Code == t.Code {
			return domain.Token{}, domain.ErrTokenInvalid
		}
	}
	st.nextTokenID++
	t.ID = st.nextTokenID
	st.tokens[t.ID] = t
	return t, nil
}

func (s *Store) GetActiveToken(_ context.Context, code string, kind domain.TokenKind) (domain.Token, error) {
	defer s.lock()()

	for _, t := range s.db.st.tokens {
		if t.Code == code && t.Kind == kind && t.Active {
			return t, nil
		}
	}
	return domain.Token{}, domain.ErrNotFound
}

func (s *Store) DeactivateToken(_ context.Context, id int64) error {
	defer s.lock()()

	t, ok := s.db.st.tokens[id]
	if !ok || !t.Active {
		return domain.ErrNotFound
	}
	t.Active = false
	s.db.st.tokens[id] = t
	return nil
}

// Token returns the stored token by id regardless of its state.
func (s *Store) Token(id int64) (domain.Token, bool) {
	defer s.lock()()

	t, ok := s.db.st.tokens[id]
	return t, ok
}

// TokensFor lists every token issued to accountID, oldest first.
func (s *Store) TokensFor(accountID int64, kind domain.TokenKind) []domain.Token {
	defer s.lock()()

	var out []domain.Token
	for _, t := range s.db.st.tokens {
		if t.AccountID == accountID && t.Kind == kind {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) live(id int64) (accountRow, bool) {
	row, ok := s.db.st.accounts[id]
	if !ok || row.account.Deleted {
		return accountRow{}, false
	}
	return row, true
}

func (s *Store) emailInUse(email string, except int64) bool {
	for id, row := range s.db.st.accounts {
		if id != except && !row.account.Deleted && row.account.Email == email {
			return true
		}
	}
	return false
}
