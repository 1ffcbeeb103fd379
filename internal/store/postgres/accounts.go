package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"accountserver/internal/domain"
)

const accountColumns = `id, name, email, avatar, active, verified, deleted,
	last_login, last_password_change, created_at, updated_at, deleted_at`

func scanAccount(row pgx.Row, extra ...any) (domain.Account, error) {
	var (
		a             domain.Account
		avatar        pgtype.Text
		lastLogin     pgtype.Timestamptz
		lastPwdChange pgtype.Timestamptz
		deletedAt     pgtype.Timestamptz
	)
	dest := append([]any{
		&a.ID,
		&a.Name,
		&a.Email,
		&avatar,
		&a.Active,
		&a.Verified,
		&a.Deleted,
		&lastLogin,
		&lastPwdChange,
		&a.CreatedAt,
		&a.UpdatedAt,
		&deletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Account{}, err
	}

	a.Avatar = textOrEmpty(avatar)
	a.LastLogin = timestamptzPtr(lastLogin)
	a.LastPasswordChange = timestamptzPtr(lastPwdChange)
	a.DeletedAt = timestamptzPtr(deletedAt)
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, in domain.NewAccount) (domain.Account, error) {
	const q = `
		INSERT INTO accounts (name, email, avatar, password_hash, salt, active, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + accountColumns

	var avatar any
	if in.Avatar != "" {
		avatar = in.Avatar
	}
	a, err := scanAccount(s.db.QueryRow(ctx, q, in.Name, in.Email, avatar, in.PasswordHash, in.Salt, in.Active, in.Verified))
	if err != nil {
		return domain.Account{}, mapAccountWriteError("create account", err)
	}
	return a, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id int64) (domain.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND NOT deleted`

	a, err := scanAccount(s.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("get account by id: %w", err)
	}
	return a, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (domain.AccountWithCredential, error) {
	const q = `SELECT ` + accountColumns + `, password_hash, salt FROM accounts WHERE email = $1 AND NOT deleted`

	var u domain.AccountWithCredential
	a, err := scanAccount(s.db.QueryRow(ctx, q, email), &u.PasswordHash, &u.Salt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccountWithCredential{}, domain.ErrNotFound
		}
		return domain.AccountWithCredential{}, fmt.Errorf("get account by email: %w", err)
	}
	u.Account = a
	return u, nil
}

// UpdateAccount applies patch; a NULL parameter keeps the column as it is.
func (s *Store) UpdateAccount(ctx context.Context, id int64, patch domain.AccountPatch, when time.Time) (domain.Account, error) {
	const q = `
		UPDATE accounts SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			avatar = COALESCE($4, avatar),
			active = COALESCE($5, active),
			updated_at = $6
		WHERE id = $1 AND NOT deleted
		RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRow(ctx, q, id, patch.Name, patch.Email, patch.Avatar, patch.Active, when))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, mapAccountWriteError("update account", err)
	}
	return a, nil
}

func (s *Store) SetCredential(ctx context.Context, id int64, hash, salt []byte, when time.Time) error {
	const q = `
		UPDATE accounts
		SET password_hash = $2, salt = $3, last_password_change = $4, updated_at = $4
		WHERE id = $1 AND NOT deleted
	`

	tag, err := s.db.Exec(ctx, q, id, hash, salt, when)
	if err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkVerified sets the verified flag. It never clears it.
func (s *Store) MarkVerified(ctx context.Context, id int64, when time.Time) error {
	const q = `UPDATE accounts SET verified = TRUE, updated_at = $2 WHERE id = $1 AND NOT deleted`

	tag, err := s.db.Exec(ctx, q, id, when)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) SetLastLogin(ctx context.Context, id int64, when time.Time) error {
	const q = `UPDATE accounts SET last_login = $2 WHERE id = $1 AND NOT deleted`

	tag, err := s.db.Exec(ctx, q, id, when)
	if err != nil {
		return fmt.Errorf("set last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) SoftDeleteAccount(ctx context.Context, id int64, when time.Time) (domain.Account, error) {
	const q = `
		UPDATE accounts
		SET deleted = TRUE, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT deleted
		RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRow(ctx, q, id, when))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("delete account: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, filter domain.AccountFilter) (domain.AccountPage, error) {
	var active *bool
	switch filter.Status {
	case domain.AccountStatusActive:
		v := true
		active = &v
	case domain.AccountStatusInactive:
		v := false
		active = &v
	}
	var search *string
	if filter.Search != "" {
		p := containsPattern(filter.Search)
		search = &p
	}

	const where = `
		WHERE NOT deleted
		AND ($1::boolean IS NULL OR active = $1)
		AND ($2::text IS NULL OR name ILIKE $2 OR email ILIKE $2)
	`

	page := domain.AccountPage{Items: []domain.Account{}}
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM accounts`+where, active, search).Scan(&page.Total); err != nil {
		return domain.AccountPage{}, fmt.Errorf("count accounts: %w", err)
	}
	if page.Total == 0 {
		return page, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts`+where+` ORDER BY id LIMIT $3 OFFSET $4`,
		active, search, filter.Limit, filter.Offset)
	if err != nil {
		return domain.AccountPage{}, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return domain.AccountPage{}, fmt.Errorf("scan account: %w", err)
		}
		page.Items = append(page.Items, a)
	}
	if err := rows.Err(); err != nil {
		return domain.AccountPage{}, fmt.Errorf("list accounts: %w", err)
	}
	return page, nil
}

func mapAccountWriteError(op string, err error) error {
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		if pgerr.ConstraintName == "accounts_email_live_uq" {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("unique violation (%s): %w", pgerr.ConstraintName, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
