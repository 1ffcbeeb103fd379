package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"accountserver/internal/auth"
	"accountserver/internal/domain"
	"accountserver/internal/metrics"
)

const (
	DefaultActivationTTL = 24 * time.Hour

	defaultListLimit = 10
	maxListLimit     = 100
)

type RegisterInput struct {
	Name           string `json:"name" validate:"required,min=2,max=50"`
	Email          string `json:"email" validate:"required,email,max=254"`
	Password       string `json:"password" validate:"required,max=256"`
	RepeatPassword string `json:"repeatPassword" validate:"required,eqfield=Password"`
}

type ResetPasswordInput struct {
	Code               string `json:"code"`
	NewPassword        string `json:"newPassword" validate:"required,max=256"`
	ConfirmNewPassword string `json:"confirmNewPassword" validate:"required,eqfield=NewPassword"`
}

// CreateAccountInput is the administrative create. Unlike Register the
// account gets no activation mail.
type CreateAccountInput struct {
	Name           string `json:"name" validate:"min=2,max=50"`
	Email          string `json:"email" validate:"email,max=254"`
	Avatar         string `json:"avatar" validate:"max=512"`
	Password       string `json:"password" validate:"max=256"`
	RepeatPassword string `json:"repeatPassword" validate:"eqfield=Password"`
}

type UpdateAccountInput struct {
	Patch    domain.AccountPatch
	Password *string
}

type AccountService struct {
	Store         Store
	Hasher        auth.Hasher
	Notifier      Notifier
	Links         Links
	ActivationTTL time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

func (s *AccountService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AccountService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *AccountService) tokens(st TokensStore) *TokenIssuer {
	return &TokenIssuer{Tokens: st, Now: s.Now}
}

func (s *AccountService) activationTTL() time.Duration {
	if s.ActivationTTL <= 0 {
		return DefaultActivationTTL
	}
	return s.ActivationTTL
}

// Register creates an unverified account and mails its activation link.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (int64, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(in); err != nil {
		return 0, err
	}

	if err := s.ensureEmailFree(ctx, in.Email); err != nil {
		return 0, err
	}

	hash, salt, err := s.Hasher.NewCredential(in.Password)
	if err != nil {
		return 0, fmt.Errorf("derive credential: %w", err)
	}

	var (
		account domain.Account
		token   domain.Token
	)
	err = s.Store.InTx(ctx, func(tx Store) error {
		var err error
		account, err = tx.CreateAccount(ctx, domain.NewAccount{
			Name:         in.Name,
			Email:        in.Email,
			PasswordHash: hash,
			Salt:         salt,
			Active:       true,
			Verified:     false,
		})
		if err != nil {
			return err
		}
		token, err = s.tokens(tx).Issue(ctx, account.ID, domain.TokenKindActivation, s.activationTTL())
		return err
	})
	if err != nil {
		return 0, err
	}

	metrics.ObserveAccountEvent("registered")
	s.logger().Info("account registered", "account_id", account.ID)

	// The account exists either way; a lost mail is recovered through resend.
	if err := s.notify(ctx, activationNotification(account, s.Links.Activation(token.Code))); err != nil {
		s.logger().Error("activation notification failed", "account_id", account.ID, "err", err)
	}
	return account.ID, nil
}

// ConfirmRegistration is the only transition into verified.
func (s *AccountService) ConfirmRegistration(ctx context.Context, code string) error {
	tok, err := s.tokens(s.Store).Redeem(ctx, code, domain.TokenKindActivation)
	if err != nil {
		return err
	}

	err = s.Store.InTx(ctx, func(tx Store) error {
		if err := tx.MarkVerified(ctx, tok.AccountID, s.now()); err != nil {
			return err
		}
		return s.tokens(tx).Invalidate(ctx, tok)
	})
	if err != nil {
		return err
	}

	metrics.ObserveAccountEvent("verified")
	s.logger().Info("account verified", "account_id", tok.AccountID)
	return nil
}

// RequestActivationResend issues an additional activation code. Earlier
// codes stay redeemable until they expire.
func (s *AccountService) RequestActivationResend(ctx context.Context, email string) error {
	account, err := s.accountByEmail(ctx, email)
	if err != nil {
		return err
	}

	tok, err := s.tokens(s.Store).Issue(ctx, account.ID, domain.TokenKindActivation, s.activationTTL())
	if err != nil {
		return err
	}
	if err := s.notify(ctx, activationNotification(account, s.Links.Activation(tok.Code))); err != nil {
		return fmt.Errorf("send activation: %w", err)
	}
	s.logger().Info("activation resent", "account_id", account.ID)
	return nil
}

func (s *AccountService) RequestPasswordRecovery(ctx context.Context, email string) error {
	account, err := s.accountByEmail(ctx, email)
	if err != nil {
		return err
	}

	tok, err := s.tokens(s.Store).Issue(ctx, account.ID, domain.TokenKindRecovery, RecoveryTTL)
	if err != nil {
		return err
	}
	if err := s.notify(ctx, recoveryNotification(account, s.Links.PasswordReset(tok.Code))); err != nil {
		return fmt.Errorf("send recovery: %w", err)
	}
	s.logger().Info("password recovery requested", "account_id", account.ID)
	return nil
}

// ResetPassword replaces the credential and consumes the recovery code in one
// transaction. The credential is written first; if another request consumed
// the code in the meantime the whole transaction rolls back.
func (s *AccountService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}

	issuer := s.tokens(s.Store)
	tok, err := issuer.Redeem(ctx, in.Code, domain.TokenKindRecovery)
	if err != nil {
		return err
	}

	hash, salt, err := s.Hasher.NewCredential(in.NewPassword)
	if err != nil {
		return fmt.Errorf("derive credential: %w", err)
	}

	err = s.Store.InTx(ctx, func(tx Store) error {
		if err := tx.SetCredential(ctx, tok.AccountID, hash, salt, s.now()); err != nil {
			return err
		}
		return issuer.With(tx).Invalidate(ctx, tok)
	})
	if err != nil {
		return err
	}

	metrics.ObserveAccountEvent("password_reset")
	s.logger().Info("password reset", "account_id", tok.AccountID)

	account, err := s.Store.GetAccountByID(ctx, tok.AccountID)
	if err != nil {
		s.logger().Error("load account after reset", "account_id", tok.AccountID, "err", err)
		return nil
	}
	if err := s.notify(ctx, passwordChangedNotification(account)); err != nil {
		s.logger().Error("password changed notification failed", "account_id", account.ID, "err", err)
	}
	return nil
}

// audit returns the logger for an administrative action. actorID is the
// account performing it, zero when the server acts on its own.
func (s *AccountService) audit(actorID int64) *slog.Logger {
	return s.logger().With("actor_id", actorID)
}

// Delete soft-deletes the account on behalf of actorID; the row is kept.
func (s *AccountService) Delete(ctx context.Context, actorID, accountID int64) (domain.Account, error) {
	if accountID <= 0 {
		return domain.Account{}, domain.NewValidationError(map[string]string{"id": "required"})
	}
	a, err := s.Store.SoftDeleteAccount(ctx, accountID, s.now())
	if err != nil {
		return domain.Account{}, err
	}
	metrics.ObserveAccountEvent("deleted")
	s.audit(actorID).Info("account deleted", "account_id", accountID)
	return a, nil
}

// Deactivate is Delete performed by the server itself.
func (s *AccountService) Deactivate(ctx context.Context, accountID int64) (domain.Account, error) {
	return s.Delete(ctx, 0, accountID)
}

func (s *AccountService) GetAccount(ctx context.Context, actorID, accountID int64) (domain.Account, error) {
	if accountID <= 0 {
		return domain.Account{}, domain.NewValidationError(map[string]string{"id": "required"})
	}
	a, err := s.Store.GetAccountByID(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	s.audit(actorID).Info("account viewed", "account_id", accountID)
	return a, nil
}

func (s *AccountService) ListAccounts(ctx context.Context, actorID int64, filter domain.AccountFilter) (domain.AccountPage, error) {
	switch filter.Status {
	case domain.AccountStatusAll, domain.AccountStatusActive, domain.AccountStatusInactive:
	default:
		return domain.AccountPage{}, domain.NewValidationError(map[string]string{"status": "must be active or inactive"})
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Search = strings.TrimSpace(filter.Search)

	page, err := s.Store.ListAccounts(ctx, filter)
	if err != nil {
		return domain.AccountPage{}, fmt.Errorf("list accounts: %w", err)
	}
	if page.Items == nil {
		page.Items = []domain.Account{}
	}
	s.audit(actorID).Info("accounts listed", "status", string(filter.Status), "offset", filter.Offset, "count", len(page.Items))
	return page, nil
}

// CreateAccount is the administrative create performed by actorID. The new
// account is unverified and gets no activation mail.
func (s *AccountService) CreateAccount(ctx context.Context, actorID int64, in CreateAccountInput) (domain.Account, error) {
	a, err := s.createAccount(ctx, in, false)
	if err != nil {
		return domain.Account{}, err
	}
	s.audit(actorID).Info("account created", "account_id", a.ID)
	return a, nil
}

// ProvisionAccount inserts an account that is verified from the start, in a
// single write. It backs operator provisioning at startup and has no route.
func (s *AccountService) ProvisionAccount(ctx context.Context, in CreateAccountInput) (domain.Account, error) {
	a, err := s.createAccount(ctx, in, true)
	if err != nil {
		return domain.Account{}, err
	}
	s.audit(0).Info("account provisioned", "account_id", a.ID)
	return a, nil
}

func (s *AccountService) createAccount(ctx context.Context, in CreateAccountInput, verified bool) (domain.Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Avatar = strings.TrimSpace(in.Avatar)
	if in.Name == "" || in.Email == "" || in.Password == "" || in.RepeatPassword == "" {
		return domain.Account{}, domain.ErrUnprocessable
	}
	if err := validateStruct(in); err != nil {
		return domain.Account{}, err
	}
	if err := s.ensureEmailFree(ctx, in.Email); err != nil {
		return domain.Account{}, err
	}

	hash, salt, err := s.Hasher.NewCredential(in.Password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("derive credential: %w", err)
	}
	a, err := s.Store.CreateAccount(ctx, domain.NewAccount{
		Name:         in.Name,
		Email:        in.Email,
		Avatar:       in.Avatar,
		PasswordHash: hash,
		Salt:         salt,
		Active:       true,
		Verified:     verified,
	})
	if err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// UpdateAccount applies a partial update on behalf of actorID. Nil fields are
// left unchanged.
func (s *AccountService) UpdateAccount(ctx context.Context, actorID, accountID int64, in UpdateAccountInput) (domain.Account, error) {
	if accountID <= 0 {
		return domain.Account{}, domain.NewValidationError(map[string]string{"id": "required"})
	}
	if in.Patch.Empty() && in.Password == nil {
		return domain.Account{}, domain.ErrUnprocessable
	}
	if err := validatePatch(&in); err != nil {
		return domain.Account{}, err
	}

	var hash, salt []byte
	if in.Password != nil {
		var err error
		hash, salt, err = s.Hasher.NewCredential(*in.Password)
		if err != nil {
			return domain.Account{}, fmt.Errorf("derive credential: %w", err)
		}
	}

	var updated domain.Account
	err := s.Store.InTx(ctx, func(tx Store) error {
		now := s.now()
		if hash != nil {
			if err := tx.SetCredential(ctx, accountID, hash, salt, now); err != nil {
				return err
			}
		}
		var err error
		if in.Patch.Empty() {
			updated, err = tx.GetAccountByID(ctx, accountID)
			return err
		}
		updated, err = tx.UpdateAccount(ctx, accountID, in.Patch, now)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}
	s.audit(actorID).Info("account updated", "account_id", accountID, "password_changed", in.Password != nil)
	return updated, nil
}

func validatePatch(in *UpdateAccountInput) error {
	fields := map[string]string{}
	if in.Patch.Name != nil {
		name := strings.TrimSpace(*in.Patch.Name)
		in.Patch.Name = &name
		if err := validate.Var(name, "required,min=2,max=50"); err != nil {
			fields["name"] = "must be between 2 and 50 characters"
		}
	}
	if in.Patch.Email != nil {
		email := normalizeEmail(*in.Patch.Email)
		in.Patch.Email = &email
		if err := validate.Var(email, "required,email,max=254"); err != nil {
			fields["email"] = "must be a valid email address"
		}
	}
	if in.Patch.Avatar != nil {
		avatar := strings.TrimSpace(*in.Patch.Avatar)
		in.Patch.Avatar = &avatar
	}
	if in.Password != nil && *in.Password == "" {
		fields["password"] = "is required"
	}
	if len(fields) > 0 {
		return domain.NewValidationError(fields)
	}
	return nil
}

func (s *AccountService) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.Store.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return domain.ErrEmailTaken
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("lookup email: %w", err)
	}
}

func (s *AccountService) accountByEmail(ctx context.Context, email string) (domain.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.Account{}, domain.NewValidationError(map[string]string{"email": "is required"})
	}
	a, err := s.Store.GetAccountByEmail(ctx, email)
	if err != nil {
		return domain.Account{}, err
	}
	return a.Account, nil
}

func (s *AccountService) notify(ctx context.Context, n domain.Notification) error {
	if s.Notifier == nil {
		return errors.New("notifier unavailable")
	}
	if err := s.Notifier.Notify(ctx, n); err != nil {
		metrics.ObserveNotificationFailure(string(n.Kind))
		return err
	}
	return nil
}
