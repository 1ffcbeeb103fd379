package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountserver/internal/auth"
	"accountserver/internal/domain"
	"accountserver/internal/service"
	"accountserver/internal/store/memory"
)

type outbox struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (o *outbox) Notify(_ context.Context, n domain.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) last(t *testing.T, kind domain.NotificationKind) domain.Notification {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Kind == kind {
			return o.sent[i]
		}
	}
	require.FailNowf(t, "missing notification", "no %s notification sent", kind)
	return domain.Notification{}
}

func codeFrom(t *testing.T, n domain.Notification, param string) string {
	t.Helper()
	u, err := url.Parse(n.Link)
	require.NoError(t, err)
	code := u.Query().Get(param)
	require.NotEmpty(t, code, "link %q carries no %s", n.Link, param)
	return code
}

type harness struct {
	store    *memory.Store
	sessions *memory.Sessions
	outbox   *outbox
	accounts *service.AccountService
	auth     *service.AuthService
}

func newHarness() *harness {
	store := memory.NewStore()
	sessions := memory.NewSessions()
	box := &outbox{}
	resolver := &service.SessionResolver{Sessions: sessions, Accounts: store}
	return &harness{
		store:    store,
		sessions: sessions,
		outbox:   box,
		accounts: &service.AccountService{
			Store:         store,
			Notifier:      box,
			Links:         service.Links{BaseURL: "https://accounts.example.com/"},
			ActivationTTL: time.Hour,
		},
		auth: &service.AuthService{Accounts: store, Sessions: resolver},
	}
}

func (h *harness) register(t *testing.T, name, email, password string) int64 {
	t.Helper()
	id, err := h.accounts.Register(context.Background(), service.RegisterInput{
		Name:           name,
		Email:          email,
		Password:       password,
		RepeatPassword: password,
	})
	require.NoError(t, err)
	return id
}

func TestLifecycle_RegisterConfirmLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	_, err := h.auth.Authenticate(ctx, "ana@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	id := h.register(t, "Ana", "ana@x.com", "pw123456")
	res := domain.Created(id, "account created")
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusCreated, res.Status)

	a, err := h.store.GetAccountByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, a.Verified)
	assert.True(t, a.Active)
	assert.False(t, a.Deleted)

	_, err = h.auth.Authenticate(ctx, "ana@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	n := h.outbox.last(t, domain.NotificationActivation)
	assert.Equal(t, "ana@x.com", n.To)
	assert.Equal(t, "Ana", n.RecipientName)
	assert.Contains(t, n.Link, "https://accounts.example.com/activate?token=")

	require.NoError(t, h.accounts.ConfirmRegistration(ctx, codeFrom(t, n, "token")))

	a, err = h.store.GetAccountByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, a.Verified)

	logged, err := h.auth.Authenticate(ctx, "ana@x.com", "pw123456")
	require.NoError(t, err)
	assert.Equal(t, id, logged.ID)
	assert.NotNil(t, logged.LastLogin)

	_, err = h.auth.Authenticate(ctx, "ana@x.com", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Equal(t, http.StatusUnauthorized, domain.StatusFor(err))
}

func TestLifecycle_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	_, err := h.accounts.Register(ctx, service.RegisterInput{Name: "Ana", Email: "ana@x.com", Password: "pw123456", RepeatPassword: "other"})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "repeatPassword")

	_, err = h.accounts.Register(ctx, service.RegisterInput{})
	require.ErrorAs(t, err, &ve)
	for _, field := range []string{"name", "email", "password", "repeatPassword"} {
		assert.Contains(t, ve.Fields, field)
	}

	_, err = h.accounts.Register(ctx, service.RegisterInput{Name: "Ana", Email: "not-an-email", Password: "p", RepeatPassword: "p"})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")

	h.register(t, "Ana", "ana@x.com", "pw123456")
	_, err = h.accounts.Register(ctx, service.RegisterInput{Name: "Ana 2", Email: "ANA@x.com", Password: "p", RepeatPassword: "p"})
	require.ErrorIs(t, err, domain.ErrEmailTaken)
	assert.Equal(t, http.StatusConflict, domain.StatusFor(err))
}

func TestLifecycle_RegisterSurvivesNotifierFailure(t *testing.T) {
	h := newHarness()
	h.outbox.err = errors.New("smtp down")

	id := h.register(t, "Ana", "ana@x.com", "pw123456")
	assert.NotZero(t, id)
	assert.Len(t, h.store.TokensFor(id, domain.TokenKindActivation), 1)
}

func TestLifecycle_ActivationCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.register(t, "Ana", "ana@x.com", "pw123456")
	code := codeFrom(t, h.outbox.last(t, domain.NotificationActivation), "token")

	require.NoError(t, h.accounts.ConfirmRegistration(ctx, code))
	err := h.accounts.ConfirmRegistration(ctx, code)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	assert.Equal(t, http.StatusBadRequest, domain.StatusFor(err))
}

func TestLifecycle_ExpiredTokenStaysActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	id := h.register(t, "Ana", "ana@x.com", "pw123456")

	issuer := &service.TokenIssuer{Tokens: h.store}
	tok, err := issuer.Issue(ctx, id, domain.TokenKindRecovery, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = issuer.Redeem(ctx, tok.Code, domain.TokenKindRecovery)
	require.ErrorIs(t, err, domain.ErrTokenExpired)

	stored, ok := h.store.Token(tok.ID)
	require.True(t, ok)
	assert.True(t, stored.Active)

	err = h.accounts.ResetPassword(ctx, service.ResetPasswordInput{Code: tok.Code, NewPassword: "new1234", ConfirmNewPassword: "new1234"})
	require.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestLifecycle_TokenKindMustMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.register(t, "Ana", "ana@x.com", "pw123456")
	code := codeFrom(t, h.outbox.last(t, domain.NotificationActivation), "token")

	err := h.accounts.ResetPassword(ctx, service.ResetPasswordInput{Code: code, NewPassword: "x", ConfirmNewPassword: "x"})
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestLifecycle_ResendKeepsEarlierCodesValid(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	id := h.register(t, "Ana", "ana@x.com", "pw123456")
	first := codeFrom(t, h.outbox.last(t, domain.NotificationActivation), "token")

	require.NoError(t, h.accounts.RequestActivationResend(ctx, "ana@x.com"))
	second := codeFrom(t, h.outbox.last(t, domain.NotificationActivation), "token")
	assert.NotEqual(t, first, second)
	assert.Len(t, h.store.TokensFor(id, domain.TokenKindActivation), 2)

	require.NoError(t, h.accounts.ConfirmRegistration(ctx, first))
	require.NoError(t, h.accounts.ConfirmRegistration(ctx, second))

	require.ErrorIs(t, h.accounts.RequestActivationResend(ctx, "ghost@x.com"), domain.ErrNotFound)
}

func TestLifecycle_RecoveryAndReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	id := h.register(t, "Ana", "ana@x.com", "pw123456")
	require.NoError(t, h.accounts.ConfirmRegistration(ctx, codeFrom(t, h.outbox.last(t, domain.NotificationActivation), "token")))

	require.ErrorIs(t, h.accounts.RequestPasswordRecovery(ctx, "ghost@x.com"), domain.ErrNotFound)
	require.NoError(t, h.accounts.RequestPasswordRecovery(ctx, "ana@x.com"))

	n := h.outbox.last(t, domain.NotificationRecovery)
	assert.Contains(t, n.Link, "/reset-password?recoveryCode=")
	code := codeFrom(t, n, "recoveryCode")

	tokens := h.store.TokensFor(id, domain.TokenKindRecovery)
	require.Len(t, tokens, 1)
	assert.WithinDuration(t, tokens[0].CreatedAt.Add(service.RecoveryTTL), tokens[0].ExpiresAt, time.Second)

	err := h.accounts.ResetPassword(ctx, service.ResetPasswordInput{Code: code, NewPassword: "new1234", ConfirmNewPassword: "different"})
	require.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, h.accounts.ResetPassword(ctx, service.ResetPasswordInput{Code: code, NewPassword: "new1234", ConfirmNewPassword: "new1234"}))
	h.outbox.last(t, domain.NotificationPasswordChanged)

	_, err = h.auth.Authenticate(ctx, "ana@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = h.auth.Authenticate(ctx, "ana@x.com", "new1234")
	require.NoError(t, err)

	a, err := h.store.GetAccountByID(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, a.LastPasswordChange)

	err = h.accounts.ResetPassword(ctx, service.ResetPasswordInput{Code: code, NewPassword: "again1", ConfirmNewPassword: "again1"})
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestLifecycle_ConcurrentResetHasOneWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	id := h.register(t, "Ana", "ana@x.com", "pw123456")
	require.NoError(t, h.accounts.ConfirmRegistration(ctx, codeFrom(t, h.outbox.last(t, domain.NotificationActivation), "token")))
	require.NoError(t, h.accounts.RequestPasswordRecovery(ctx, "ana@x.com"))
	code := codeFrom(t, h.outbox.last(t, domain.NotificationRecovery), "recoveryCode")

	passwords := []string{"first-pass", "second-pass"}
	errs := make([]error, len(passwords))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, pw := range passwords {
		wg.Add(1)
		go func(i int, pw string) {
			defer wg.Done()
			<-start
			errs[i] = h.accounts.ResetPassword(ctx, service.ResetPasswordInput{Code: code, NewPassword: pw, ConfirmNewPassword: pw})
		}(i, pw)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "both resets succeeded")
			winner = i
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrTokenInvalid) || errors.Is(err, domain.ErrTokenExpired), "unexpected error: %v", err)
	}
	require.NotEqual(t, -1, winner, "no reset succeeded: %v", errs)

	stored, err := h.store.GetAccountByEmail(ctx, "ana@x.com")
	require.NoError(t, err)
	var hasher auth.Hasher
	assert.True(t, hasher.Verify(passwords[winner], stored.PasswordHash, stored.Salt))
	assert.False(t, hasher.Verify(passwords[1-winner], stored.PasswordHash, stored.Salt))

	for _, tok := range h.store.TokensFor(id, domain.TokenKindRecovery) {
		assert.False(t, tok.Active)
	}
}

func TestLifecycle_DeleteIsSoftAndBlocksLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	id := h.register(t, "Ana", "ana@x.com", "pw123456")
	require.NoError(t, h.accounts.ConfirmRegistration(ctx, codeFrom(t, h.outbox.last(t, domain.NotificationActivation), "token")))

	deleted, err := h.accounts.Deactivate(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.NotNil(t, deleted.DeletedAt)

	_, err = h.auth.Authenticate(ctx, "ana@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = h.accounts.Delete(ctx, 1, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.accounts.Delete(ctx, 1, 9999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLifecycle_SessionOfDeletedAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	id := h.register(t, "Ana", "ana@x.com", "pw123456")

	sid, err := h.sessions.CreateSession(ctx, id, time.Now().Add(time.Hour), "", "")
	require.NoError(t, err)

	a, err := h.auth.Sessions.Resolve(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)

	_, err = h.accounts.Delete(ctx, 1, id)
	require.NoError(t, err)
	_, err = h.auth.Sessions.Resolve(ctx, sid)
	require.ErrorIs(t, err, domain.ErrNotFound)

	h.sessions.Put(domain.SessionRecord{ID: "old", AccountID: id, ExpiresAt: time.Now().Add(-time.Second)})
	_, err = h.auth.Sessions.Resolve(ctx, "old")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
