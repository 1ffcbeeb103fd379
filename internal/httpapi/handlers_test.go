package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
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
}

func (o *outbox) Notify(_ context.Context, n domain.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) code(t *testing.T, kind domain.NotificationKind, param string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Kind != kind {
			continue
		}
		u, err := url.Parse(o.sent[i].Link)
		require.NoError(t, err)
		return u.Query().Get(param)
	}
	require.FailNowf(t, "missing notification", "no %s notification sent", kind)
	return ""
}

type testEnv struct {
	handler  http.Handler
	store    *memory.Store
	sessions *memory.Sessions
	outbox   *outbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	sessions := memory.NewSessions()
	box := &outbox{}
	resolver := &service.SessionResolver{Sessions: sessions, Accounts: store}

	h := NewRouter(RouterOpts{
		Accounts: &service.AccountService{
			Store:    store,
			Notifier: box,
			Links:    service.Links{BaseURL: "https://accounts.example.com"},
		},
		Auth:          &service.AuthService{Accounts: store, Sessions: resolver},
		Sessions:      resolver,
		SessionIssuer: sessions,
		SessionCodec:  auth.NewSessionCodec([]byte("0123456789abcdef0123456789abcdef")),
		SessionTTL:    time.Hour,
	})
	return &testEnv{handler: h, store: store, sessions: sessions, outbox: box}
}

type envelope struct {
	Success  bool                `json:"success"`
	Status   int                 `json:"status"`
	Message  string              `json:"message"`
	Response json.RawMessage     `json:"response"`
	Errors   []domain.FieldError `json:"errors"`
}

func (e *testEnv) do(t *testing.T, method, path, session string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(auth.SessionHeader, "Bearer "+session)
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
		assert.Equal(t, rr.Code, env.Status)
	}
	return rr, env
}

// signUp registers, activates and logs in, returning the session header value.
func (e *testEnv) signUp(t *testing.T, name, email, password string) string {
	t.Helper()

	rr, _ := e.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": name, "email": email, "password": password, "repeatPassword": password,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	code := e.outbox.code(t, domain.NotificationActivation, "token")
	rr, _ = e.do(t, http.MethodPost, "/v1/auth/activate", "", map[string]string{"token": code})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	return e.login(t, email, password)
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	rr, env := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var sess sessionResponse
	require.NoError(t, json.Unmarshal(env.Response, &sess))
	require.NotEmpty(t, sess.SessionID)
	return sess.SessionID
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)
	session := e.signUp(t, "Ana", "ana@example.com", "s3cret-pass")

	rr, env := e.do(t, http.MethodGet, "/v1/users/me", session, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me domain.Account
	require.NoError(t, json.Unmarshal(env.Response, &me))
	assert.Equal(t, "ana@example.com", me.Email)
	assert.True(t, me.Verified)
	assert.NotContains(t, string(env.Response), "passwordHash")
	assert.NotContains(t, strings.ToLower(rr.Body.String()), "salt")

	rr, env = e.do(t, http.MethodPost, "/v1/auth/logout", session, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.Success)

	rr, _ = e.do(t, http.MethodGet, "/v1/users/me", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Logging out twice still succeeds.
	rr, _ = e.do(t, http.MethodPost, "/v1/auth/logout", session, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t)

	rr, env := e.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "A", "email": "not-an-email", "password": "pw", "repeatPassword": "other",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, env.Success)

	fields := map[string]bool{}
	for _, fe := range env.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["name"])
	assert.True(t, fields["email"])
	assert.True(t, fields["repeatPassword"])

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/register", "", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]string{"name": "Ana", "email": "ana@example.com", "password": "pw123456", "repeatPassword": "pw123456"}

	rr, _ := e.do(t, http.MethodPost, "/v1/auth/register", "", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	body["email"] = "ANA@example.com"
	rr, env := e.do(t, http.MethodPost, "/v1/auth/register", "", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "email already registered", env.Message)
}

func TestActivateRejectsUnknownAndReusedCodes(t *testing.T) {
	e := newTestEnv(t)
	rr, _ := e.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Ana", "email": "ana@example.com", "password": "pw123456", "repeatPassword": "pw123456",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/activate", "", map[string]string{"token": "nope"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	code := e.outbox.code(t, domain.NotificationActivation, "token")
	rr, _ = e.do(t, http.MethodPost, "/v1/auth/activate", "", map[string]string{"token": code})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env := e.do(t, http.MethodPost, "/v1/auth/activate", "", map[string]string{"token": code})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid token", env.Message)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	e := newTestEnv(t)
	e.signUp(t, "Ana", "ana@example.com", "right-password")

	rr, _ := e.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Bob", "email": "bob@example.com", "password": "bob-password", "repeatPassword": "bob-password",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	cases := map[string][2]string{
		"wrong password": {"ana@example.com", "wrong-password"},
		"unknown email":  {"nobody@example.com", "right-password"},
		"unverified":     {"bob@example.com", "bob-password"},
	}
	var bodies []string
	for name, c := range cases {
		rr, _ := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": c[0], "password": c[1]})
		assert.Equal(t, http.StatusUnauthorized, rr.Code, name)
		bodies = append(bodies, rr.Body.String())
	}
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}

	rr, env := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ana@example.com"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "password", env.Errors[0].Field)
}

func TestLoginRateLimited(t *testing.T) {
	e := newTestEnv(t)

	var last int
	for i := 0; i < 11; i++ {
		rr, _ := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ana@example.com", "password": "wrong"})
		last = rr.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestLogoutWithoutSession(t *testing.T) {
	e := newTestEnv(t)

	rr, env := e.do(t, http.MethodPost, "/v1/auth/logout", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, env.Success)
}

func TestTamperedSessionRejected(t *testing.T) {
	e := newTestEnv(t)
	session := e.signUp(t, "Ana", "ana@example.com", "s3cret-pass")

	id, _, ok := strings.Cut(session, ".")
	require.True(t, ok)

	rr, _ := e.do(t, http.MethodGet, "/v1/users/me", id, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = e.do(t, http.MethodGet, "/v1/users/me", id+".AAAA", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPasswordRecovery(t *testing.T) {
	e := newTestEnv(t)
	e.signUp(t, "Ana", "ana@example.com", "old-password")

	rr, _ := e.do(t, http.MethodPost, "/v1/auth/forgot", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/forgot", "", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	code := e.outbox.code(t, domain.NotificationRecovery, "recoveryCode")

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/reset", "", map[string]string{
		"code": code, "newPassword": "new-password", "confirmNewPassword": "mismatch",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/reset", "", map[string]string{
		"code": code, "newPassword": "new-password", "confirmNewPassword": "new-password",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ana@example.com", "password": "old-password"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	e.login(t, "ana@example.com", "new-password")

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/reset", "", map[string]string{
		"code": code, "newPassword": "third-password", "confirmNewPassword": "third-password",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestActivationResend(t *testing.T) {
	e := newTestEnv(t)
	rr, _ := e.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Ana", "email": "ana@example.com", "password": "pw123456", "repeatPassword": "pw123456",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	first := e.outbox.code(t, domain.NotificationActivation, "token")

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/activate/resend", "", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	second := e.outbox.code(t, domain.NotificationActivation, "token")
	assert.NotEqual(t, first, second)

	rr, _ = e.do(t, http.MethodPost, "/v1/auth/activate", "", map[string]string{"token": first})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUsersAdmin(t *testing.T) {
	e := newTestEnv(t)
	session := e.signUp(t, "Root", "root@example.com", "root-password")

	rr, env := e.do(t, http.MethodPost, "/v1/users", session, map[string]string{
		"name": "Bob", "email": "bob@example.com", "password": "bob-password", "repeatPassword": "bob-password",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var bob domain.Account
	require.NoError(t, json.Unmarshal(env.Response, &bob))
	assert.NotZero(t, bob.ID)

	rr, _ = e.do(t, http.MethodPost, "/v1/users", session, map[string]string{"name": "Bob"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr, _ = e.do(t, http.MethodPost, "/v1/users", session, map[string]string{
		"name": "Bob", "email": "bob@example.com", "password": "pw", "repeatPassword": "pw",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	path := "/v1/users/" + strconv.FormatInt(bob.ID, 10)
	// Only activation verifies an account.
	rr, _ = e.do(t, http.MethodPatch, path, session, map[string]any{"verified": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "bob@example.com", "password": "bob-password"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, env = e.do(t, http.MethodPatch, path, session, map[string]any{"name": "Robert"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated domain.Account
	require.NoError(t, json.Unmarshal(env.Response, &updated))
	assert.Equal(t, "Robert", updated.Name)
	assert.Equal(t, "bob@example.com", updated.Email)
	assert.False(t, updated.Verified)

	rr, _ = e.do(t, http.MethodPatch, path, session, map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr, env = e.do(t, http.MethodGet, "/v1/users?search=rob&status=all", session, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page domain.AccountPage
	require.NoError(t, json.Unmarshal(env.Response, &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, bob.ID, page.Items[0].ID)

	rr, _ = e.do(t, http.MethodGet, "/v1/users?limit=ten", session, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = e.do(t, http.MethodGet, "/v1/users?status=banned", session, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = e.do(t, http.MethodDelete, path, session, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = e.do(t, http.MethodGet, path, session, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = e.do(t, http.MethodGet, "/v1/users/abc", session, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUsersRequireSession(t *testing.T) {
	e := newTestEnv(t)

	rr, _ := e.do(t, http.MethodGet, "/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = e.do(t, http.MethodDelete, "/v1/users/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDeletedAccountSessionNotFound(t *testing.T) {
	e := newTestEnv(t)
	session := e.signUp(t, "Ana", "ana@example.com", "s3cret-pass")

	acc, err := e.store.GetAccountByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	_, err = e.store.SoftDeleteAccount(context.Background(), acc.ID, time.Now())
	require.NoError(t, err)

	rr, _ := e.do(t, http.MethodGet, "/v1/users/me", session, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNotFoundAndHealth(t *testing.T) {
	e := newTestEnv(t)

	rr, env := e.do(t, http.MethodGet, "/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.False(t, env.Success)

	rr, _ = e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestHealthzReportsDBDown(t *testing.T) {
	h := NewRouter(RouterOpts{DBPing: func(context.Context) error { return errors.New("down") }})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRecovererWritesResult(t *testing.T) {
	h := Recoverer(nil, true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":false`)
}
