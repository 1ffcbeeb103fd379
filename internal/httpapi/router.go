package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"accountserver/internal/auth"
	"accountserver/internal/metrics"
	"accountserver/internal/service"
)

// SessionCreator opens a session for an authenticated account and returns
// its id.
type SessionCreator interface {
	CreateSession(ctx context.Context, accountID int64, expiresAt time.Time, ip, userAgent string) (string, error)
}

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	DBPing func(context.Context) error

	Accounts      *service.AccountService
	Auth          *service.AuthService
	Sessions      *service.SessionResolver
	SessionIssuer SessionCreator
	SessionCodec  auth.SessionCodec
	SessionTTL    time.Duration

	Now func() time.Time
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	a := &api{
		logger:        logger,
		dbPing:        opts.DBPing,
		accounts:      opts.Accounts,
		authSvc:       opts.Auth,
		sessions:      opts.Sessions,
		sessionIssuer: opts.SessionIssuer,
		sessionCodec:  opts.SessionCodec,
		sessionTTL:    opts.SessionTTL,
		now:           opts.Now,
		loginLimiter:  newLoginLimiter(5*time.Minute, 10),
	}

	r := chi.NewRouter()
	r.Use(Recoverer(logger, opts.IsProd))
	r.Use(RequestID)
	r.Use(RequestLogger(logger))
	r.Use(metrics.HTTP)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", a.handleAuthRegister)
		r.Post("/activate", a.handleAuthActivate)
		r.Post("/activate/resend", a.handleAuthActivateResend)
		r.Post("/login", a.handleAuthLogin)
		r.Post("/logout", a.handleAuthLogout)
		r.Post("/forgot", a.handleAuthForgot)
		r.Post("/reset", a.handleAuthReset)
	})

	r.Route("/v1/users", func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/me", a.handleUsersMe)
		r.Get("/", a.handleUsersList)
		r.Post("/", a.handleUsersCreate)
		r.Get("/{id}", a.handleUsersGet)
		r.Patch("/{id}", a.handleUsersUpdate)
		r.Delete("/{id}", a.handleUsersDelete)
	})

	return r
}

type api struct {
	logger *slog.Logger

	dbPing func(context.Context) error

	accounts      *service.AccountService
	authSvc       *service.AuthService
	sessions      *service.SessionResolver
	sessionIssuer SessionCreator
	sessionCodec  auth.SessionCodec
	sessionTTL    time.Duration
	now           func() time.Time

	loginLimiter *loginLimiter
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			a.logger.Warn("health check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
