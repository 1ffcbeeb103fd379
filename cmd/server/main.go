package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accountserver/internal/auth"
	"accountserver/internal/config"
	"accountserver/internal/email"
	"accountserver/internal/httpapi"
	"accountserver/internal/service"
	"accountserver/internal/store/memory"
	"accountserver/internal/store/postgres"
	redisstore "accountserver/internal/store/redis"
)

// sessionBackend is what the server needs from a session store: the core
// resolves and deletes, the login handler creates.
type sessionBackend interface {
	service.SessionStore
	httpapi.SessionCreator
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store    service.Store
		sessions sessionBackend
		dbPing   func(context.Context) error
	)

	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := postgres.Migrate(ctx, pgPool); err != nil {
			logger.Error("db migrate failed", "err", err)
			os.Exit(1)
		}

		store = postgres.NewStore(pgPool)
		pgSessions := postgres.NewSessionsStore(pgPool)
		sessions = pgSessions
		dbPing = pgPool.Ping

		if cfg.Redis.Addr == "" {
			go purgeSessions(ctx, logger, pgSessions, time.Hour)
		}
	} else {
		logger.Warn("APP_DB_DSN not set, accounts are kept in memory")
		store = memory.NewStore()
		sessions = memory.NewSessions()
	}

	if cfg.Redis.Addr != "" {
		client, err := redisstore.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer client.Close()
		sessions = redisstore.NewSessionsStore(client)
		logger.Info("sessions stored in redis", "addr", cfg.Redis.Addr)
	}

	var sender email.Sender
	if cfg.SMTP.Host != "" {
		sender = &email.SMTPSender{
			Settings: email.SMTPSettings{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				TLSMode:  cfg.SMTP.TLSMode,
				Timeout:  cfg.SMTP.Timeout,
			},
			FromName:  cfg.SMTP.FromName,
			FromEmail: cfg.SMTP.From,
		}
	} else {
		logger.Warn("APP_SMTP_HOST not set, outgoing mail is only logged")
		sender = &email.LogSender{Logger: logger}
	}

	hasher := auth.Hasher{}
	resolver := &service.SessionResolver{Sessions: sessions, Accounts: store}
	accounts := &service.AccountService{
		Store:  store,
		Hasher: hasher,
		Notifier: &email.Notifier{
			Sender:  sender,
			Company: cfg.SMTP.Company,
			Footer:  cfg.SMTP.Footer,
		},
		Links:         service.Links{BaseURL: cfg.BaseURL()},
		ActivationTTL: cfg.ActivationTTL,
		Logger:        logger,
	}
	authSvc := &service.AuthService{
		Accounts: store,
		Sessions: resolver,
		Hasher:   hasher,
		Logger:   logger,
	}

	if err := bootstrapAdmin(ctx, logger, accounts, cfg.AdminBootstrapEmail, cfg.AdminBootstrapName, cfg.AdminBootstrapPassword); err != nil {
		logger.Error("bootstrap admin failed", "err", err)
		os.Exit(1)
	}

	router := httpapi.NewRouter(httpapi.RouterOpts{
		Logger:        logger,
		IsProd:        cfg.IsProd(),
		DBPing:        dbPing,
		Accounts:      accounts,
		Auth:          authSvc,
		Sessions:      resolver,
		SessionIssuer: sessions,
		SessionCodec:  auth.NewSessionCodec([]byte(cfg.SessionSecret)),
		SessionTTL:    cfg.SessionTTL,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
		logger.Info("server stopped")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}

func purgeSessions(ctx context.Context, logger *slog.Logger, sessions *postgres.SessionsStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.PurgeExpired(ctx, time.Now())
			if err != nil {
				logger.Warn("purge expired sessions", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
