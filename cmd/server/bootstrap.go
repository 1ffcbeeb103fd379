package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accountserver/internal/domain"
	"accountserver/internal/service"
)

const minBootstrapPassword = 12

// bootstrapAdmin provisions a verified account for the configured admin
// unless one with that email already exists. The row is written verified in
// a single insert, so a failed start leaves nothing behind to block a retry.
func bootstrapAdmin(ctx context.Context, logger *slog.Logger, accounts *service.AccountService, email, name, password string) error {
	if password == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(password) < minBootstrapPassword {
		return fmt.Errorf("APP_ADMIN_BOOTSTRAP_PASSWORD: must be at least %d characters", minBootstrapPassword)
	}

	acc, err := accounts.ProvisionAccount(ctx, service.CreateAccountInput{
		Name:           name,
		Email:          email,
		Password:       password,
		RepeatPassword: password,
	})
	if errors.Is(err, domain.ErrEmailTaken) {
		logger.Info("admin bootstrap: account already exists", "email", email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("admin bootstrap: %w", err)
	}

	logger.Info("admin bootstrap: created admin account", "account_id", acc.ID, "email", email)
	return nil
}
