package service

import (
	"context"
	"net/url"
	"strings"

	"accountserver/internal/domain"
)

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Links builds the public URLs embedded in outbound mail.
type Links struct {
	BaseURL string
}

func (l Links) Activation(code string) string {
	return l.build("/activate", "token", code)
}

func (l Links) PasswordReset(code string) string {
	return l.build("/reset-password", "recoveryCode", code)
}

func (l Links) build(path, param, code string) string {
	base := strings.TrimRight(strings.TrimSpace(l.BaseURL), "/")
	return base + path + "?" + url.Values{param: []string{code}}.Encode()
}

func activationNotification(a domain.Account, link string) domain.Notification {
	return domain.Notification{
		Kind:          domain.NotificationActivation,
		To:            a.Email,
		RecipientName: a.Name,
		Subject:       "Confirm your account",
		Title:         "Account activation",
		Text:          "Thanks for signing up. Confirm your e-mail address to activate your account.",
		Link:          link,
		LinkLabel:     "Activate account",
	}
}

func recoveryNotification(a domain.Account, link string) domain.Notification {
	return domain.Notification{
		Kind:          domain.NotificationRecovery,
		To:            a.Email,
		RecipientName: a.Name,
		Subject:       "Password recovery",
		Title:         "Password recovery",
		Text:          "Use the link below to choose a new password. If you did not request this, you can ignore this e-mail.",
		Link:          link,
		LinkLabel:     "Reset password",
	}
}

func passwordChangedNotification(a domain.Account) domain.Notification {
	return domain.Notification{
		Kind:          domain.NotificationPasswordChanged,
		To:            a.Email,
		RecipientName: a.Name,
		Subject:       "Your password was changed",
		Title:         "Password updated",
		Text:          "Your password was changed. If this was not you, recover your account right away.",
	}
}
