package httpapi

import (
	"net/http"
	"strings"
	"time"

	"accountserver/internal/domain"
	"accountserver/internal/service"
)

type registeredResponse struct {
	ID int64 `json:"id"`
}

func (a *api) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	id, err := a.accounts.Register(r.Context(), req)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.Created(registeredResponse{ID: id}, "account registered, check your email to activate it"))
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (a *api) handleAuthActivate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := a.accounts.ConfirmRegistration(r.Context(), req.Token); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.Done("account activated"))
}

type emailRequest struct {
	Email string `json:"email"`
}

func (a *api) handleAuthActivateResend(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := a.accounts.RequestActivationResend(r.Context(), req.Email); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.Done("activation email sent"))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	SessionID string         `json:"sessionId"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Account   domain.Account `json:"account"`
}

func (a *api) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	fields := map[string]string{}
	if req.Email == "" {
		fields["email"] = "is required"
	}
	if req.Password == "" {
		fields["password"] = "is required"
	}
	if len(fields) > 0 {
		WriteDomainError(w, domain.NewValidationError(fields))
		return
	}

	now := a.now()
	ip := clientIP(r)
	if !a.loginLimiter.Allow("ip:"+ip, now) || !a.loginLimiter.Allow("email:"+strings.ToLower(req.Email), now) {
		WriteError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}

	acc, err := a.authSvc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}

	expiresAt := now.Add(a.sessionTTL).UTC()
	sessID, err := a.sessionIssuer.CreateSession(r.Context(), acc.ID, expiresAt, ip, r.UserAgent())
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}

	WriteResult(w, domain.OK(sessionResponse{
		SessionID: a.sessionCodec.Encode(sessID),
		ExpiresAt: expiresAt,
		Account:   acc,
	}, "logged in"))
}

func (a *api) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	sessID, _ := a.sessionID(r)
	if err := a.authSvc.Logout(r.Context(), sessID); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.Done("logged out"))
}

func (a *api) handleAuthForgot(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := a.accounts.RequestPasswordRecovery(r.Context(), req.Email); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.Done("recovery email sent"))
}

func (a *api) handleAuthReset(w http.ResponseWriter, r *http.Request) {
	var req service.ResetPasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := a.accounts.ResetPassword(r.Context(), req); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.Done("password changed"))
}
