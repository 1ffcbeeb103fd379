package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"accountserver/internal/auth"
	"accountserver/internal/domain"
)

type authCtxKey int

const (
	authAccountKey authCtxKey = iota
	authSessionKey
)

// sessionID extracts the session id from the request, verifying its
// signature when the codec has a secret.
func (a *api) sessionID(r *http.Request) (string, bool) {
	raw := r.Header.Get(auth.SessionHeader)
	if raw == "" {
		return "", false
	}
	return a.sessionCodec.Decode(raw)
}

func (a *api) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID, ok := a.sessionID(r)
		if !ok {
			WriteDomainError(w, domain.ErrUnauthorized)
			return
		}

		acc, err := a.sessions.Resolve(r.Context(), sessID)
		if err != nil {
			a.writeFailure(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), authAccountKey, acc)
		ctx = context.WithValue(ctx, authSessionKey, sessID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func CurrentAccount(ctx context.Context) (domain.Account, bool) {
	acc, ok := ctx.Value(authAccountKey).(domain.Account)
	return acc, ok
}

func CurrentSessionID(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(authSessionKey).(string)
	return s, ok
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
