package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"accountserver/internal/domain"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteResult writes res with its own status code.
func WriteResult[T any](w http.ResponseWriter, res domain.Result[T]) {
	WriteJSON(w, res.Status, res)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteResult(w, domain.Result[struct{}]{Status: status, Message: message})
}

func WriteDomainError(w http.ResponseWriter, err error) {
	WriteResult(w, domain.FromError[struct{}](err))
}

// writeFailure logs errors that end up as 5xx before writing them.
func (a *api) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if domain.StatusFor(err) >= http.StatusInternalServerError {
		fields := []any{"path", r.URL.Path, "err", err}
		if rid, ok := GetRequestID(r.Context()); ok {
			fields = append(fields, "request_id", rid)
		}
		a.logger.Log(r.Context(), slog.LevelError, "request failed", fields...)
	}
	WriteDomainError(w, err)
}

func writeBadJSON(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, "invalid json")
}
