package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"accountserver/internal/domain"
	"accountserver/internal/service"
)

func (a *api) handleUsersMe(w http.ResponseWriter, r *http.Request) {
	acc, ok := CurrentAccount(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	WriteResult(w, domain.OK(acc, ""))
}

func (a *api) handleUsersList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AccountFilter{
		Status: domain.AccountStatus(q.Get("status")),
		Search: q.Get("search"),
	}
	if filter.Status == "all" {
		filter.Status = domain.AccountStatusAll
	}

	fields := map[string]string{}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["limit"] = "must be a number"
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["offset"] = "must be a number"
		}
		filter.Offset = n
	}
	if len(fields) > 0 {
		WriteDomainError(w, domain.NewValidationError(fields))
		return
	}

	page, err := a.accounts.ListAccounts(r.Context(), actorID(r), filter)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.OK(page, ""))
}

func (a *api) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAccountInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	acc, err := a.accounts.CreateAccount(r.Context(), actorID(r), req)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.Created(acc, "account created"))
}

func (a *api) handleUsersGet(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	acc, err := a.accounts.GetAccount(r.Context(), actorID(r), id)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.OK(acc, ""))
}

// updateAccountRequest has no verified field; unknown fields are rejected, so
// a patch carrying one fails with 400.
type updateAccountRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Avatar   *string `json:"avatar"`
	Active   *bool   `json:"active"`
	Password *string `json:"password"`
}

func (a *api) handleUsersUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	var req updateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	acc, err := a.accounts.UpdateAccount(r.Context(), actorID(r), id, service.UpdateAccountInput{
		Patch: domain.AccountPatch{
			Name:   req.Name,
			Email:  req.Email,
			Avatar: req.Avatar,
			Active: req.Active,
		},
		Password: req.Password,
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.OK(acc, "account updated"))
}

func (a *api) handleUsersDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	acc, err := a.accounts.Delete(r.Context(), actorID(r), id)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	WriteResult(w, domain.OK(acc, "account deleted"))
}

// actorID is the signed-in account behind an administrative request.
func actorID(r *http.Request) int64 {
	acc, _ := CurrentAccount(r.Context())
	return acc.ID
}

func accountIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"id": "must be a positive integer"}))
		return 0, false
	}
	return id, true
}
