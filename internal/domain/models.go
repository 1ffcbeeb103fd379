package domain

import "time"

type Account struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Avatar             string     `json:"avatar,omitempty"`
	Active             bool       `json:"active"`
	Verified           bool       `json:"verified"`
	Deleted            bool       `json:"deleted"`
	LastLogin          *time.Time `json:"lastLogin,omitempty"`
	LastPasswordChange *time.Time `json:"lastPasswordChange,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	DeletedAt          *time.Time `json:"deletedAt,omitempty"`
}

// AccountWithCredential is the store-side view of an account. It must never be
// written to a response; handlers only ever see Account.
type AccountWithCredential struct {
	Account
	PasswordHash []byte
	Salt         []byte
}

// NewAccount holds the fields required to insert an account row.
type NewAccount struct {
	Name         string
	Email        string
	Avatar       string
	PasswordHash []byte
	Salt         []byte
	Active       bool
	Verified     bool
}

// AccountPatch is a partial update. A nil field means "leave unchanged"; this
// rule applies uniformly to every field. Verified is not patchable: only
// activation sets it.
type AccountPatch struct {
	Name   *string
	Email  *string
	Avatar *string
	Active *bool
}

func (p AccountPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Avatar == nil && p.Active == nil
}

type AccountStatus string

const (
	AccountStatusAll      AccountStatus = ""
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

type AccountFilter struct {
	Status AccountStatus
	Search string
	Limit  int
	Offset int
}

type AccountPage struct {
	Items []Account `json:"items"`
	Total int       `json:"total"`
}

type TokenKind string

const (
	TokenKindActivation TokenKind = "activation_code"
	TokenKindRecovery   TokenKind = "recovery_code"
)

func (k TokenKind) Valid() bool {
	return k == TokenKindActivation || k == TokenKindRecovery
}

type Token struct {
	ID        int64
	AccountID int64
	Kind      TokenKind
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

// Usable reports whether the token may still authorize an action at now.
func (t Token) Usable(kind TokenKind, now time.Time) bool {
	return t.Active && t.Kind == kind && now.Before(t.ExpiresAt)
}

type SessionRecord struct {
	ID        string
	AccountID int64
	ExpiresAt time.Time
}
