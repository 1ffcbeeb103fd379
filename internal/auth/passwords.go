package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultIterations = 310_000
	MinIterations     = 300_000
	SaltLen           = 16
	KeyLen            = 32
)

// Hasher derives PBKDF2-HMAC-SHA256 credentials. The zero value uses
// DefaultIterations.
type Hasher struct {
	Iterations int
}

func (h Hasher) iterations() int {
	if h.Iterations < MinIterations {
		return DefaultIterations
	}
	return h.Iterations
}

func (h Hasher) Derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, h.iterations(), KeyLen, sha256.New)
}

// Verify re-derives the key for candidate and compares it in constant time.
func (h Hasher) Verify(candidate string, hash, salt []byte) bool {
	if len(hash) != KeyLen || len(salt) == 0 {
		// Still pay the derivation cost so callers cannot time the shortcut.
		_ = h.Derive(candidate, dummySalt[:])
		return false
	}
	return subtle.ConstantTimeCompare(hash, h.Derive(candidate, salt)) == 1
}

// NewCredential generates a fresh salt and derives the hash for password.
func (h Hasher) NewCredential(password string) (hash, salt []byte, err error) {
	salt, err = NewSalt()
	if err != nil {
		return nil, nil, err
	}
	return h.Derive(password, salt), salt, nil
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return salt, nil
}

var dummySalt = [SaltLen]byte{0x6d, 0x74, 0x67}
