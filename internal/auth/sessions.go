package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// SessionHeader carries the opaque session id on authenticated requests.
const SessionHeader = "Authorization"

// SessionCodec signs session ids handed out to clients. With an empty secret
// ids pass through unsigned.
type SessionCodec struct {
	secret []byte
}

func NewSessionCodec(secret []byte) SessionCodec {
	secretCopy := make([]byte, len(secret))
	copy(secretCopy, secret)
	return SessionCodec{secret: secretCopy}
}

func (c SessionCodec) Encode(sessionID string) string {
	if len(c.secret) == 0 {
		return sessionID
	}

	return sessionID + "." + base64.RawURLEncoding.EncodeToString(c.sign(sessionID))
}

func (c SessionCodec) Decode(value string) (string, bool) {
	value = strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
	if len(c.secret) == 0 {
		return value, value != ""
	}

	id, sigB64, ok := strings.Cut(value, ".")
	if !ok || id == "" || sigB64 == "" {
		return "", false
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != sha256.Size {
		return "", false
	}

	if subtle.ConstantTimeCompare(sig, c.sign(id)) != 1 {
		return "", false
	}

	return id, true
}

func (c SessionCodec) sign(id string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write([]byte(id))
	return mac.Sum(nil)
}
