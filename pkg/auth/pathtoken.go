// Package auth implements the two authentication surfaces of the front-end
// session controller: per-session HMAC path tokens (the opaque handle a
// client must present to operate on a device/partition/path it was given)
// and bearer-JWT authentication for the supplemented admin surface.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// PathTokenKeySize is the size, in bytes, of the per-session HMAC key.
const PathTokenKeySize = 16

var (
	// ErrInvalidToken is returned when a path token fails to decode, is too
	// short to contain a SHA-256 tag, or fails HMAC verification.
	ErrInvalidToken = errors.New("auth: invalid path token")
)

// PathTokenAuthenticator issues and verifies path tokens scoped to a single
// front-end session, using a per-session random key so tokens from one
// session can never be replayed against another.
type PathTokenAuthenticator struct {
	key [PathTokenKeySize]byte
}

// NewPathTokenAuthenticator generates a fresh random per-session key.
func NewPathTokenAuthenticator() (*PathTokenAuthenticator, error) {
	var key [PathTokenKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("auth: generate session key: %w", err)
	}
	return &PathTokenAuthenticator{key: key}, nil
}

// Authenticate produces an opaque token for path: base64(HMAC-SHA256(key,
// path) || path). The path is recoverable only by a holder of the key, and
// verification is a simple recompute-and-compare.
func (a *PathTokenAuthenticator) Authenticate(path string) string {
	mac := hmac.New(sha256.New, a.key[:])
	mac.Write([]byte(path))
	tag := mac.Sum(nil)

	buf := make([]byte, 0, len(tag)+len(path))
	buf = append(buf, tag...)
	buf = append(buf, path...)
	return base64.StdEncoding.EncodeToString(buf)
}

// Verify decodes token, splits off the leading SHA-256 tag, and checks it
// against a freshly computed HMAC over the remaining bytes (the path).
// Returns the original path on success.
//
// token is treated as whitespace-safe transport encoding: a
// literal space is restored to '+' (query-string unescaping sometimes turns
// '+' into a space before this point ever sees it) before decoding.
func (a *PathTokenAuthenticator) Verify(token string) (string, error) {
	token = strings.ReplaceAll(token, " ", "+")
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if len(raw) < sha256.Size {
		return "", ErrInvalidToken
	}

	tag, path := raw[:sha256.Size], raw[sha256.Size:]

	mac := hmac.New(sha256.New, a.key[:])
	mac.Write(path)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(tag, expected) != 1 {
		return "", ErrInvalidToken
	}
	return string(path), nil
}
