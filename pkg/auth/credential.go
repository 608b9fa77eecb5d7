package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Errors for the admin password credential.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrPasswordTooShort   = errors.New("auth: password must be at least 8 characters")
	// bcrypt silently truncates input at 72 bytes, so longer passwords are
	// rejected outright instead.
	ErrPasswordTooLong = errors.New("auth: password must be at most 72 characters")
)

// DefaultBcryptCost balances hashing time against brute-force resistance
// for an interactive admin login.
const DefaultBcryptCost = 10

// MinPasswordLength is the minimum accepted admin password length.
const MinPasswordLength = 8

// MaxPasswordLength is bcrypt's input limit.
const MaxPasswordLength = 72

// HashPassword creates a bcrypt hash of password, for storing as the admin
// login credential (USBSAS_ADMIN_PASSWORD_HASH).
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ValidatePassword enforces the password length bounds.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// AdminCredential is the operator's login credential for the admin token
// endpoint: a bcrypt hash verified at login time, never a plaintext secret
// held in memory beyond the request.
type AdminCredential struct {
	hash string
}

// NewAdminCredential wraps an existing bcrypt hash. The hash's shape is
// validated lazily, by the first Verify call.
func NewAdminCredential(bcryptHash string) *AdminCredential {
	return &AdminCredential{hash: bcryptHash}
}

// Verify compares password against the stored hash, returning
// ErrInvalidCredentials on mismatch.
func (c *AdminCredential) Verify(password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(c.hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
