package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors for the admin JWT surface.
var (
	ErrInvalidAdminToken    = errors.New("auth: invalid admin token")
	ErrExpiredAdminToken    = errors.New("auth: admin token has expired")
	ErrAdminSecretTooShort  = errors.New("auth: admin JWT secret must be at least 32 characters")
)

// AdminJWTConfig configures the admin bearer-token service.
type AdminJWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string
	// Issuer is the token issuer claim. Default: "usbsas".
	Issuer string
	// TokenDuration is the lifetime of issued tokens. Default: 1 hour.
	TokenDuration time.Duration
}

// AdminClaims identifies the operator holding an admin token; there are no
// per-user roles in a single-operator tool, only possession of the token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
}

// AdminJWTService issues and verifies bearer tokens for the admin surface
// (list/force-terminate sessions), kept separate from per-session path
// tokens: an admin token authenticates an operator across every session,
// while a path token authenticates one path within one session.
type AdminJWTService struct {
	config AdminJWTConfig
}

// NewAdminJWTService validates the secret length and applies defaults.
func NewAdminJWTService(config AdminJWTConfig) (*AdminJWTService, error) {
	if len(config.Secret) < 32 {
		return nil, ErrAdminSecretTooShort
	}
	if config.Issuer == "" {
		config.Issuer = "usbsas"
	}
	if config.TokenDuration == 0 {
		config.TokenDuration = time.Hour
	}
	return &AdminJWTService{config: config}, nil
}

// Issue generates a signed token for operator.
func (s *AdminJWTService) Issue(operator string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.TokenDuration)

	claims := &AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Operator: operator,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign admin token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates tokenStr, returning its claims.
func (s *AdminJWTService) Verify(tokenStr string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredAdminToken
		}
		return nil, ErrInvalidAdminToken
	}
	if !token.Valid {
		return nil, ErrInvalidAdminToken
	}
	return claims, nil
}
