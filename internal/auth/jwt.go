// Package auth guards the operator surface with HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gatekeeper/internal/support"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenLifetime = 12 * time.Hour
	issuer        = "gatekeeper"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")

	secretOnce sync.Once
	secret     []byte
)

// Claims carries the operator identity. user_id and role are the only
// application claims; exp and iat come from the registered set.
type Claims struct {
	UserID uint64 `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func signingKey() []byte {
	secretOnce.Do(func() {
		value := support.GetEnv("JWT_SECRET", "")
		if value == "" {
			log.Warn("JWT_SECRET is not set, using an insecure development secret")
			value = "gatekeeper-development-secret"
		}
		secret = []byte(value)
	})
	return secret
}

// SetSigningKey replaces the secret read from JWT_SECRET.
func SetSigningKey(key []byte) {
	secretOnce.Do(func() {})
	secret = append([]byte(nil), key...)
}

// GenerateJWT issues a token for userID with role, returning the signed token
// and its expiry.
func GenerateJWT(userID uint64, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tokenLifetime)

	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func ValidateJWT(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return signingKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
