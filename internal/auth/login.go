package auth

import (
	"context"
	"errors"
	"strings"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/support"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// UserStore resolves the operator account a successful login is issued for.
type UserStore interface {
	EnsureUser(ctx context.Context, email, role string) (domain.User, error)
}

// Operator is the single administrator configured through the environment.
type Operator struct {
	Email        string
	PasswordHash string
}

func OperatorFromEnv() Operator {
	return Operator{
		Email:        strings.ToLower(strings.TrimSpace(support.GetEnv("ADMIN_EMAIL", ""))),
		PasswordHash: support.GetEnv("ADMIN_PASSWORD_HASH", ""),
	}
}

func (o Operator) Configured() bool {
	return o.Email != "" && o.PasswordHash != ""
}

// Login checks email and password against the operator and returns the
// backing admin user.
func (o Operator) Login(ctx context.Context, users UserStore, email, password string) (domain.User, error) {
	if !o.Configured() {
		return domain.User{}, ErrInvalidCredentials
	}
	if strings.ToLower(strings.TrimSpace(email)) != o.Email {
		return domain.User{}, ErrInvalidCredentials
	}
	if !CheckPasswordHash(password, o.PasswordHash) {
		return domain.User{}, ErrInvalidCredentials
	}

	return users.EnsureUser(ctx, o.Email, domain.RoleAdmin)
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
