package database

import (
	"context"
	"errors"
	"strings"

	"gatekeeper/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureUser returns the user for email, creating it with role when missing.
// An existing user keeps its role.
func (s *Store) EnsureUser(ctx context.Context, email, role string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, errors.New("user requires an email")
	}

	db, err := s.conn(ctx)
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{Email: email, Role: role}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&user).Error
	if err != nil {
		return domain.User{}, err
	}

	var stored domain.User
	if err := db.Where("email = ?", email).Take(&stored).Error; err != nil {
		return domain.User{}, err
	}
	return stored, nil
}

// GetUserByID returns nil when no user has id.
func (s *Store) GetUserByID(ctx context.Context, id uint64) (*domain.User, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var user domain.User
	if err := db.Where("id = ?", id).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
