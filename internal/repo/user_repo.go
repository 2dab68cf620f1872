// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the user store used by sign-up and login.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/bookworm-backend/internal/domain"
)

// CreateUser inserts a new account. The email must already be normalized.
// A unique violation on email is reported as ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, email, passwordHash string) (*domain.User, error) {
	u := &domain.User{Email: email, Password: passwordHash}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// FindUserByEmail returns the account registered under email, or ErrNotFound.
func FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
