// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the minimal user helpers the registration
// producer needs.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/socialhub/go-social-backend/internal/domain"
)

// ErrDuplicateEmail indicates a registration with an already-used email.
var ErrDuplicateEmail = errors.New("email already registered")

// CreateUser inserts a new account row.
func CreateUser(ctx context.Context, db *gorm.DB, name, email string) (*domain.User, error) {
	now := time.Now().UTC()
	user := &domain.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(user).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

// GetUser returns one user by id or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
