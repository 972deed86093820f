// Package repo implements the data persistence layer for domain entities,
// backed by GORM. Post and user helpers are deliberately thin: everything
// interesting about those services lives in the resilience layer wrapped
// around them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/socialhub/go-social-backend/internal/domain"
)

// CreatePost inserts a new post.
func CreatePost(ctx context.Context, db *gorm.DB, authorID, title, content string) (*domain.Post, error) {
	now := time.Now().UTC()
	post := &domain.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, err
	}
	return post, nil
}

// ListPosts returns all posts, newest first.
func ListPosts(ctx context.Context, db *gorm.DB) ([]domain.Post, error) {
	var posts []domain.Post
	err := db.WithContext(ctx).Order("created_at DESC").Find(&posts).Error
	return posts, err
}
