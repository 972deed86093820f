// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for notifications.
//
// Every query is scoped by the owning user's id and by the retention window:
// records older than the retention cutoff are invisible to list/count even
// before the janitor physically removes them (the SQLite stand-in for a
// store-level TTL index).
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/socialhub/go-social-backend/internal/domain"
)

// NotificationPage is the result of a paginated list: the visible slice plus
// the aggregate counters clients render badges from.
type NotificationPage struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unreadCount"`
	Page          int                   `json:"page"`
	TotalPages    int                   `json:"totalPages"`
}

// retentionScope limits a query to rows younger than the retention window.
func retentionScope(cutoff time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("created_at > ?", cutoff)
	}
}

// CreateNotification inserts a new record addressed to userID.
func CreateNotification(ctx context.Context, db *gorm.DB, userID, typ, title, message string, data []byte) (*domain.Notification, error) {
	rec := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		Read:      false,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// ListNotifications returns one page of userID's notifications, newest
// first, together with the unread count and total page count. Rows older
// than cutoff are excluded.
func ListNotifications(ctx context.Context, db *gorm.DB, userID string, page, limit int, cutoff time.Time) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	q := db.WithContext(ctx).Model(&domain.Notification{}).
		Scopes(retentionScope(cutoff)).
		Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	var notifications []domain.Notification
	err := db.WithContext(ctx).
		Scopes(retentionScope(cutoff)).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}

	unread, err := CountUnread(ctx, db, userID, cutoff)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &NotificationPage{
		Notifications: notifications,
		UnreadCount:   unread,
		Page:          page,
		TotalPages:    totalPages,
	}, nil
}

// CountUnread returns the number of unread, unexpired notifications.
func CountUnread(ctx context.Context, db *gorm.DB, userID string, cutoff time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Notification{}).
		Scopes(retentionScope(cutoff)).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&n).Error
	return n, err
}

// MarkNotificationRead flips one notification to read. The transition is
// one-way: an already-read record is returned unchanged, never reverted.
// Returns ErrNotFound when the record does not exist or belongs to someone
// else.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, userID, id string) (*domain.Notification, error) {
	var rec domain.Notification
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Read {
		return &rec, nil
	}
	if err := db.WithContext(ctx).Model(&rec).Update("read", true).Error; err != nil {
		return nil, err
	}
	rec.Read = true
	return &rec, nil
}

// MarkAllNotificationsRead flips every unread notification of userID.
func MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
}

// DeleteNotification removes one record owned by userID.
// Returns ErrNotFound when nothing was deleted.
func DeleteNotification(ctx context.Context, db *gorm.DB, userID, id string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpiredNotifications physically deletes rows older than cutoff and
// returns how many were removed. Called periodically by the janitor.
func PurgeExpiredNotifications(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("created_at <= ?", cutoff).
		Delete(&domain.Notification{})
	return res.RowsAffected, res.Error
}
