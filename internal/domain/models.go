// Package domain defines the persistence models for notifications, posts,
// and users. These types are mapped with GORM and shared by the service
// processes that own them.
package domain

import (
	"time"
)

// Notification severity levels. Stored as strings; the DB constraint
// mirrors this set.
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Notification is a persisted message addressed to one user. Records are
// created by the event consumer, mutated only by read/delete operations from
// the owning user, and retained for 30 days.
//
// Invariants:
//   - UserID never changes after creation.
//   - Read transitions false -> true only; it never reverts.
type Notification struct {
	ID      string `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID  string `json:"user_id" gorm:"type:varchar(64);not null;index:idx_user_notifications"`
	Type    string `json:"type"    gorm:"type:varchar(16);not null;default:'info';check:type IN ('info','success','warning','error')"`
	Title   string `json:"title"   gorm:"type:varchar(255);not null"`
	Message string `json:"message" gorm:"type:text;not null"`
	// Data carries optional structured context as raw JSON.
	Data      []byte    `json:"data,omitempty" gorm:"type:blob"`
	Read      bool      `json:"read"           gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"     gorm:"index"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// Post is a published piece of content. The post service persists it and
// announces it on the event bus; everything else about posts is plumbing.
type Post struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	AuthorID  string    `json:"author_id" gorm:"type:varchar(64);not null;index"`
	Title     string    `json:"title"     gorm:"type:varchar(255);not null"`
	Content   string    `json:"content"   gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string { return "posts" }

// User is the minimal account row the user service keeps. Credential and
// token mechanics live elsewhere; registration exists here because it is a
// producer of user.created events.
type User struct {
	ID        string    `json:"id"    gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"  gorm:"type:varchar(128);not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }
