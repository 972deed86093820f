// Notification HTTP handlers.
//
// This file exposes the REST endpoints of the notification service:
//   - GET    /notifications               (paginated list with unread count)
//   - GET    /notifications/unread-count  (just the unread count)
//   - PATCH  /notifications/mark-all-read (mark every notification read)
//   - PATCH  /notifications/:id/read      (mark a single notification read)
//   - DELETE /notifications/:id           (delete a single notification)
//
// Every endpoint runs behind the auth middleware and operates strictly on the
// authenticated user's rows; a notification belonging to another user is
// indistinguishable from a missing one (404). Reads never return rows older
// than the retention window.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/socialhub/go-social-backend/internal/domain"
	"github.com/socialhub/go-social-backend/internal/repo"
	"github.com/socialhub/go-social-backend/internal/utils"
)

// ListNotificationsResponse contains a page of notifications plus the unread
// count clients use to render a badge.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unreadCount"`
	CurrentPage   int                   `json:"currentPage"`
	TotalPages    int                   `json:"totalPages"`
}

// UnreadCountResponse carries just the unread badge count.
type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

// clampNotificationPagination parses page/limit from query parameters,
// applies defaults and caps, and returns the validated pair.
func clampNotificationPagination(c *gin.Context) (page, limit int) {
	const (
		defaultPage  = 1
		defaultLimit = 20
		maxLimit     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	limit = utils.AtoiDefault(c.Query("limit"), defaultLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return
}

// userID returns the authenticated user identity placed in the context by the
// auth middleware. Routes registered without that middleware see "".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ListNotifications returns the authenticated user's notifications, newest
// first, with pagination metadata and the current unread count.
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	page, limit := clampNotificationPagination(c)

	res, err := repo.ListNotifications(ctx, h.DB, userID(c), page, limit, h.retentionCutoff())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list notifications")
		return
	}

	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: res.Notifications,
		UnreadCount:   res.UnreadCount,
		CurrentPage:   res.Page,
		TotalPages:    res.TotalPages,
	})
}

// UnreadCount returns the number of unread notifications inside the retention
// window.
func (h *Handlers) UnreadCount(c *gin.Context) {
	ctx := c.Request.Context()

	n, err := repo.CountUnread(ctx, h.DB, userID(c), h.retentionCutoff())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not count notifications")
		return
	}
	ok(c, http.StatusOK, UnreadCountResponse{Count: n})
}

// MarkNotificationRead marks a single notification read. Marking an
// already-read notification succeeds and changes nothing; the read flag never
// transitions back.
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	n, err := repo.MarkNotificationRead(ctx, h.DB, userID(c), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, "could not update notification")
		return
	}
	ok(c, http.StatusOK, n)
}

// MarkAllNotificationsRead marks every notification of the authenticated user
// read.
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	ctx := c.Request.Context()

	if err := repo.MarkAllNotificationsRead(ctx, h.DB, userID(c)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, "could not update notifications")
		return
	}
	noContent(c)
}

// DeleteNotification removes a single notification owned by the authenticated
// user.
func (h *Handlers) DeleteNotification(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	if err := repo.DeleteNotification(ctx, h.DB, userID(c), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not delete notification")
		return
	}
	noContent(c)
}
