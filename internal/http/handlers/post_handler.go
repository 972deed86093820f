// Post HTTP handlers.
//
// Creation is the canonical retry-sensitive write: the router wraps it with
// the idempotency guard, so a retried request replays the first response
// instead of inserting a second row. A successful create publishes a
// post.created event (best effort) and invalidates the cached post list.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/socialhub/go-social-backend/internal/bus"
	"github.com/socialhub/go-social-backend/internal/cache"
	"github.com/socialhub/go-social-backend/internal/domain"
	"github.com/socialhub/go-social-backend/internal/http/middleware"
	"github.com/socialhub/go-social-backend/internal/repo"
)

// postsListKey is the cache key for the post list read-through.
const postsListKey = "posts:list"

// CreatePostRequest is the JSON payload for publishing a post.
type CreatePostRequest struct {
	Title   string `json:"title" binding:"required,min=1,max=200"`
	Content string `json:"content" binding:"required,min=1"`
}

// CreatePost persists a post authored by the authenticated user, announces it
// on the event bus, and invalidates the cached list.
func (h *Handlers) CreatePost(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and content are required")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and content are required")
		return
	}

	p, err := repo.CreatePost(ctx, h.DB, userID(c), title, req.Content)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "could not create post")
		return
	}

	lg := middleware.LoggerFrom(c)

	evt := domain.PostCreatedEvent{ID: p.ID, AuthorID: p.AuthorID, Title: p.Title}
	if err := h.Bus.Publish(ctx, bus.RoutePostCreated, evt); err != nil {
		lg.Warn().Err(err).Str("post_id", p.ID).Msg("post.created publish failed")
	}

	if err := h.Cache.Del(ctx, postsListKey); err != nil {
		lg.Warn().Err(err).Msg("post list cache invalidation failed")
	}

	ok(c, http.StatusCreated, p)
}

// ListPosts returns all posts, newest first, through the cache store.
// Cache failures degrade to a direct database read.
func (h *Handlers) ListPosts(c *gin.Context) {
	ctx := c.Request.Context()

	posts, err := cache.Remember(ctx, h.Cache, postsListKey, h.EntityCacheTTL,
		func(ctx context.Context) ([]domain.Post, error) {
			return repo.ListPosts(ctx, h.DB)
		})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list posts")
		return
	}
	ok(c, http.StatusOK, gin.H{"posts": posts})
}
