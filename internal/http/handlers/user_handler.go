// User HTTP handlers.
//
// The user service is intentionally thin: registration persists the user and
// announces it on the event bus. The announcement is best effort — a broker
// outage never fails the registration, it only costs the welcome
// notification.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/socialhub/go-social-backend/internal/bus"
	"github.com/socialhub/go-social-backend/internal/domain"
	"github.com/socialhub/go-social-backend/internal/http/middleware"
	"github.com/socialhub/go-social-backend/internal/repo"
)

// RegisterUserRequest is the JSON payload for registering a user.
type RegisterUserRequest struct {
	Name  string `json:"name" binding:"required,min=1,max=120"`
	Email string `json:"email" binding:"required,email"`
}

// RegisterUser creates a user and publishes a user.created event.
func (h *Handlers) RegisterUser(c *gin.Context) {
	ctx := c.Request.Context()

	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and a valid email are required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and a valid email are required")
		return
	}

	u, err := repo.CreateUser(ctx, h.DB, name, req.Email)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			fail(c, http.StatusConflict, ErrCodeConflict, "email already registered")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "could not create user")
		return
	}

	// Announce the registration; losing the event only loses the welcome
	// notification, so a broker outage is logged and swallowed.
	evt := domain.UserCreatedEvent{ID: u.ID, Name: u.Name}
	if err := h.Bus.Publish(ctx, bus.RouteUserCreated, evt); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).
			Str("user_id", u.ID).
			Msg("user.created publish failed")
	}

	ok(c, http.StatusCreated, u)
}

// GetUser returns a single user by id.
func (h *Handlers) GetUser(c *gin.Context) {
	ctx := c.Request.Context()

	u, err := repo.GetUser(ctx, h.DB, c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load user")
		return
	}
	ok(c, http.StatusOK, u)
}
