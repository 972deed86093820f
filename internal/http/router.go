// Package httpapi wires the HTTP transport (Gin) to middleware and route
// handlers for the three backend services (users, posts, notifications). It
// centralizes cross-cutting concerns such as tracing, correlation IDs,
// logging, panic recovery, metrics, and CORS so every process carries the
// same posture.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/socialhub/go-social-backend/internal/config"
	"github.com/socialhub/go-social-backend/internal/http/handlers"
	"github.com/socialhub/go-social-backend/internal/http/middleware"
	"github.com/socialhub/go-social-backend/internal/realtime"
)

// New builds a Gin engine carrying the shared middleware stack. Every service
// process (and the gateway) starts from this.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics and the /metrics endpoint
//  7. CORS
func New(cfg config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	applyCORS(r, cfg)

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	return r
}

// RegisterUserRoutes mounts the user service endpoints.
func RegisterUserRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.POST("/auth/register", h.RegisterUser)
	r.GET("/users/:id", h.GetUser)
}

// RegisterPostRoutes mounts the post service endpoints. Creation runs behind
// the idempotency guard so client retries replay instead of double-posting.
func RegisterPostRoutes(r *gin.Engine, h *handlers.Handlers, cfg config.Config) {
	auth := middleware.RequireAuth(cfg.JWTSecret)
	guard := middleware.IdempotencyGuard(h.Cache, cfg.IdempotencyTTL)

	r.GET("/posts", h.ListPosts)
	r.POST("/posts", auth, guard, h.CreatePost)
}

// RegisterNotificationRoutes mounts the notification service endpoints and
// the WebSocket upgrade. Everything here is user-scoped and requires auth.
func RegisterNotificationRoutes(r *gin.Engine, h *handlers.Handlers, hub *realtime.Hub, cfg config.Config) {
	auth := middleware.RequireAuth(cfg.JWTSecret)

	n := r.Group("/notifications", auth)
	{
		n.GET("", h.ListNotifications)
		n.GET("/unread-count", h.UnreadCount)
		n.PATCH("/mark-all-read", h.MarkAllNotificationsRead)
		n.PATCH("/:id/read", h.MarkNotificationRead)
		n.DELETE("/:id", h.DeleteNotification)
	}

	r.GET("/ws", auth, realtime.ServeWS(hub))
}

// applyCORS installs the CORS posture: allow-all when no origins are
// configured, a strict allowlist otherwise.
func applyCORS(r *gin.Engine, cfg config.Config) {
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
