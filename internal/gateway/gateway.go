// Package gateway implements the public edge of the platform: a reverse
// proxy that routes path prefixes to the downstream services and shields each
// one behind its own circuit breaker.
//
// The gateway holds no business logic. Its job is containment: a downstream
// that starts failing is cut off after the failure rate crosses the breaker
// threshold, and callers get an immediate 503 instead of a hung connection.
// Each downstream has an independent breaker, so a dying posts service never
// blocks traffic to users or notifications.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/socialhub/go-social-backend/internal/breaker"
	"github.com/socialhub/go-social-backend/internal/config"
	"github.com/socialhub/go-social-backend/internal/http/middleware"
)

// Downstream names a proxied service and where to reach it.
type Downstream struct {
	Name string
	URL  *url.URL
}

// Gateway routes requests to downstreams through per-service breakers.
type Gateway struct {
	breakers *breaker.Registry
	deadline time.Duration
	proxies  map[string]*httputil.ReverseProxy
}

// New constructs a Gateway for the configured downstreams.
func New(cfg config.Config, reg *breaker.Registry) (*Gateway, error) {
	users, err := url.Parse(cfg.Gateway.UserServiceURL)
	if err != nil {
		return nil, fmt.Errorf("user service url: %w", err)
	}
	posts, err := url.Parse(cfg.Gateway.PostServiceURL)
	if err != nil {
		return nil, fmt.Errorf("post service url: %w", err)
	}
	notifications, err := url.Parse(cfg.Gateway.NotificationServiceURL)
	if err != nil {
		return nil, fmt.Errorf("notification service url: %w", err)
	}

	g := &Gateway{
		breakers: reg,
		deadline: cfg.Gateway.RequestDeadline,
		proxies:  make(map[string]*httputil.ReverseProxy),
	}
	for _, d := range []Downstream{
		{Name: "users", URL: users},
		{Name: "posts", URL: posts},
		{Name: "notifications", URL: notifications},
	} {
		g.proxies[d.Name] = g.buildProxy(d, cfg.Gateway.ProxyTimeout)
	}
	return g, nil
}

// buildProxy wires one downstream's reverse proxy to its breaker: every
// response (or transport error) is reported as a success or failure sample.
func (g *Gateway) buildProxy(d Downstream, timeout time.Duration) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(d.URL)

	p.Transport = &http.Transport{
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   32,
	}

	p.ModifyResponse = func(resp *http.Response) error {
		// 5xx counts against the breaker; everything else, 4xx included, is
		// the downstream answering coherently.
		g.breakers.Report(d.Name, resp.StatusCode < http.StatusInternalServerError)
		return nil
	}

	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.breakers.Report(d.Name, false)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(gin.H{
			"message": fmt.Sprintf("%s Service Unavailable", d.Name),
		})
	}

	return p
}

// Handler returns the Gin handler proxying to the named downstream, gated by
// its breaker. An open circuit rejects immediately without touching the
// downstream.
func (g *Gateway) Handler(name string) gin.HandlerFunc {
	proxy := g.proxies[name]
	return func(c *gin.Context) {
		if !g.breakers.Allow(name) {
			breaker.MarkRejected(name)
			middleware.LoggerFrom(c).Warn().
				Str("downstream", name).
				Msg("request rejected by open circuit")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"message": fmt.Sprintf("Service %s is temporarily unavailable (Circuit Open)", name),
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), g.deadline)
		defer cancel()
		proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	}
}

// Register mounts the edge routes: the rate limiter, the path-prefix proxy
// table, and a breaker diagnostics endpoint.
//
// Routing table (pass-through paths):
//
//	/auth/*, /users/*, /media/*  -> users service
//	/posts/*                     -> posts service
//	/notifications/*             -> notifications service
//
// WebSocket traffic is NOT proxied: every request here carries a cumulative
// deadline that would sever a long-lived upgraded connection, so realtime
// clients connect to the notification service's /ws endpoint directly.
func (g *Gateway) Register(r *gin.Engine, cfg config.Config) {
	rl := middleware.NewRateLimiter(cfg.Gateway.RateRPS, cfg.Gateway.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	users := g.Handler("users")
	posts := g.Handler("posts")
	notifications := g.Handler("notifications")

	r.Any("/auth/*path", users)
	r.Any("/users/*path", users)
	r.Any("/media/*path", users)
	r.Any("/posts", posts)
	r.Any("/posts/*path", posts)
	r.Any("/notifications", notifications)
	r.Any("/notifications/*path", notifications)

	// Operational visibility into breaker state.
	r.GET("/breakers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": g.breakers.Snapshot()})
	})
}
