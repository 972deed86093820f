package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/socialhub/go-social-backend/internal/breaker"
	"github.com/socialhub/go-social-backend/internal/config"
	httpapi "github.com/socialhub/go-social-backend/internal/http"
)

// newEdge builds a gateway whose three downstreams are the given test
// servers.
func newEdge(t *testing.T, usersURL, postsURL, notificationsURL string) (*gin.Engine, *breaker.Registry) {
	t.Helper()
	t.Setenv("GIN_MODE", "test")
	t.Setenv("USER_SERVICE_URL", usersURL)
	t.Setenv("POST_SERVICE_URL", postsURL)
	t.Setenv("NOTIFICATION_SERVICE_URL", notificationsURL)
	t.Setenv("RATE_RPS", "1000")
	t.Setenv("RATE_BURST", "1000")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	reg := breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		MinRequests:      cfg.Breaker.MinRequests,
	})
	g, err := New(cfg, reg)
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}
	r := httpapi.New(cfg)
	g.Register(r, cfg)
	return r, reg
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestGateway_ProxiesByPrefix(t *testing.T) {
	users := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("users:" + r.URL.Path))
	}))
	defer users.Close()
	posts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("posts:" + r.URL.Path))
	}))
	defer posts.Close()

	r, _ := newEdge(t, users.URL, posts.URL, posts.URL)

	if w := get(r, "/users/u1"); w.Body.String() != "users:/users/u1" {
		t.Fatalf("users proxy: %q (%d)", w.Body, w.Code)
	}
	if w := get(r, "/auth/register"); w.Body.String() != "users:/auth/register" {
		t.Fatalf("auth routes to users service: %q", w.Body)
	}
	if w := get(r, "/posts"); w.Body.String() != "posts:/posts" {
		t.Fatalf("posts proxy: %q", w.Body)
	}
}

func TestGateway_OpensCircuitAndStopsForwarding(t *testing.T) {
	var hits atomic.Int64
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	r, _ := newEdge(t, healthy.URL, failing.URL, healthy.URL)

	// First failure trips the breaker (min requests = 1, threshold 50%).
	if w := get(r, "/posts"); w.Code != http.StatusInternalServerError {
		t.Fatalf("first call should pass through the 500, got %d", w.Code)
	}
	seen := hits.Load()

	for i := 0; i < 5; i++ {
		w := get(r, "/posts")
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("open circuit must reject with 503, got %d", w.Code)
		}
		if body := w.Body.String(); body == "" || !contains(body, "Circuit Open") {
			t.Fatalf("rejection body = %q", body)
		}
	}
	if hits.Load() != seen {
		t.Fatalf("open circuit leaked %d requests downstream", hits.Load()-seen)
	}

	// Other downstreams stay reachable: breakers are independent.
	if w := get(r, "/users/u1"); w.Code != http.StatusOK {
		t.Fatalf("users must stay reachable, got %d", w.Code)
	}
}

func TestGateway_TransportErrorCountsAsFailure(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	dead.Close() // connection refused from here on
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	r, reg := newEdge(t, dead.URL, healthy.URL, healthy.URL)

	w := get(r, "/users/u1")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("transport error must map to 503, got %d", w.Code)
	}
	if !contains(w.Body.String(), "Service Unavailable") {
		t.Fatalf("body = %q", w.Body)
	}

	// The failure was reported: the next call is rejected by the breaker.
	if w := get(r, "/users/u1"); !contains(w.Body.String(), "Circuit Open") {
		t.Fatalf("breaker should be open, body = %q", w.Body)
	}
	for _, s := range reg.Snapshot() {
		if s.Service == "users" && s.State != "open" {
			t.Fatalf("users breaker state = %q, want open", s.State)
		}
	}
}

func TestGateway_DoesNotProxyWebSocketUpgrades(t *testing.T) {
	var hits atomic.Int64
	notifications := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer notifications.Close()

	r, _ := newEdge(t, notifications.URL, notifications.URL, notifications.URL)

	// Every proxied request carries a cumulative deadline that would cut an
	// upgraded connection mid-stream, so /ws must not resolve at the edge;
	// realtime clients dial the notification service directly.
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("/ws at the gateway = %d, want 404", w.Code)
	}
	if hits.Load() != 0 {
		t.Fatalf("upgrade request leaked downstream %d times", hits.Load())
	}
}

func TestGateway_BreakersEndpoint(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	r, _ := newEdge(t, healthy.URL, healthy.URL, healthy.URL)
	get(r, "/users/u1")

	w := get(r, "/breakers")
	if w.Code != http.StatusOK {
		t.Fatalf("breakers endpoint = %d", w.Code)
	}
	if !contains(w.Body.String(), "users") {
		t.Fatalf("snapshot must include seen services: %s", w.Body)
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
