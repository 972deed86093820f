package middleware

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
)

var uuidRE = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func newLoggingRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })
	r.GET("/logger", func(c *gin.Context) {
		if LoggerFrom(c) == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	r := newLoggingRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	rid := w.Header().Get("X-Request-ID")
	if !uuidRE.MatchString(rid) {
		t.Fatalf("generated request id %q is not a UUID", rid)
	}
}

func TestRequestID_PropagatedWhenPresent(t *testing.T) {
	r := newLoggingRouter()

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-ID", "client-chosen-id")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-chosen-id" {
		t.Fatalf("request id not propagated: %q", got)
	}
}

func TestRecovery_PanicBecomesJSON500(t *testing.T) {
	r := newLoggingRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("panic response must keep the correlation id")
	}
}

func TestLoggerFrom_NeverNil(t *testing.T) {
	r := newLoggingRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logger", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("request-scoped logger missing, status = %d", w.Code)
	}

	// Outside any request the fallback logger is returned.
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatal("fallback logger must not be nil")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Fatalf("short strings pass through, got %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("max<=0 disables truncation, got %q", got)
	}
}
