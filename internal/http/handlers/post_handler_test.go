package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/socialhub/go-social-backend/internal/cache"
	"github.com/socialhub/go-social-backend/internal/domain"
	"github.com/socialhub/go-social-backend/internal/repo"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

func newPostFixture(t *testing.T) (*Handlers, *gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	db, err := repo.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := New(db, nopPublisher{}, cache.NewRedis(rdb, 250*time.Millisecond), 30*24*time.Hour, time.Hour)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "u1") })
	r.GET("/posts", h.ListPosts)
	r.POST("/posts", h.CreatePost)
	return h, r, mr
}

func listTitles(t *testing.T, r *gin.Engine) []string {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/posts", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d; body=%s", w.Code, w.Body)
	}
	var resp struct {
		Posts []domain.Post `json:"posts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	titles := make([]string, len(resp.Posts))
	for i, p := range resp.Posts {
		titles[i] = p.Title
	}
	return titles
}

func createPost(t *testing.T, r *gin.Engine, title string) {
	t.Helper()
	body := bytes.NewBufferString(`{"title":"` + title + `","content":"body"}`)
	req := httptest.NewRequest(http.MethodPost, "/posts", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d; body=%s", w.Code, w.Body)
	}
}

func TestListPosts_ServedFromCache(t *testing.T) {
	h, r, mr := newPostFixture(t)

	if _, err := repo.CreatePost(context.Background(), h.DB, "u1", "seeded", "body"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if got := listTitles(t, r); len(got) != 1 || got[0] != "seeded" {
		t.Fatalf("first list = %v", got)
	}
	if !mr.Exists("posts:list") {
		t.Fatal("list result was not cached")
	}

	// A write bypassing the handler is invisible while the cache is warm.
	if _, err := repo.CreatePost(context.Background(), h.DB, "u1", "sneaky", "body"); err != nil {
		t.Fatalf("direct insert: %v", err)
	}
	if got := listTitles(t, r); len(got) != 1 {
		t.Fatalf("cached list should not see the direct insert: %v", got)
	}
}

func TestCreatePost_InvalidatesListCache(t *testing.T) {
	_, r, _ := newPostFixture(t)

	createPost(t, r, "first")
	if got := listTitles(t, r); len(got) != 1 {
		t.Fatalf("list after first create = %v", got)
	}

	createPost(t, r, "second")
	got := listTitles(t, r)
	if len(got) != 2 {
		t.Fatalf("create must invalidate the cached list, got %v", got)
	}
}

func TestListPosts_CacheOutageFallsBackToDB(t *testing.T) {
	h, r, mr := newPostFixture(t)

	if _, err := repo.CreatePost(context.Background(), h.DB, "u1", "durable", "body"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mr.Close()

	if got := listTitles(t, r); len(got) != 1 || got[0] != "durable" {
		t.Fatalf("list during cache outage = %v", got)
	}
}
