// Package middleware contains shared Gin middleware used by every HTTP
// process.
//
// This file implements the idempotency guard wrapped around write endpoints.
// A client retrying a write sends the same Idempotency-Key header; the first
// successful execution's response is stored in the cache store and replayed
// byte-for-byte for every retry inside the retention window, so the protected
// side effect runs at most once per key.
//
// The guard is an explicit pipeline stage: it swaps in a response-capturing
// writer and persists the result after the handler returns. The cache store
// is never a hard dependency — when it is unreachable at lookup or store
// time the request proceeds as if no key were present (fail open).
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/socialhub/go-social-backend/internal/cache"
)

// HeaderIdempotencyKey is the request header clients use to convey an
// idempotency key for unsafe operations. The value is expected to be stable
// for a given logical operation so retries deduplicate safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// keyPrefix namespaces idempotency records in the shared cache store.
const keyPrefix = "idempotency:"

// keyPattern restricts accepted keys to an RFC-7230-ish token alphabet.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// maxKeyLen caps the accepted key length.
const maxKeyLen = 200

// storedResponse is the cached result of the first successful execution.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// captureWriter tees the response body so the guard can store it after the
// handler completes.
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyGuard returns the middleware protecting write endpoints.
//
// Behavior:
//   - No header: pass through, no protection.
//   - Invalid header: 400 with a compact error body.
//   - Known key: replay the stored {status, body} verbatim; the handler
//     never runs.
//   - New key: run the handler through a capturing writer; when the final
//     status is 2xx, store {status, body} under the key with the given TTL
//     before control returns.
//   - Cache store unreachable: log and continue without protection.
func IdempotencyGuard(store cache.Store, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxKeyLen || !keyPattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		lg := LoggerFrom(c)
		cacheKey := keyPrefix + key

		raw, err := store.Get(c.Request.Context(), cacheKey)
		switch {
		case err == nil:
			var stored storedResponse
			if jsonErr := json.Unmarshal(raw, &stored); jsonErr == nil {
				lg.Info().Str("idempotency_key", key).Msg("replaying cached response")
				if stored.ContentType != "" {
					c.Header("Content-Type", stored.ContentType)
				}
				c.Status(stored.Status)
				_, _ = c.Writer.Write(stored.Body)
				c.Abort()
				return
			}
			// Corrupt record: treat as a miss and let the handler run.
			lg.Warn().Str("idempotency_key", key).Msg("dropping corrupt idempotency record")
			_ = store.Del(c.Request.Context(), cacheKey)
		case errors.Is(err, cache.ErrMiss):
			// First sighting of this key.
		default:
			// Store unreachable: availability wins over protection.
			lg.Warn().Err(err).Msg("idempotency lookup failed, proceeding without protection")
			c.Next()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		status := w.Status()
		if status < 200 || status >= 300 {
			return // only successes are replayable; failures may be retried for real
		}

		rec := storedResponse{
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.buf.Bytes(),
		}
		encoded, jsonErr := json.Marshal(rec)
		if jsonErr != nil {
			lg.Error().Err(jsonErr).Msg("encode idempotency record")
			return
		}
		// The response is already on the wire; storing is best effort and
		// must not use a request context that may be done.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := store.Set(ctx, cacheKey, encoded, ttl); err != nil {
			lg.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency store failed")
		}
	}
}
