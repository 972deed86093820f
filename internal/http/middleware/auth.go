// Package middleware contains shared Gin middleware used by every HTTP
// process.
//
// This file verifies bearer tokens for user-scoped endpoints. Tokens are
// HS256 JWTs carrying the user identity in the "userId" claim; once verified
// the identity is stored in the Gin context under "userID" and trusted for
// the remainder of the request.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/socialhub/go-social-backend/internal/sysutil"
)

// ContextUserID is the Gin context key under which the authenticated user
// identity is stored.
const ContextUserID = "userID"

// UserIDFrom returns the authenticated user identity, or "" when the request
// did not pass through RequireAuth.
func UserIDFrom(c *gin.Context) string {
	if v, ok := c.Get(ContextUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireAuth returns a middleware that rejects requests lacking a valid
// HS256 bearer token signed with secret. On success the "userId" claim is
// stored under ContextUserID.
func RequireAuth(secret string) gin.HandlerFunc {
	keyFn := func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		tok, err := jwt.ParseWithClaims(raw, claims, keyFn,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid {
			LoggerFrom(c).Warn().Err(err).Msg("token verification failed")
			unauthorized(c, "invalid token")
			return
		}

		uid, _ := claims["userId"].(string)
		if uid == "" {
			unauthorized(c, "token missing user identity")
			return
		}

		c.Set(ContextUserID, uid)
		c.Next()
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the "token" query parameter for transports that cannot set headers
// (browser WebSocket handshakes).
func bearerToken(c *gin.Context) string {
	var fromHeader string
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		fromHeader = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return sysutil.FirstNonEmpty(fromHeader, c.Query("token"))
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
