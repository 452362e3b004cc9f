package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/httprate"
)

// Gin adapts net/http middleware to Gin. The Gin chain continues inside
// the wrapped handler, so a middleware that answers on its own (and never
// calls next) stops the chain.
func Gin(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			c.Next()
		})

		mw(next).ServeHTTP(c.Writer, c.Request)

		if c.Writer.Written() {
			c.Abort()
		}
	}
}

// GinRequireAuth adapts RequireAuth to Gin.
func GinRequireAuth(a *AuthMiddleware) gin.HandlerFunc {
	return Gin(a.RequireAuth)
}

// RateLimit limits requests per client IP.
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	return Gin(httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}),
	))
}

// RequireAdmin rejects sessions whose adopted role is not admin. With
// enforce unset it only passes through, and role writes are left to the
// backend to refuse when it rejects the acting credential.
func RequireAdmin(enforce bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enforce {
			c.Next()
			return
		}
		sess, ok := SessionFromContext(c.Request.Context())
		if !ok {
			c.Abort()
			unauthorized(c.Writer)
			return
		}
		if !sess.IsAdmin {
			c.Abort()
			writeError(c.Writer, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		c.Next()
	}
}
