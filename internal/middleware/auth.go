package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/session"
)

// unexported, collision-proof context key
type sessionContextKeyType struct{}

var sessionKey = sessionContextKeyType{}

// SessionFromContext returns the session attached by RequireAuth.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}

type AuthMiddleware struct {
	Store  session.Store
	Cookie session.CookieOptions
}

func NewAuthMiddleware(store session.Store, cookie session.CookieOptions) *AuthMiddleware {
	return &AuthMiddleware{Store: store, Cookie: cookie}
}

// RequireAuth loads the session named by the cookie and attaches it, and
// the subject credential it holds, to the request context.
func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := session.ReadCookie(r, a.Cookie)
		if sessionID == "" {
			unauthorized(w)
			return
		}

		// expired sessions come back nil
		sess, err := a.Store.Get(r.Context(), sessionID)
		if err != nil || sess == nil {
			session.ClearCookie(w, a.Cookie)
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		ctx = auth.WithCredential(ctx, sess.Credential)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthenticated", "login required")
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}
