package handler

import (
	"context"
	"net/http"
	"time"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/auth/rolesync"
	"role-sync-service/internal/logger"
	"role-sync-service/internal/middleware"
	"role-sync-service/internal/session"

	"github.com/gin-gonic/gin"
)

type Tokens interface {
	ServiceCredential(ctx context.Context) (*auth.Credential, error)
	SubjectCredential(ctx context.Context, email, password string) (*auth.Credential, error)
}

type Synchronizer interface {
	AdoptRole(ctx context.Context, subjectCred *auth.Credential) (*rolesync.Attempt, error)
	ChangeRole(ctx context.Context, actingCred *auth.Credential, email, roleID string) (*rolesync.Attempt, error)
	RetryMirror(ctx context.Context, actingCred *auth.Credential, subjectID, roleID string) (*rolesync.Attempt, error)
	ProvisionUser(ctx context.Context, actingCred *auth.Credential, u auth.NewUser, roleID string) (*rolesync.Attempt, error)
}

// Users is the part of the directory the password endpoint needs.
type Users interface {
	FindByEmail(ctx context.Context, cred *auth.Credential, email string) (*auth.Subject, error)
	ChangePassword(ctx context.Context, cred *auth.Credential, subjectID, password, connection string) error
}

type MirrorReader interface {
	ListUsers(ctx context.Context, actingCred *auth.Credential) ([]auth.MirrorUser, error)
}

type Options struct {
	Cookie       session.CookieOptions
	EnforceAdmin bool
	// LoginRateLimit is the number of login attempts allowed per IP and minute.
	LoginRateLimit int
	Connection     string
}

type Handler struct {
	tokens       Tokens
	sync         Synchronizer
	users        Users
	mirror       MirrorReader
	sessionStore session.Store
	opts         Options
}

func NewHandler(
	tokens Tokens,
	sync Synchronizer,
	users Users,
	mirror MirrorReader,
	sessionStore session.Store,
	opts Options,
) *Handler {
	return &Handler{
		tokens:       tokens,
		sync:         sync,
		users:        users,
		mirror:       mirror,
		sessionStore: sessionStore,
		opts:         opts,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, authMW *middleware.AuthMiddleware) {
	login := []gin.HandlerFunc{h.Login}
	if h.opts.LoginRateLimit > 0 {
		login = append([]gin.HandlerFunc{middleware.RateLimit(h.opts.LoginRateLimit, time.Minute)}, login...)
	}
	r.POST("/auth/login", login...)
	r.POST("/auth/logout", h.Logout)

	api := r.Group("/api", middleware.GinRequireAuth(authMW))
	api.GET("/me", h.Me)
	api.PATCH("/users/password", h.ChangePassword)

	admin := api.Group("", middleware.RequireAdmin(h.opts.EnforceAdmin))
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.ProvisionUser)
	admin.PUT("/users/role", h.ChangeRole)
	admin.PUT("/users/:id/mirror", h.RetryMirror)

	for _, route := range r.Routes() {
		logger.Debug("route registered", map[string]any{
			"method": route.Method,
			"path":   route.Path,
		})
	}
}

func (h *Handler) Me(c *gin.Context) {
	sess, _ := middleware.SessionFromContext(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"subject":    sess.Subject.ID,
		"email":      sess.Subject.Email,
		"name":       sess.Subject.Name,
		"role":       sess.Role.Name,
		"isAdmin":    sess.IsAdmin,
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Logout(c *gin.Context) {
	if id := session.ReadCookie(c.Request, h.opts.Cookie); id != "" {
		// best-effort, the session expires on its own
		_ = h.sessionStore.Delete(c.Request.Context(), id)
		logger.Info("logout", map[string]any{"ip": c.ClientIP()})
	}

	session.ClearCookie(c.Writer, h.opts.Cookie)
	c.Status(http.StatusNoContent)
}

// actingCredential returns the session subject's credential attached by
// the auth middleware.
func actingCredential(c *gin.Context) (*auth.Credential, bool) {
	cred, ok := auth.CredentialFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login required", "kind": "unauthenticated"})
	}
	return cred, ok
}
