package app

import (
	"net/http"

	"role-sync-service/internal/auth/handler"
	"role-sync-service/internal/config"
	"role-sync-service/internal/middleware"
	"role-sync-service/internal/session"

	"github.com/gin-gonic/gin"
)

func setupHTTP(core *Core, cfg config.Config) *gin.Engine {
	// ----------------------------
	// Dependencies
	// ----------------------------

	sessionStore := session.NewMemoryStore(cfg.SessionCapacity, cfg.SessionTTL)
	cookie := session.CookieOptions{
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}

	authHandler := handler.NewHandler(
		core.Tokens,
		core.Sync,
		core.Directory,
		core.Mirror,
		sessionStore,
		handler.Options{
			Cookie:         cookie,
			EnforceAdmin:   cfg.EnforceAdmin,
			LoginRateLimit: cfg.LoginRateLimit,
			Connection:     cfg.Connection,
		},
	)

	authMiddleware := middleware.NewAuthMiddleware(sessionStore, cookie)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authHandler.RegisterRoutes(router, authMiddleware)

	return router
}
