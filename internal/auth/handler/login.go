package handler

import (
	"net/http"
	"strings"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/logger"
	"role-sync-service/internal/session"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges the password for a subject credential, adopts the role
// the subject holds on the IdP and opens a session. A subject that cannot
// be classified gets no session.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required", "kind": "bad_request"})
		return
	}
	email := strings.TrimSpace(req.Email)

	cred, err := h.tokens.SubjectCredential(c.Request.Context(), email, req.Password)
	if err != nil {
		logger.Warn("login failed", map[string]any{
			"email": email,
			"kind":  auth.Kind(err),
			"ip":    c.ClientIP(),
		})
		respondError(c, err, nil)
		return
	}

	attempt, err := h.sync.AdoptRole(c.Request.Context(), cred)
	if err != nil {
		respondError(c, err, attempt)
		return
	}

	sessionID, err := h.sessionStore.Create(c.Request.Context(), session.Session{
		Subject:    auth.Subject{ID: attempt.SubjectID, Email: attempt.Email, Name: attempt.Name},
		Credential: cred,
		Role:       attempt.Role,
		IsAdmin:    attempt.IsAdmin,
	})
	if err != nil {
		logger.Error("failed to create session", map[string]any{
			"subject": attempt.SubjectID,
			"error":   err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error", "kind": "internal"})
		return
	}

	sess, err := h.sessionStore.Get(c.Request.Context(), sessionID)
	if err != nil || sess == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error", "kind": "internal"})
		return
	}
	session.SetCookie(c.Writer, sessionID, sess.ExpiresAt, h.opts.Cookie)

	logger.Info("login success", map[string]any{
		"subject":  attempt.SubjectID,
		"role":     attempt.Role.Name,
		"is_admin": attempt.IsAdmin,
		"ip":       c.ClientIP(),
	})

	c.JSON(http.StatusOK, gin.H{
		"subject": attempt.SubjectID,
		"email":   attempt.Email,
		"role":    attempt.Role.Name,
		"isAdmin": attempt.IsAdmin,
		"attempt": attempt.ID,
	})
}
