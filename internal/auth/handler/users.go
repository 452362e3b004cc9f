package handler

import (
	"net/http"
	"strings"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/logger"
	"role-sync-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

type changeRoleRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

type retryMirrorRequest struct {
	Role string `json:"role" binding:"required"`
}

type provisionRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Role     string `json:"role" binding:"required"`
}

type changePasswordRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ListUsers returns the backend's user listing. Display only.
func (h *Handler) ListUsers(c *gin.Context) {
	cred, ok := actingCredential(c)
	if !ok {
		return
	}

	users, err := h.mirror.ListUsers(c.Request.Context(), cred)
	if err != nil {
		logger.Error("failed to list mirror users", map[string]any{"error": err.Error()})
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable", "kind": "backend"})
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) ChangeRole(c *gin.Context) {
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and role are required", "kind": "bad_request"})
		return
	}
	cred, ok := actingCredential(c)
	if !ok {
		return
	}

	attempt, err := h.sync.ChangeRole(c.Request.Context(), cred, req.Email, req.Role)
	if err != nil {
		respondError(c, err, attempt)
		return
	}
	c.JSON(http.StatusOK, attemptBody(attempt))
}

// RetryMirror repeats the mirror write after a role change whose IdP part
// already succeeded.
func (h *Handler) RetryMirror(c *gin.Context) {
	var req retryMirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required", "kind": "bad_request"})
		return
	}
	cred, ok := actingCredential(c)
	if !ok {
		return
	}

	attempt, err := h.sync.RetryMirror(c.Request.Context(), cred, c.Param("id"), req.Role)
	if err != nil {
		respondError(c, err, attempt)
		return
	}
	c.JSON(http.StatusOK, attemptBody(attempt))
}

func (h *Handler) ProvisionUser(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, password and role are required", "kind": "bad_request"})
		return
	}
	cred, ok := actingCredential(c)
	if !ok {
		return
	}

	attempt, err := h.sync.ProvisionUser(c.Request.Context(), cred, auth.NewUser{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		Connection: h.opts.Connection,
	}, req.Role)
	if err != nil {
		respondError(c, err, attempt)
		return
	}
	c.JSON(http.StatusCreated, attemptBody(attempt))
}

// ChangePassword sets a new password on the IdP. Subjects may change their
// own password; changing someone else's requires the admin role even when
// admin routes are not enforced.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required", "kind": "bad_request"})
		return
	}
	sess, _ := middleware.SessionFromContext(c.Request.Context())
	email := strings.TrimSpace(req.Email)

	self := strings.EqualFold(email, sess.Subject.Email)
	if !self && !sess.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required", "kind": "forbidden"})
		return
	}

	ctx := c.Request.Context()
	svc, err := h.tokens.ServiceCredential(ctx)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	target, err := h.users.FindByEmail(ctx, svc, email)
	if err == nil && target == nil {
		err = auth.ErrUserNotFound
	}
	if err != nil {
		respondError(c, err, nil)
		return
	}
	if err := h.users.ChangePassword(ctx, svc, target.ID, req.Password, h.opts.Connection); err != nil {
		respondError(c, err, nil)
		return
	}

	logger.Info("password changed", map[string]any{
		"subject": target.ID,
		"by":      sess.Subject.ID,
	})
	c.Status(http.StatusNoContent)
}
