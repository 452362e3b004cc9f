package handler

import (
	"errors"
	"net/http"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/auth/rolesync"
	"role-sync-service/internal/logger"

	"github.com/gin-gonic/gin"
)

var messages = map[string]string{
	"invalid_credentials":  "invalid email or password",
	"credential":           "identity provider unavailable",
	"ambiguous_lookup":     "several accounts share this email, contact an operator",
	"user_not_found":       "user not found",
	"no_role_assigned":     "account has no role assigned",
	"multiple_roles":       "account has conflicting roles, contact an operator",
	"unknown_role":         "unknown role",
	"role_mutation_add":    "role change failed, nothing was changed",
	"role_mutation_remove": "role change incomplete, repeat the request",
	"mirror_write":         "role changed on the identity provider but the application was not updated",
	"conflict":             "another change for this user is in progress",
	"directory":            "identity provider unavailable",
	"internal":             "internal error",
}

func statusFor(kind string) int {
	switch kind {
	case "invalid_credentials":
		return http.StatusUnauthorized
	case "user_not_found":
		return http.StatusNotFound
	case "unknown_role":
		return http.StatusBadRequest
	case "ambiguous_lookup", "no_role_assigned", "multiple_roles", "conflict":
		return http.StatusConflict
	case "credential", "directory", "mirror_write", "role_mutation_add", "role_mutation_remove":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON body carrying its kind and, when the
// failure came out of a synchronization attempt, how far the attempt got.
func respondError(c *gin.Context, err error, a *rolesync.Attempt) {
	kind := auth.Kind(err)
	msg, ok := messages[kind]
	if !ok {
		msg = messages["internal"]
	}

	body := gin.H{"error": msg, "kind": kind}
	if a != nil {
		body["attempt"] = a.ID
		body["state"] = string(a.LastGood())
		if a.SubjectID != "" {
			body["subject"] = a.SubjectID
		}
	}

	var mwe *auth.MirrorWriteError
	if errors.As(err, &mwe) && a != nil && a.Reached(rolesync.StateRolesMutated) {
		body["idp_committed"] = true
		body["retry"] = "PUT /api/users/" + mwe.SubjectID + "/mirror"
	}

	if kind == "internal" {
		logger.Error("request failed", map[string]any{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}

	c.JSON(statusFor(kind), body)
}

func attemptBody(a *rolesync.Attempt) gin.H {
	return gin.H{
		"attempt": a.ID,
		"subject": a.SubjectID,
		"email":   a.Email,
		"role":    a.Role.Name,
		"isAdmin": a.IsAdmin,
		"state":   string(a.State()),
	}
}
