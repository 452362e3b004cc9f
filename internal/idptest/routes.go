package idptest

import (
	"net/http"
	"slices"
	"strings"

	"role-sync-service/internal/auth"

	"github.com/gin-gonic/gin"
)

type userJSON struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

type rolesBody struct {
	Roles []string `json:"roles"`
}

func toJSON(u *User) userJSON {
	return userJSON{UserID: u.ID, Email: u.Email, Name: u.Name, EmailVerified: u.EmailVerified}
}

func (s *Server) routes() http.Handler {
	r := gin.New()

	r.GET("/.well-known/openid-configuration", s.discovery)
	r.POST("/oauth/token", s.token)
	r.GET("/userinfo", s.userinfo)

	mgmt := r.Group("/api/v2", s.requireKind(auth.KindService))
	mgmt.GET("/users-by-email", s.usersByEmail)
	mgmt.POST("/users", s.createUser)
	mgmt.GET("/users/:id", s.getUser)
	mgmt.PATCH("/users/:id", s.updateUser)
	mgmt.GET("/users/:id/roles", s.listRoles)
	mgmt.POST("/users/:id/roles", s.addRoles)
	mgmt.DELETE("/users/:id/roles", s.removeRoles)

	backend := r.Group(BackendPath, s.requireKind(auth.KindSubject))
	backend.PUT("/users/:id/role", s.mirrorWrite)
	backend.GET("/users", s.mirrorList)

	return r
}

func (s *Server) discovery(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/oauth/token",
		"userinfo_endpoint":                     s.URL + "/userinfo",
		"jwks_uri":                              s.URL + "/.well-known/jwks.json",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

// fail answers with an injected failure for op, if one is queued.
// Must be called with mu held.
func (s *Server) fail(c *gin.Context, call Call) bool {
	status := s.takeFailure(call.Op)
	if status == 0 {
		return false
	}
	call.Status = status
	s.record(call)
	c.AbortWithStatusJSON(status, gin.H{"error": "injected_failure", "statusCode": status})
	return true
}

func (s *Server) token(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant := c.PostForm("grant_type")
	call := Call{Op: "token:" + grant, Audience: c.PostForm("audience")}

	if s.fail(c, call) {
		return
	}

	if c.PostForm("client_id") != ClientID || c.PostForm("client_secret") != ClientSecret {
		call.Status = http.StatusUnauthorized
		s.record(call)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client", "error_description": "Unauthorized"})
		return
	}

	var tok string
	switch grant {
	case "client_credentials":
		tok = s.mint(auth.KindService, ClientID)
	case "password":
		var found *User
		for _, u := range s.users {
			if strings.EqualFold(u.Email, c.PostForm("username")) && u.Password == c.PostForm("password") {
				found = u
				break
			}
		}
		if found == nil {
			call.Status = http.StatusForbidden
			s.record(call)
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid_grant", "error_description": "Wrong email or password."})
			return
		}
		call.SubjectID = found.ID
		tok = s.mint(auth.KindSubject, found.ID)
	default:
		call.Status = http.StatusBadRequest
		s.record(call)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}

	call.Status = http.StatusOK
	s.record(call)
	c.JSON(http.StatusOK, gin.H{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   int(s.TokenTTL.Seconds()),
	})
}

func (s *Server) userinfo(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Op: OpUserInfo}
	if s.fail(c, call) {
		return
	}

	t, ok := s.bearer(c.Request)
	if !ok || t.kind != auth.KindSubject {
		call.Status = http.StatusUnauthorized
		s.record(call)
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}
	u := s.users[t.subjectID]

	call.SubjectID = u.ID
	call.Status = http.StatusOK
	s.record(call)
	c.JSON(http.StatusOK, gin.H{
		"sub":            u.ID,
		"email":          u.Email,
		"name":           u.Name,
		"email_verified": u.EmailVerified,
	})
}

func (s *Server) requireKind(kind auth.CredentialKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		t, ok := s.bearer(c.Request)
		s.mu.Unlock()

		if !ok || t.kind != kind {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"statusCode": 401, "error": "Unauthorized"})
			return
		}
		c.Set("subject", t.subjectID)
		c.Next()
	}
}

func (s *Server) usersByEmail(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Op: OpUsersByEmail}
	if s.fail(c, call) {
		return
	}

	out := []userJSON{}
	for _, id := range s.order {
		if u := s.users[id]; strings.EqualFold(u.Email, c.Query("email")) {
			out = append(out, toJSON(u))
		}
	}

	call.Status = http.StatusOK
	s.record(call)
	c.JSON(http.StatusOK, out)
}

func (s *Server) getUser(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Op: OpGetUser}
	if s.fail(c, call) {
		return
	}

	u, ok := s.users[c.Param("id")]
	if !ok {
		call.Status = http.StatusNotFound
		s.record(call)
		c.JSON(http.StatusNotFound, gin.H{"statusCode": 404, "error": "Not Found"})
		return
	}

	call.SubjectID = u.ID
	call.Status = http.StatusOK
	s.record(call)
	c.JSON(http.StatusOK, toJSON(u))
}

func (s *Server) createUser(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Op: OpCreateUser}
	if s.fail(c, call) {
		return
	}

	var req struct {
		Email         string `json:"email"`
		Password      string `json:"password"`
		Connection    string `json:"connection"`
		Name          string `json:"name"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" || req.Connection == "" {
		call.Status = http.StatusBadRequest
		s.record(call)
		c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400, "error": "Bad Request"})
		return
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, req.Email) {
			call.Status = http.StatusConflict
			s.record(call)
			c.JSON(http.StatusConflict, gin.H{"statusCode": 409, "message": "The user already exists."})
			return
		}
	}

	s.seq++
	u := &User{
		ID:            "auth0|" + strings.ReplaceAll(strings.ToLower(req.Email), "@", "-at-"),
		Email:         req.Email,
		Name:          req.Name,
		Password:      req.Password,
		EmailVerified: req.EmailVerified,
	}
	s.users[u.ID] = u
	s.order = append(s.order, u.ID)
	s.assignments[u.ID] = nil

	call.SubjectID = u.ID
	call.Status = http.StatusCreated
	s.record(call)
	c.JSON(http.StatusCreated, toJSON(u))
}

func (s *Server) updateUser(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Op: OpUpdateUser, SubjectID: c.Param("id")}
	if s.fail(c, call) {
		return
	}

	u, ok := s.users[c.Param("id")]
	if !ok {
		call.Status = http.StatusNotFound
		s.record(call)
		c.JSON(http.StatusNotFound, gin.H{"statusCode": 404})
		return
	}

	var req struct {
		Password   string `json:"password"`
		Connection string `json:"connection"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" || req.Connection == "" {
		call.Status = http.StatusBadRequest
		s.record(call)
		c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400})
		return
	}
	u.Password = req.Password

	call.Status = http.StatusOK
	s.record(call)
	c.JSON(http.StatusOK, toJSON(u))
}

func (s *Server) listRoles(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Param("id")
	call := Call{Op: OpListRoles, SubjectID: id}
	if s.fail(c, call) {
		return
	}

	if _, ok := s.users[id]; !ok {
		call.Status = http.StatusNotFound
		s.record(call)
		c.JSON(http.StatusNotFound, gin.H{"statusCode": 404})
		return
	}

	out := []auth.Role{}
	for _, rid := range s.assignments[id] {
		out = append(out, s.roles[rid])
	}

	call.Status = http.StatusOK
	s.record(call)
	c.JSON(http.StatusOK, out)
}

func (s *Server) addRoles(c *gin.Context) {
	s.mutateRoles(c, OpAddRoles, func(current, ids []string) []string {
		for _, id := range ids {
			if !slices.Contains(current, id) {
				current = append(current, id)
			}
		}
		return current
	})
}

func (s *Server) removeRoles(c *gin.Context) {
	s.mutateRoles(c, OpRemoveRoles, func(current, ids []string) []string {
		return slices.DeleteFunc(current, func(id string) bool {
			return slices.Contains(ids, id)
		})
	})
}

func (s *Server) mutateRoles(c *gin.Context, op string, apply func(current, ids []string) []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Param("id")
	var body rolesBody
	_ = c.ShouldBindJSON(&body)

	call := Call{Op: op, SubjectID: id, RoleIDs: body.Roles}
	if s.fail(c, call) {
		return
	}

	if _, ok := s.users[id]; !ok {
		call.Status = http.StatusNotFound
		s.record(call)
		c.JSON(http.StatusNotFound, gin.H{"statusCode": 404})
		return
	}
	for _, rid := range body.Roles {
		if _, ok := s.roles[rid]; !ok {
			call.Status = http.StatusNotFound
			s.record(call)
			c.JSON(http.StatusNotFound, gin.H{"statusCode": 404, "message": "Role not found"})
			return
		}
	}
	if len(body.Roles) == 0 {
		call.Status = http.StatusBadRequest
		s.record(call)
		c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400, "message": "roles must not be empty"})
		return
	}

	s.assignments[id] = apply(s.assignments[id], body.Roles)

	call.Status = http.StatusNoContent
	s.record(call)
	c.Status(http.StatusNoContent)
}

func (s *Server) mirrorWrite(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Param("id")
	call := Call{Op: OpMirrorWrite, SubjectID: id}
	if s.fail(c, call) {
		return
	}

	var body struct {
		IsAdmin *bool `json:"isAdmin"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.IsAdmin == nil {
		call.Status = http.StatusBadRequest
		s.record(call)
		c.JSON(http.StatusBadRequest, gin.H{"error": "isAdmin required"})
		return
	}

	s.mirror[id] = MirrorEntry{IsAdmin: *body.IsAdmin, WrittenBy: c.GetString("subject")}

	call.Status = http.StatusOK
	s.record(call)
	c.JSON(http.StatusOK, gin.H{"sub": id, "isAdmin": *body.IsAdmin})
}

func (s *Server) mirrorList(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Op: OpMirrorList}
	if s.fail(c, call) {
		return
	}

	out := []auth.MirrorUser{}
	for i, id := range s.order {
		u := s.users[id]
		out = append(out, auth.MirrorUser{
			ID:      int64(i + 1),
			Name:    u.Name,
			Email:   u.Email,
			Sub:     u.ID,
			IsAdmin: s.mirror[id].IsAdmin,
		})
	}

	call.Status = http.StatusOK
	s.record(call)
	c.JSON(http.StatusOK, out)
}
