package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/auth/directory"
	"role-sync-service/internal/auth/mirror"
	"role-sync-service/internal/auth/provider"
	"role-sync-service/internal/auth/rolesync"
	"role-sync-service/internal/auth/token"
	"role-sync-service/internal/idptest"
	"role-sync-service/internal/middleware"
	"role-sync-service/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var (
	adminRole = auth.Role{ID: "rol_admin", Name: "Admin"}
	userRole  = auth.Role{ID: "rol_user", Name: "User"}
)

const connection = "Username-Password-Authentication"

type env struct {
	idp *idptest.Server
	api *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, Options{EnforceAdmin: true})
}

func newEnvWith(t *testing.T, opts Options) *env {
	t.Helper()
	ctx := context.Background()

	idp := idptest.New(t)
	idp.AddRole(adminRole)
	idp.AddRole(userRole)
	idp.AddUser(idptest.User{ID: "auth0|admin", Email: "admin@example.com", Name: "Ada", Password: "admin-pw"}, adminRole.ID)
	idp.AddUser(idptest.User{ID: "auth0|bob", Email: "bob@example.com", Name: "Bob", Password: "bob-pw"}, userRole.ID)

	hc := &http.Client{Timeout: 5 * time.Second}
	roles := auth.NewRoleSet(adminRole.ID, adminRole.Name, userRole.ID, userRole.Name)

	p, err := provider.New(ctx, idp.Issuer(), hc)
	require.NoError(t, err)
	broker, err := token.New(token.Config{
		ClientID:           idptest.ClientID,
		ClientSecret:       idptest.ClientSecret,
		Endpoint:           p.Endpoint(),
		APIAudience:        idptest.APIAudience,
		ManagementAudience: idp.URL + "/api/v2/",
		Timeout:            5 * time.Second,
		ExpiryMargin:       time.Minute,
	}, hc)
	require.NoError(t, err)
	dir, err := directory.New(idp.URL, roles, hc)
	require.NoError(t, err)
	mir, err := mirror.New(idp.BackendURL(), hc)
	require.NoError(t, err)

	syncer, err := rolesync.New(rolesync.Config{
		Tokens:     broker,
		Self:       p,
		Directory:  dir,
		Mirror:     mir,
		Roles:      roles,
		Connection: connection,
	})
	require.NoError(t, err)

	store := session.NewMemoryStore(100, time.Hour)
	cookie := session.CookieOptions{}
	opts.Cookie = cookie
	opts.Connection = connection
	h := NewHandler(broker, syncer, dir, mir, store, opts)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.RegisterRoutes(router, middleware.NewAuthMiddleware(store, cookie))

	api := httptest.NewServer(router)
	t.Cleanup(api.Close)

	return &env{idp: idp, api: api}
}

func (e *env) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func (e *env) do(t *testing.T, c *http.Client, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, e.api.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *env) login(t *testing.T, email, password string) *http.Client {
	t.Helper()
	c := e.client(t)
	status, body := e.do(t, c, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status, body)
	return c
}

func TestLoginAdoptsRoleAndOpensSession(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)

	status, body := e.do(t, c, http.MethodPost, "/auth/login", map[string]string{
		"email": "bob@example.com", "password": "bob-pw",
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "auth0|bob", body["subject"])
	require.Equal(t, "User", body["role"])
	require.Equal(t, false, body["isAdmin"])

	entry, ok := e.idp.Mirror("auth0|bob")
	require.True(t, ok)
	require.False(t, entry.IsAdmin)

	status, body = e.do(t, c, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "bob@example.com", body["email"])
	require.Equal(t, "Bob", body["name"])
	require.Equal(t, "User", body["role"])
}

func TestLoginWrongPassword(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)

	status, body := e.do(t, c, http.MethodPost, "/auth/login", map[string]string{
		"email": "bob@example.com", "password": "nope",
	})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid_credentials", body["kind"])

	status, _ = e.do(t, c, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Zero(t, e.idp.CountCalls(idptest.OpMirrorWrite))
}

func TestLoginWithoutRoleGetsNoSession(t *testing.T) {
	e := newEnv(t)
	e.idp.AddUser(idptest.User{ID: "auth0|carol", Email: "carol@example.com", Password: "carol-pw"})
	c := e.client(t)

	status, body := e.do(t, c, http.MethodPost, "/auth/login", map[string]string{
		"email": "carol@example.com", "password": "carol-pw",
	})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "no_role_assigned", body["kind"])

	status, _ = e.do(t, c, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginRequiresBody(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, e.client(t), http.MethodPost, "/auth/login", map[string]string{"email": "bob@example.com"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "bad_request", body["kind"])
	require.Empty(t, e.idp.Calls())
}

func TestAdminChangesRole(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "admin@example.com", "admin-pw")

	status, body := e.do(t, c, http.MethodPut, "/api/users/role", map[string]string{
		"email": "bob@example.com", "role": "admin",
	})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, true, body["isAdmin"])
	require.Equal(t, "MIRROR_WRITTEN", body["state"])

	require.Equal(t, []string{adminRole.ID}, e.idp.RolesOf("auth0|bob"))
	entry, _ := e.idp.Mirror("auth0|bob")
	require.True(t, entry.IsAdmin)
	require.Equal(t, "auth0|admin", entry.WrittenBy)
}

func TestNonAdminCannotChangeRoles(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "bob@example.com", "bob-pw")

	status, body := e.do(t, c, http.MethodPut, "/api/users/role", map[string]string{
		"email": "bob@example.com", "role": "admin",
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "forbidden", body["kind"])
	require.Zero(t, e.idp.CountCalls(idptest.OpAddRoles))
}

func TestChangeRoleUnknownUser(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "admin@example.com", "admin-pw")

	status, body := e.do(t, c, http.MethodPut, "/api/users/role", map[string]string{
		"email": "ghost@example.com", "role": "user",
	})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "user_not_found", body["kind"])
	require.NotEmpty(t, body["attempt"])
}

func TestMirrorFailureReportsCommittedChangeAndRetrySucceeds(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "admin@example.com", "admin-pw")
	e.idp.FailNext(idptest.OpMirrorWrite, http.StatusServiceUnavailable)

	status, body := e.do(t, c, http.MethodPut, "/api/users/role", map[string]string{
		"email": "bob@example.com", "role": "admin",
	})
	require.Equal(t, http.StatusBadGateway, status)
	require.Equal(t, "mirror_write", body["kind"])
	require.Equal(t, true, body["idp_committed"])
	require.Equal(t, "ROLES_MUTATED", body["state"])
	require.Equal(t, []string{adminRole.ID}, e.idp.RolesOf("auth0|bob"))

	status, body = e.do(t, c, http.MethodPut, "/api/users/auth0%7Cbob/mirror", map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, status, body)

	entry, _ := e.idp.Mirror("auth0|bob")
	require.True(t, entry.IsAdmin)
	require.Equal(t, 1, e.idp.CountCalls(idptest.OpAddRoles))
}

func TestProvisionUser(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "admin@example.com", "admin-pw")

	status, body := e.do(t, c, http.MethodPost, "/api/users", map[string]string{
		"email": "dora@example.com", "password": "initial-pw", "name": "Dora", "role": "user",
	})
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "auth0|dora-at-example.com", body["subject"])

	require.Equal(t, []string{userRole.ID}, e.idp.RolesOf("auth0|dora-at-example.com"))

	// the new subject can log in and is classified as a user
	newcomer := e.login(t, "dora@example.com", "initial-pw")
	status, body = e.do(t, newcomer, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["isAdmin"])
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	bob := e.login(t, "bob@example.com", "bob-pw")

	status, _ := e.do(t, bob, http.MethodPatch, "/api/users/password", map[string]string{
		"email": "admin@example.com", "password": "hijack",
	})
	require.Equal(t, http.StatusForbidden, status)

	status, _ = e.do(t, bob, http.MethodPatch, "/api/users/password", map[string]string{
		"email": "bob@example.com", "password": "bob-pw-2",
	})
	require.Equal(t, http.StatusNoContent, status)

	u, _ := e.idp.UserByEmail("bob@example.com")
	require.Equal(t, "bob-pw-2", u.Password)
	admin, _ := e.idp.UserByEmail("admin@example.com")
	require.Equal(t, "admin-pw", admin.Password)
}

func TestChangeOthersPasswordNeedsAdminWithoutEnforcement(t *testing.T) {
	e := newEnvWith(t, Options{EnforceAdmin: false})
	bob := e.login(t, "bob@example.com", "bob-pw")

	status, body := e.do(t, bob, http.MethodPatch, "/api/users/password", map[string]string{
		"email": "admin@example.com", "password": "hijack",
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "forbidden", body["kind"])
	admin, _ := e.idp.UserByEmail("admin@example.com")
	require.Equal(t, "admin-pw", admin.Password)

	ada := e.login(t, "admin@example.com", "admin-pw")
	status, _ = e.do(t, ada, http.MethodPatch, "/api/users/password", map[string]string{
		"email": "bob@example.com", "password": "reset-by-admin",
	})
	require.Equal(t, http.StatusNoContent, status)
	u, _ := e.idp.UserByEmail("bob@example.com")
	require.Equal(t, "reset-by-admin", u.Password)
}

func TestListUsers(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "admin@example.com", "admin-pw")

	req, err := http.NewRequest(http.MethodGet, e.api.URL+"/api/users", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var users []auth.MirrorUser
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	require.Len(t, users, 2)
	require.True(t, users[0].IsAdmin)
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	c := e.login(t, "bob@example.com", "bob-pw")

	status, _ := e.do(t, c, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = e.do(t, c, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestStatusForEveryKind(t *testing.T) {
	for kind := range messages {
		require.NotZero(t, statusFor(kind), kind)
	}
	require.Equal(t, http.StatusInternalServerError, statusFor("internal"))
	require.Equal(t, http.StatusConflict, statusFor(auth.Kind(auth.ErrConflict)))
}
