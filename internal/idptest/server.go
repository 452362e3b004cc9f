// Package idptest runs an in-memory IdP (OIDC discovery, token endpoint,
// userinfo, Auth0-style management API) and the application backend's
// mirror endpoints on one httptest server.
package idptest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"role-sync-service/internal/auth"

	"github.com/gin-gonic/gin"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	APIAudience  = "https://api.example.com"
	BackendPath  = "/backend"
)

// Operation names used by FailNext and the call log.
const (
	OpPasswordGrant = "token:password"
	OpServiceGrant  = "token:client_credentials"
	OpUserInfo      = "userinfo"
	OpUsersByEmail  = "users-by-email"
	OpGetUser       = "get-user"
	OpCreateUser    = "create-user"
	OpUpdateUser    = "update-user"
	OpListRoles     = "list-roles"
	OpAddRoles      = "add-roles"
	OpRemoveRoles   = "remove-roles"
	OpMirrorWrite   = "mirror-write"
	OpMirrorList    = "mirror-list"
)

type User struct {
	ID            string
	Email         string
	Name          string
	Password      string
	EmailVerified bool
}

// Call is one request handled by the server.
type Call struct {
	Op        string
	SubjectID string
	RoleIDs   []string
	Audience  string
	Status    int
	// RolesAfter is the subject's role set once the call completed.
	RolesAfter []string
}

// MirrorEntry is what the backend holds for one subject.
type MirrorEntry struct {
	IsAdmin bool
	// WrittenBy is the subject id of the credential that wrote the entry.
	WrittenBy string
}

type issuedToken struct {
	kind      auth.CredentialKind
	subjectID string
	expiresAt time.Time
}

type Server struct {
	*httptest.Server

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration

	mu          sync.Mutex
	users       map[string]*User
	order       []string
	roles       map[string]auth.Role
	assignments map[string][]string
	tokens      map[string]issuedToken
	mirror      map[string]MirrorEntry
	calls       []Call
	failures    map[string][]int
	seq         int
}

func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		TokenTTL:    time.Hour,
		users:       map[string]*User{},
		roles:       map[string]auth.Role{},
		assignments: map[string][]string{},
		tokens:      map[string]issuedToken{},
		mirror:      map[string]MirrorEntry{},
		failures:    map[string][]int{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// Issuer is the issuer URL advertised by discovery.
func (s *Server) Issuer() string {
	return s.URL
}

// BackendURL is the base URL of the mirror endpoints.
func (s *Server) BackendURL() string {
	return s.URL + BackendPath
}

func (s *Server) AddRole(r auth.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
}

// AddUser registers a subject holding roleIDs, in that order.
func (s *Server) AddUser(u User, roleIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
	s.order = append(s.order, u.ID)
	s.assignments[u.ID] = append([]string(nil), roleIDs...)
}

// RolesOf returns the role ids currently assigned to subjectID.
func (s *Server) RolesOf(subjectID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.assignments[subjectID]...)
}

// Mirror returns the backend's entry for subjectID.
func (s *Server) Mirror(subjectID string) (MirrorEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.mirror[subjectID]
	return e, ok
}

// SetMirror seeds the backend's entry for subjectID.
func (s *Server) SetMirror(subjectID string, isAdmin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror[subjectID] = MirrorEntry{IsAdmin: isAdmin}
}

// UserByEmail returns the first subject registered with email.
func (s *Server) UserByEmail(email string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if u := s.users[id]; strings.EqualFold(u.Email, email) {
			return *u, true
		}
	}
	return User{}, false
}

// FailNext makes the next request for op answer with status.
// Repeated calls queue further failures.
func (s *Server) FailNext(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], status)
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Ops returns the operation names of successful calls, in order.
func (s *Server) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ops []string
	for _, c := range s.calls {
		if c.Status < 300 {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

func (s *Server) CountCalls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// IssueToken mints a token directly, bypassing the grant endpoints.
func (s *Server) IssueToken(kind auth.CredentialKind, subjectID string) *auth.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.mint(kind, subjectID)
	return &auth.Credential{
		Kind:        kind,
		AccessToken: tok,
		TokenType:   "Bearer",
		ExpiresAt:   s.tokens[tok].expiresAt,
		Principal:   subjectID,
	}
}

// mint must be called with mu held.
func (s *Server) mint(kind auth.CredentialKind, subjectID string) string {
	s.seq++
	tok := fmt.Sprintf("tok-%s-%d", kind, s.seq)
	s.tokens[tok] = issuedToken{
		kind:      kind,
		subjectID: subjectID,
		expiresAt: time.Now().Add(s.TokenTTL),
	}
	return tok
}

// takeFailure must be called with mu held.
func (s *Server) takeFailure(op string) int {
	queue := s.failures[op]
	if len(queue) == 0 {
		return 0
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

// record must be called with mu held.
func (s *Server) record(c Call) {
	if c.SubjectID != "" {
		c.RolesAfter = slices.Clone(s.assignments[c.SubjectID])
	}
	s.calls = append(s.calls, c)
}

// bearer resolves the Authorization header. Must be called with mu held.
func (s *Server) bearer(r *http.Request) (issuedToken, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return issuedToken{}, false
	}
	t, ok := s.tokens[strings.TrimPrefix(h, "Bearer ")]
	if !ok || time.Now().After(t.expiresAt) {
		return issuedToken{}, false
	}
	return t, true
}
