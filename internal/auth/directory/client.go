package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"role-sync-service/internal/auth"

	"golang.org/x/oauth2"
)

// Client is a read/write facade over the IdP management API's user and
// role-assignment resources. Every call takes an explicit service credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
	roles      auth.RoleSet
	timeout    time.Duration
	now        func() time.Time
}

// New returns a client for the management API rooted at baseURL
// (the API lives under baseURL + "/api/v2").
func New(baseURL string, roles auth.RoleSet, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("directory base url is required")
	}
	if roles.Admin.ID == "" || roles.User.ID == "" {
		return nil, errors.New("directory requires both recognized role ids")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := httpClient.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v2",
		httpClient: httpClient,
		roles:      roles,
		timeout:    timeout,
		now:        time.Now,
	}, nil
}

type userResponse struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"email_verified"`
}

func (u userResponse) subject() *auth.Subject {
	return &auth.Subject{
		ID:            u.UserID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
	}
}

type rolesRequest struct {
	Roles []string `json:"roles"`
}

// FindByEmail returns the unique subject registered with email, or nil when
// there is none. More than one match is a directory integrity fault and
// yields ErrAmbiguousLookup.
func (c *Client) FindByEmail(ctx context.Context, cred *auth.Credential, email string) (*auth.Subject, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", auth.ErrUserNotFound)
	}

	var users []userResponse
	query := url.Values{"email": {strings.ToLower(email)}}
	if err := c.do(ctx, cred, http.MethodGet, "/users-by-email", query, nil, &users); err != nil {
		return nil, fmt.Errorf("%w: users by email: %w", auth.ErrDirectory, err)
	}

	switch len(users) {
	case 0:
		return nil, nil
	case 1:
		return users[0].subject(), nil
	default:
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.UserID)
		}
		return nil, fmt.Errorf("%w: %d subjects share email %s: %s",
			auth.ErrAmbiguousLookup, len(users), email, strings.Join(ids, ", "))
	}
}

// FindBySubjectID returns the subject with id, or nil when the IdP has none.
func (c *Client) FindBySubjectID(ctx context.Context, cred *auth.Credential, id string) (*auth.Subject, error) {
	var user userResponse
	err := c.do(ctx, cred, http.MethodGet, "/users/"+url.PathEscape(id), nil, nil, &user)

	var apiErr *auth.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %w", auth.ErrDirectory, err)
	}
	return user.subject(), nil
}

// ListRoles returns every role assigned to subjectID, recognized or not,
// in the order the IdP returns them.
func (c *Client) ListRoles(ctx context.Context, cred *auth.Credential, subjectID string) ([]auth.Role, error) {
	var roles []auth.Role
	if err := c.do(ctx, cred, http.MethodGet, c.rolesPath(subjectID), nil, nil, &roles); err != nil {
		return nil, fmt.Errorf("%w: list roles: %w", auth.ErrDirectory, err)
	}
	return roles, nil
}

// AddRoles assigns roleIDs to subjectID.
func (c *Client) AddRoles(ctx context.Context, cred *auth.Credential, subjectID string, roleIDs []string) error {
	if len(roleIDs) == 0 {
		return nil
	}
	err := c.do(ctx, cred, http.MethodPost, c.rolesPath(subjectID), nil, rolesRequest{Roles: roleIDs}, nil)
	if err != nil {
		return &auth.RoleMutationError{SubjectID: subjectID, Phase: auth.PhaseAdd, RoleIDs: roleIDs, Err: err}
	}
	return nil
}

// RemoveRoles unassigns roleIDs from subjectID.
func (c *Client) RemoveRoles(ctx context.Context, cred *auth.Credential, subjectID string, roleIDs []string) error {
	if len(roleIDs) == 0 {
		return nil
	}
	err := c.do(ctx, cred, http.MethodDelete, c.rolesPath(subjectID), nil, rolesRequest{Roles: roleIDs}, nil)
	if err != nil {
		return &auth.RoleMutationError{SubjectID: subjectID, Phase: auth.PhaseRemove, RoleIDs: roleIDs, Err: err}
	}
	return nil
}

// CreateUser creates a subject on the IdP.
func (c *Client) CreateUser(ctx context.Context, cred *auth.Credential, u auth.NewUser) (*auth.Subject, error) {
	body := struct {
		Email         string `json:"email"`
		Password      string `json:"password"`
		Connection    string `json:"connection"`
		Name          string `json:"name,omitempty"`
		EmailVerified bool   `json:"email_verified"`
	}{
		Email:         u.Email,
		Password:      u.Password,
		Connection:    u.Connection,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
	}

	var created userResponse
	if err := c.do(ctx, cred, http.MethodPost, "/users", nil, body, &created); err != nil {
		return nil, fmt.Errorf("%w: create user: %w", auth.ErrDirectory, err)
	}
	if created.UserID == "" {
		return nil, fmt.Errorf("%w: create user: response has no user_id", auth.ErrDirectory)
	}
	return created.subject(), nil
}

// ChangePassword sets a new password for subjectID on the given connection.
func (c *Client) ChangePassword(ctx context.Context, cred *auth.Credential, subjectID, password, connection string) error {
	body := struct {
		Password   string `json:"password"`
		Connection string `json:"connection"`
	}{Password: password, Connection: connection}

	if err := c.do(ctx, cred, http.MethodPatch, "/users/"+url.PathEscape(subjectID), nil, body, nil); err != nil {
		return fmt.Errorf("%w: change password: %w", auth.ErrDirectory, err)
	}
	return nil
}

func (c *Client) rolesPath(subjectID string) string {
	return "/users/" + url.PathEscape(subjectID) + "/roles"
}

// do performs one management API request authenticated with the service
// credential. A non-2xx answer is returned as *auth.APIError.
func (c *Client) do(
	ctx context.Context,
	cred *auth.Credential,
	method, path string,
	query url.Values,
	in, out any,
) error {
	if err := auth.RequireKind(cred, auth.KindService, c.now()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), cred.TokenSource())
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &auth.APIError{
			Method:     method,
			URL:        c.baseURL + path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
