package mirror

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
	"role-sync-service/internal/logger"

	"golang.org/x/oauth2"
)

// Client writes the isAdmin flag the application backend keeps per subject.
// It always acts with the credential of the subject performing the change.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := httpClient.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		now:        time.Now,
	}, nil
}

// SetIsAdmin overwrites the backend's flag for subjectID. Any failure is
// returned as *auth.MirrorWriteError.
func (c *Client) SetIsAdmin(ctx context.Context, actingCred *auth.Credential, subjectID string, isAdmin bool) error {
	fail := func(status int, err error) error {
		return &auth.MirrorWriteError{SubjectID: subjectID, IsAdmin: isAdmin, StatusCode: status, Err: err}
	}

	if err := auth.RequireKind(actingCred, auth.KindSubject, c.now()); err != nil {
		return fail(0, err)
	}

	raw, err := json.Marshal(struct {
		IsAdmin bool `json:"isAdmin"`
	}{isAdmin})
	if err != nil {
		return fail(0, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/users/"+url.PathEscape(subjectID)+"/role", bytes.NewReader(raw))
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client(ctx, actingCred).Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, apiError(req, resp))
	}

	logger.Info("mirror updated", map[string]any{
		"subject":  subjectID,
		"is_admin": isAdmin,
	})
	return nil
}

// ListUsers returns the backend's user listing. It is for display only.
func (c *Client) ListUsers(ctx context.Context, actingCred *auth.Credential) ([]auth.MirrorUser, error) {
	if err := auth.RequireKind(actingCred, auth.KindSubject, c.now()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client(ctx, actingCred).Do(req)
	if err != nil {
		return nil, fmt.Errorf("list mirror users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list mirror users: %w", apiError(req, resp))
	}

	var users []auth.MirrorUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("decode mirror users: %w", err)
	}
	return users, nil
}

func (c *Client) client(ctx context.Context, cred *auth.Credential) *http.Client {
	return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), cred.TokenSource())
}

func apiError(req *http.Request, resp *http.Response) *auth.APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &auth.APIError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
