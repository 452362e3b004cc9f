package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// unknownExpiryLifetime is how long a service token issued without
// expires_in is reused.
const unknownExpiryLifetime = 5 * time.Minute

// Config describes the client registered with the IdP.
type Config struct {
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint

	// APIAudience is requested for subject tokens (password grant).
	APIAudience string
	// ManagementAudience is requested for service tokens (client credentials).
	ManagementAudience string
	Scopes             []string

	// Timeout bounds every token request.
	Timeout time.Duration
	// ExpiryMargin is how long before expiry a cached service token is replaced.
	ExpiryMargin time.Duration
}

// Broker acquires subject and service credentials from the IdP token
// endpoint. The service credential is cached in memory; subject credentials
// are never cached.
type Broker struct {
	cfg        Config
	httpClient *http.Client
	service    clientcredentials.Config
	password   oauth2.Config
	now        func() time.Time

	mu     sync.Mutex
	cached *auth.Credential
	group  singleflight.Group
}

func New(cfg Config, httpClient *http.Client) (*Broker, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.Endpoint.TokenURL == "" {
		return nil, errors.New("token broker config missing required fields")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("token broker timeout must be positive")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	endpoint := cfg.Endpoint
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	service := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     endpoint.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.ManagementAudience != "" {
		service.EndpointParams = url.Values{"audience": {cfg.ManagementAudience}}
	}

	var extra url.Values
	if cfg.APIAudience != "" {
		extra = url.Values{"audience": {cfg.APIAudience}}
	}

	return &Broker{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   httpClient.Timeout,
			Transport: newFormParamTransport(httpClient.Transport, extra),
		},
		service: service,
		password: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		now: time.Now,
	}, nil
}

// ServiceCredential returns a management-scope credential obtained through
// the client-credentials grant. A cached credential is reused until it gets
// within ExpiryMargin of expiring; concurrent refreshes share one request.
func (b *Broker) ServiceCredential(ctx context.Context) (*auth.Credential, error) {
	if c := b.cachedService(); c != nil {
		return c, nil
	}

	ch := b.group.DoChan("service", func() (any, error) {
		if c := b.cachedService(); c != nil {
			return c, nil
		}

		// shared by every waiter; it outlives the caller that started it
		c, err := b.fetchService(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.cached = c
		b.mu.Unlock()

		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for service token: %w", auth.ErrCredential, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*auth.Credential), nil
	}
}

func (b *Broker) cachedService() *auth.Credential {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != nil && b.cached.ValidFor(b.now(), b.cfg.ExpiryMargin) {
		return b.cached
	}
	return nil
}

func (b *Broker) fetchService(ctx context.Context) (*auth.Credential, error) {
	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	tok, err := b.service.Token(ctx)
	if err != nil {
		logger.Error("service token exchange failed", map[string]any{
			"client_id": b.cfg.ClientID,
			"audience":  b.cfg.ManagementAudience,
			"reason":    retrieveErrorCode(err),
		})
		return nil, fmt.Errorf("%w: client credentials grant: %w", auth.ErrCredential, err)
	}

	logger.Debug("service token issued", map[string]any{
		"audience":    b.cfg.ManagementAudience,
		"expiry_unix": tok.Expiry.Unix(),
	})

	c := b.credential(auth.KindService, tok, b.cfg.ManagementAudience, b.cfg.ClientID)
	if c.ExpiresAt.IsZero() {
		// no expires_in in the response
		c.ExpiresAt = b.now().Add(b.cfg.ExpiryMargin + unknownExpiryLifetime)
	}
	return c, nil
}

// SubjectCredential exchanges an end user's password for a subject-scope
// credential through the password grant. The password is carried in flight
// only; callers must use a confidential transport.
func (b *Broker) SubjectCredential(ctx context.Context, email, password string) (*auth.Credential, error) {
	if email == "" || password == "" {
		return nil, auth.ErrInvalidCredentials
	}

	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	tok, err := b.password.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		if rejectedLogin(err) {
			logger.Warn("password grant rejected", map[string]any{
				"email":  email,
				"reason": retrieveErrorCode(err),
			})
			return nil, fmt.Errorf("%w: %w", auth.ErrInvalidCredentials, err)
		}
		logger.Error("password grant failed", map[string]any{
			"email":  email,
			"reason": retrieveErrorCode(err),
		})
		return nil, fmt.Errorf("%w: password grant: %w", auth.ErrCredential, err)
	}

	return b.credential(auth.KindSubject, tok, b.cfg.APIAudience, email), nil
}

func (b *Broker) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient), cancel
}

func (b *Broker) credential(kind auth.CredentialKind, tok *oauth2.Token, audience, principal string) *auth.Credential {
	return &auth.Credential{
		Kind:        kind,
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		Audience:    audience,
		ExpiresAt:   tok.Expiry,
		Principal:   principal,
	}
}

// rejectedLogin reports whether the IdP refused the end user's password as
// opposed to failing for another reason.
func rejectedLogin(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_user_password", "access_denied":
		return true
	case "invalid_client":
		// our client registration is wrong, not the user's password
		return false
	}
	if re.Response != nil {
		return re.Response.StatusCode == http.StatusUnauthorized || re.Response.StatusCode == http.StatusForbidden
	}
	return false
}

func retrieveErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode != "" {
			return re.ErrorCode
		}
		if re.Response != nil {
			return re.Response.Status
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "transport"
}
