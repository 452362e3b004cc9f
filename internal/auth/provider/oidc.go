package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/logger"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const defaultTimeout = 10 * time.Second

// Provider is the discovered OIDC surface of the IdP: its token endpoint
// and the userinfo self-lookup. It makes no authorization decisions.
type Provider struct {
	oidc       *oidc.Provider
	httpClient *http.Client
	timeout    time.Duration
}

// New initializes the provider using OIDC discovery.
// issuer must match the discovery document exactly, e.g.
// https://tenant.eu.auth0.com/
func New(
	ctx context.Context,
	issuer string,
	httpClient *http.Client,
) (*Provider, error) {

	if issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	timeout := httpClient.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	oidcProvider, err := oidc.NewProvider(oidc.ClientContext(discoverCtx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init oidc provider: %w", err)
	}

	logger.Info("oidc provider discovered", map[string]any{
		"issuer":         issuer,
		"token_endpoint": oidcProvider.Endpoint().TokenURL,
		"userinfo":       oidcProvider.UserInfoEndpoint() != "",
	})

	return &Provider{
		oidc:       oidcProvider,
		httpClient: httpClient,
		timeout:    timeout,
	}, nil
}

// Endpoint returns the token endpoint. Client credentials are sent in the
// request body, which both grants used here require.
func (p *Provider) Endpoint() oauth2.Endpoint {
	ep := p.oidc.Endpoint()
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

// UserInfo resolves the subject that owns cred through the userinfo
// endpoint. Only a subject credential is needed, not a service one.
func (p *Provider) UserInfo(ctx context.Context, cred *auth.Credential) (*auth.Subject, error) {
	if err := auth.RequireKind(cred, auth.KindSubject, time.Now()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	info, err := p.oidc.UserInfo(oidc.ClientContext(ctx, p.httpClient), cred.TokenSource())
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo lookup: %w", auth.ErrCredential, err)
	}

	var claims struct {
		Name string `json:"name"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: userinfo claims parse: %w", auth.ErrCredential, err)
	}

	if info.Subject == "" {
		return nil, fmt.Errorf("%w: userinfo missing sub claim", auth.ErrCredential)
	}

	return &auth.Subject{
		ID:            info.Subject,
		Email:         info.Email,
		Name:          claims.Name,
		EmailVerified: info.EmailVerified,
	}, nil
}
