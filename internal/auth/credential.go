package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// CredentialKind tells whose authority a credential carries.
type CredentialKind string

const (
	// KindSubject acts as a specific end user.
	KindSubject CredentialKind = "subject"
	// KindService acts as the application itself against the IdP management API.
	KindService CredentialKind = "service"
)

// Credential is an issued bearer token. It is immutable and lives only in
// process memory; String and GoString redact the token so it cannot leak
// into logs through %v.
type Credential struct {
	Kind        CredentialKind
	AccessToken string
	TokenType   string
	Audience    string
	ExpiresAt   time.Time

	// Principal is the email (subject) or client id (service) the token was
	// issued for. Informational only.
	Principal string
}

// Expired reports whether the credential is past its expiry at now.
// A zero ExpiresAt never expires.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return true
	}
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ValidFor reports whether the credential stays valid for at least margin.
func (c *Credential) ValidFor(now time.Time, margin time.Duration) bool {
	return !c.Expired(now.Add(margin))
}

// TokenSource exposes the credential to oauth2-aware HTTP clients.
func (c *Credential) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.AccessToken,
		TokenType:   c.TokenType,
		Expiry:      c.ExpiresAt,
	})
}

func (c *Credential) String() string {
	if c == nil {
		return "<nil credential>"
	}
	return fmt.Sprintf("credential{kind=%s principal=%s audience=%s expires=%s token=[redacted]}",
		c.Kind, c.Principal, c.Audience, c.ExpiresAt.Format(time.RFC3339))
}

func (c *Credential) GoString() string {
	return c.String()
}

// RequireKind returns an error unless c is a usable credential of kind k.
func RequireKind(c *Credential, k CredentialKind, now time.Time) error {
	if c == nil || c.AccessToken == "" {
		return fmt.Errorf("%w: missing %s credential", ErrCredential, k)
	}
	if c.Kind != k {
		return fmt.Errorf("%w: %s credential required, got %s", ErrCredential, k, c.Kind)
	}
	if c.Expired(now) {
		return fmt.Errorf("%w: %s credential expired", ErrCredential, k)
	}
	return nil
}

type credentialContextKeyType struct{}

var credentialKey = credentialContextKeyType{}

// WithCredential attaches the acting subject's credential to ctx.
func WithCredential(ctx context.Context, c *Credential) context.Context {
	return context.WithValue(ctx, credentialKey, c)
}

// CredentialFromContext returns the acting subject's credential, if any.
func CredentialFromContext(ctx context.Context) (*Credential, bool) {
	c, ok := ctx.Value(credentialKey).(*Credential)
	return c, ok && c != nil
}
