package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// LockedCalls is the most outbound calls made while a subject lock is held:
// list roles, add, remove and the mirror write.
const LockedCalls = 4

type Config struct {
	AppPort  string `envconfig:"APP_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// IdP issuer used for OIDC discovery, e.g. https://tenant.eu.auth0.com/
	IssuerURL    string   `envconfig:"IDP_ISSUER_URL" required:"true"`
	ClientID     string   `envconfig:"IDP_CLIENT_ID" required:"true"`
	ClientSecret string   `envconfig:"IDP_CLIENT_SECRET" required:"true"`
	APIAudience  string   `envconfig:"IDP_API_AUDIENCE"`
	Scopes       []string `envconfig:"IDP_SCOPES" default:"openid,profile,email"`
	Connection   string   `envconfig:"IDP_CONNECTION" default:"Username-Password-Authentication"`

	// Management API; both default to values derived from IssuerURL.
	ManagementURL      string `envconfig:"IDP_MANAGEMENT_URL"`
	ManagementAudience string `envconfig:"IDP_MANAGEMENT_AUDIENCE"`

	AdminRoleID   string `envconfig:"ADMIN_ROLE_ID" required:"true"`
	AdminRoleName string `envconfig:"ADMIN_ROLE_NAME" default:"admin"`
	UserRoleID    string `envconfig:"USER_ROLE_ID" required:"true"`
	UserRoleName  string `envconfig:"USER_ROLE_NAME" default:"user"`

	BackendURL string `envconfig:"BACKEND_URL" required:"true"`

	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
	TokenExpiryMargin time.Duration `envconfig:"TOKEN_EXPIRY_MARGIN" default:"60s"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	LockTTL       time.Duration `envconfig:"LOCK_TTL" default:"60s"`

	DatabaseDSN string `envconfig:"DATABASE_DSN"`

	SessionTTL      time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionCapacity int           `envconfig:"SESSION_CAPACITY" default:"10000"`
	CookieSecure    bool          `envconfig:"COOKIE_SECURE" default:"true"`
	EnforceAdmin    bool          `envconfig:"ENFORCE_ADMIN" default:"true"`
	LoginRateLimit  int           `envconfig:"LOGIN_RATE_LIMIT" default:"10"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	base := strings.TrimRight(c.IssuerURL, "/")
	if c.ManagementURL == "" {
		c.ManagementURL = base
	}
	if c.ManagementAudience == "" {
		c.ManagementAudience = base + "/api/v2/"
	}
	c.ManagementURL = strings.TrimRight(c.ManagementURL, "/")
	c.BackendURL = strings.TrimRight(c.BackendURL, "/")
}

// Validate checks cross-field constraints envconfig cannot express.
func (c Config) Validate() error {
	// envconfig accepts a required key that is set but empty
	for key, value := range map[string]string{
		"IDP_ISSUER_URL":    c.IssuerURL,
		"IDP_CLIENT_ID":     c.ClientID,
		"IDP_CLIENT_SECRET": c.ClientSecret,
		"ADMIN_ROLE_ID":     c.AdminRoleID,
		"USER_ROLE_ID":      c.UserRoleID,
		"BACKEND_URL":       c.BackendURL,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("config: %s is required", key)
		}
	}
	if c.AdminRoleID == c.UserRoleID {
		return errors.New("config: ADMIN_ROLE_ID and USER_ROLE_ID must differ")
	}
	if strings.EqualFold(c.AdminRoleName, c.UserRoleName) {
		return errors.New("config: ADMIN_ROLE_NAME and USER_ROLE_NAME must differ")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("config: HTTP_TIMEOUT must be positive")
	}
	// a call must finish before the credential it carries can expire
	if c.TokenExpiryMargin <= c.HTTPTimeout {
		return fmt.Errorf("config: TOKEN_EXPIRY_MARGIN (%s) must exceed HTTP_TIMEOUT (%s)",
			c.TokenExpiryMargin, c.HTTPTimeout)
	}
	// a role change makes up to LockedCalls outbound calls under the subject lock
	if minTTL := LockedCalls * c.HTTPTimeout; c.LockTTL <= minTTL {
		return fmt.Errorf("config: LOCK_TTL (%s) must exceed %s (%d x HTTP_TIMEOUT)",
			c.LockTTL, minTTL, LockedCalls)
	}
	if c.SessionCapacity <= 0 {
		return errors.New("config: SESSION_CAPACITY must be positive")
	}
	return nil
}
