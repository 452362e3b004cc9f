package session

import (
	"context"
	"time"

	"role-sync-service/internal/auth"
)

// Session is a logged-in subject. It holds the subject's credential, so it
// must only ever live in process memory.
type Session struct {
	SessionID  string
	Subject    auth.Subject
	Credential *auth.Credential

	// Role and IsAdmin are what role adoption resolved at login. They are
	// used for access checks on this service's own routes only.
	Role    auth.Role
	IsAdmin bool

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store defines how sessions are stored and retrieved.
type Store interface {
	// Create stores s under a fresh id and returns that id.
	Create(ctx context.Context, s Session) (string, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
