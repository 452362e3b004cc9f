package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in a size-bounded LRU whose entries expire
// after ttl. A session also ends when its own ExpiresAt passes, which is
// never later than the credential it carries.
type MemoryStore struct {
	cache *expirable.LRU[string, *Session]
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: expirable.NewLRU[string, *Session](capacity, nil, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, s Session) (string, error) {
	if s.Subject.ID == "" || s.Credential == nil {
		return "", errors.New("session: missing subject or credential")
	}

	id, err := newID()
	if err != nil {
		return "", err
	}

	now := m.now()
	s.SessionID = id
	s.CreatedAt = now
	s.ExpiresAt = now.Add(m.ttl)
	if exp := s.Credential.ExpiresAt; !exp.IsZero() && exp.Before(s.ExpiresAt) {
		s.ExpiresAt = exp
	}
	if !s.ExpiresAt.After(now) {
		return "", errors.New("session: credential already expired")
	}

	m.cache.Add(id, &s)
	return id, nil
}

// Get returns nil when the session does not exist or has expired.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	s, ok := m.cache.Get(sessionID)
	if !ok {
		return nil, nil
	}
	if !m.now().Before(s.ExpiresAt) {
		m.cache.Remove(sessionID)
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.cache.Remove(sessionID)
	return nil
}

// newID returns 256 bits of randomness, URL-safe.
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
