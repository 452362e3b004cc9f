package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"role-sync-service/internal/auth"

	"github.com/stretchr/testify/require"
)

func credential(expiresAt time.Time) *auth.Credential {
	return &auth.Credential{Kind: auth.KindSubject, AccessToken: "tok", ExpiresAt: expiresAt}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(10, time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, Session{
		Subject:    auth.Subject{ID: "auth0|bob"},
		Credential: credential(time.Now().Add(2 * time.Hour)),
		IsAdmin:    true,
	})
	require.NoError(t, err)
	require.Len(t, id, 43)

	s, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, s.SessionID)
	require.Equal(t, "auth0|bob", s.Subject.ID)
	require.True(t, s.IsAdmin)
	require.WithinDuration(t, s.CreatedAt.Add(time.Hour), s.ExpiresAt, time.Second)

	require.NoError(t, store.Delete(ctx, id))
	s, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestMemoryStoreSessionEndsWithCredential(t *testing.T) {
	store := NewMemoryStore(10, 24*time.Hour)
	ctx := context.Background()
	credExpiry := time.Now().Add(time.Hour)

	id, err := store.Create(ctx, Session{
		Subject:    auth.Subject{ID: "auth0|bob"},
		Credential: credential(credExpiry),
	})
	require.NoError(t, err)

	s, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, credExpiry, s.ExpiresAt)

	store.now = func() time.Time { return credExpiry.Add(time.Second) }
	s, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestMemoryStoreRejectsIncompleteSessions(t *testing.T) {
	store := NewMemoryStore(10, time.Hour)

	_, err := store.Create(context.Background(), Session{Subject: auth.Subject{ID: "auth0|bob"}})
	require.Error(t, err)

	_, err = store.Create(context.Background(), Session{
		Subject:    auth.Subject{ID: "auth0|bob"},
		Credential: credential(time.Now().Add(-time.Minute)),
	})
	require.Error(t, err)
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store := NewMemoryStore(2, time.Hour)
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		var err error
		ids[i], err = store.Create(ctx, Session{
			Subject:    auth.Subject{ID: "auth0|bob"},
			Credential: credential(time.Time{}),
		})
		require.NoError(t, err)
	}

	s, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestCookieNameFollowsSecureFlag(t *testing.T) {
	for _, secure := range []bool{true, false} {
		opts := CookieOptions{Secure: secure}

		rec := httptest.NewRecorder()
		SetCookie(rec, "abc", time.Now().Add(time.Hour), opts)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.True(t, cookies[0].HttpOnly)
		require.Equal(t, "/", cookies[0].Path)
		require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
		if secure {
			require.Equal(t, CookieName, cookies[0].Name)
		} else {
			require.Equal(t, InsecureCookieName, cookies[0].Name)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(cookies[0])
		require.Equal(t, "abc", ReadCookie(req, opts))
	}
}
