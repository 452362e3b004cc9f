package mirror

import (
	"context"
	"net/http"
	"testing"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/idptest"

	"github.com/stretchr/testify/require"
)

func TestSetIsAdminWritesWithActingCredential(t *testing.T) {
	idp := idptest.New(t)
	idp.AddUser(idptest.User{ID: "auth0|admin", Email: "admin@example.com"})
	idp.AddUser(idptest.User{ID: "auth0|bob", Email: "bob@example.com"})

	c, err := New(idp.BackendURL(), nil)
	require.NoError(t, err)

	err = c.SetIsAdmin(context.Background(), idp.IssueToken(auth.KindSubject, "auth0|admin"), "auth0|bob", true)
	require.NoError(t, err)

	entry, ok := idp.Mirror("auth0|bob")
	require.True(t, ok)
	require.True(t, entry.IsAdmin)
	require.Equal(t, "auth0|admin", entry.WrittenBy)
}

func TestSetIsAdminOverwritesFalse(t *testing.T) {
	idp := idptest.New(t)
	idp.AddUser(idptest.User{ID: "auth0|bob", Email: "bob@example.com"})
	idp.SetMirror("auth0|bob", true)

	c, err := New(idp.BackendURL(), nil)
	require.NoError(t, err)

	require.NoError(t, c.SetIsAdmin(context.Background(), idp.IssueToken(auth.KindSubject, "auth0|bob"), "auth0|bob", false))

	entry, _ := idp.Mirror("auth0|bob")
	require.False(t, entry.IsAdmin)
}

func TestSetIsAdminRejectionIsMirrorWriteError(t *testing.T) {
	idp := idptest.New(t)
	idp.AddUser(idptest.User{ID: "auth0|bob", Email: "bob@example.com"})
	idp.FailNext(idptest.OpMirrorWrite, http.StatusForbidden)

	c, err := New(idp.BackendURL(), nil)
	require.NoError(t, err)

	err = c.SetIsAdmin(context.Background(), idp.IssueToken(auth.KindSubject, "auth0|bob"), "auth0|bob", true)
	require.ErrorIs(t, err, auth.ErrMirrorWrite)

	var mwe *auth.MirrorWriteError
	require.ErrorAs(t, err, &mwe)
	require.Equal(t, http.StatusForbidden, mwe.StatusCode)
	require.True(t, mwe.IsAdmin)
	require.Equal(t, "auth0|bob", mwe.SubjectID)

	_, ok := idp.Mirror("auth0|bob")
	require.False(t, ok)
}

func TestSetIsAdminRefusesServiceCredential(t *testing.T) {
	idp := idptest.New(t)

	c, err := New(idp.BackendURL(), nil)
	require.NoError(t, err)

	err = c.SetIsAdmin(context.Background(), idp.IssueToken(auth.KindService, idptest.ClientID), "auth0|bob", true)
	require.ErrorIs(t, err, auth.ErrMirrorWrite)
	require.ErrorIs(t, err, auth.ErrCredential)
	require.Zero(t, idp.CountCalls(idptest.OpMirrorWrite))
}

func TestSetIsAdminUnreachableBackend(t *testing.T) {
	c, err := New("http://127.0.0.1:1", nil)
	require.NoError(t, err)

	idp := idptest.New(t)
	err = c.SetIsAdmin(context.Background(), idp.IssueToken(auth.KindSubject, "auth0|bob"), "auth0|bob", false)

	var mwe *auth.MirrorWriteError
	require.ErrorAs(t, err, &mwe)
	require.Zero(t, mwe.StatusCode)
}

func TestListUsers(t *testing.T) {
	idp := idptest.New(t)
	idp.AddUser(idptest.User{ID: "auth0|admin", Email: "admin@example.com", Name: "Admin"})
	idp.AddUser(idptest.User{ID: "auth0|bob", Email: "bob@example.com", Name: "Bob"})
	idp.SetMirror("auth0|admin", true)

	c, err := New(idp.BackendURL(), nil)
	require.NoError(t, err)

	users, err := c.ListUsers(context.Background(), idp.IssueToken(auth.KindSubject, "auth0|admin"))
	require.NoError(t, err)
	require.Equal(t, []auth.MirrorUser{
		{ID: 1, Name: "Admin", Email: "admin@example.com", Sub: "auth0|admin", IsAdmin: true},
		{ID: 2, Name: "Bob", Email: "bob@example.com", Sub: "auth0|bob", IsAdmin: false},
	}, users)
}
