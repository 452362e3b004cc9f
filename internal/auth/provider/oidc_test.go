package provider

import (
	"context"
	"net/http"
	"testing"
	"time"

	"role-sync-service/internal/auth"
	"role-sync-service/internal/idptest"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewDiscoversTokenEndpoint(t *testing.T) {
	idp := idptest.New(t)

	p, err := New(context.Background(), idp.Issuer(), &http.Client{Timeout: 5 * time.Second})
	require.NoError(t, err)

	ep := p.Endpoint()
	require.Equal(t, idp.URL+"/oauth/token", ep.TokenURL)
	require.Equal(t, oauth2.AuthStyleInParams, ep.AuthStyle)
}

func TestNewFailsOnIssuerMismatch(t *testing.T) {
	idp := idptest.New(t)

	_, err := New(context.Background(), idp.Issuer()+"/other", nil)
	require.Error(t, err)
}

func TestUserInfoResolvesSubjectFromOwnCredential(t *testing.T) {
	idp := idptest.New(t)
	idp.AddUser(idptest.User{ID: "auth0|alice", Email: "alice@example.com", Name: "Alice", EmailVerified: true})

	p, err := New(context.Background(), idp.Issuer(), nil)
	require.NoError(t, err)

	subject, err := p.UserInfo(context.Background(), idp.IssueToken(auth.KindSubject, "auth0|alice"))
	require.NoError(t, err)
	require.Equal(t, &auth.Subject{
		ID:            "auth0|alice",
		Email:         "alice@example.com",
		Name:          "Alice",
		EmailVerified: true,
	}, subject)
}

func TestUserInfoRejectsServiceCredential(t *testing.T) {
	idp := idptest.New(t)

	p, err := New(context.Background(), idp.Issuer(), nil)
	require.NoError(t, err)

	_, err = p.UserInfo(context.Background(), idp.IssueToken(auth.KindService, idptest.ClientID))
	require.ErrorIs(t, err, auth.ErrCredential)
	require.Zero(t, idp.CountCalls(idptest.OpUserInfo))
}

func TestUserInfoFailureIsCredentialError(t *testing.T) {
	idp := idptest.New(t)
	idp.AddUser(idptest.User{ID: "auth0|alice", Email: "alice@example.com"})
	idp.FailNext(idptest.OpUserInfo, http.StatusBadGateway)

	p, err := New(context.Background(), idp.Issuer(), nil)
	require.NoError(t, err)

	_, err = p.UserInfo(context.Background(), idp.IssueToken(auth.KindSubject, "auth0|alice"))
	require.ErrorIs(t, err, auth.ErrCredential)
}
