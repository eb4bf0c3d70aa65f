package auth_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gatekit/gatekit/auth"
	"github.com/gatekit/gatekit/service"
	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const svcName = "svc-name"

func testProviders() []service.AuthProvider {
	return []service.AuthProvider{
		{ID: "p1", Issuer: "https://i", JWKSURI: "https://i/keys"},
	}
}

func methodAllowing(t *testing.T, audiences ...string) *service.MethodInfo {
	svc := &service.Service{
		Name:      svcName,
		Providers: testProviders(),
		HTTPRules: []service.HTTPRule{
			{Selector: "svc.Method", Verb: "GET", Template: "/v1/method"},
		},
		AuthRules: []service.AuthRule{
			{Selector: "svc.Method", Requirements: []service.AuthRequirement{
				{ProviderID: "p1", Audiences: audiences},
			}},
		},
	}
	reg, err := service.NewRegistry(svc)
	require.NoError(t, err)
	info := reg.Info("svc.Method")
	require.NotNil(t, info)
	return info
}

func newAuthenticator(t *testing.T, clk *testClock) *auth.Authenticator {
	key := rsaKey(t)
	supplier := &staticSupplier{keys: map[string]*auth.KeySet{
		"https://i": keySetFor(t, &key.PublicKey, "k1"),
	}}
	dec, err := auth.NewDecoder(supplier, authOpts(), clk.Now)
	require.NoError(t, err)
	a, err := auth.NewAuthenticator(testProviders(), dec, clk.Now)
	require.NoError(t, err)
	return a
}

func bearerRequest(t *testing.T, token string) *http.Request {
	r, err := http.NewRequest(http.MethodGet, "https://svc/v1/method", nil)
	require.NoError(t, err)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func validClaims(clk *testClock) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://i",
		"sub":   "u1",
		"aud":   []string{svcName},
		"email": "u@e",
		"exp":   clk.Now().Add(300 * time.Second).Unix(),
		"nbf":   clk.Now().Add(-time.Second).Unix(),
	}
}

func TestAuthenticateHappyPath(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)
	token := signToken(t, rsaKey(t), "k1", validClaims(clk))

	info, err := a.Authenticate(context.Background(), bearerRequest(t, token), methodAllowing(t), svcName)
	require.NoError(t, err)
	require.Equal(t, &auth.UserInfo{
		Audiences: []string{svcName},
		Email:     "u@e",
		ID:        "u1",
		Issuer:    "https://i",
	}, info)
}

func TestAuthenticateAudienceRejected(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)
	claims := validClaims(clk)
	claims["aud"] = []string{"other"}
	token := signToken(t, rsaKey(t), "k1", claims)

	_, err := a.Authenticate(context.Background(), bearerRequest(t, token), methodAllowing(t), svcName)
	require.True(t, errors.Is(err, auth.ErrUnauthenticated))
	require.Contains(t, err.Error(), "Audiences not allowed")
}

func TestAuthenticateMethodAudienceAccepted(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)
	claims := validClaims(clk)
	claims["aud"] = []string{"other"}
	token := signToken(t, rsaKey(t), "k1", claims)

	info, err := a.Authenticate(context.Background(), bearerRequest(t, token), methodAllowing(t, "other"), svcName)
	require.NoError(t, err)
	require.Equal(t, []string{"other"}, info.Audiences)
}

func TestAuthenticateNoToken(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)

	_, err := a.Authenticate(context.Background(), bearerRequest(t, ""), methodAllowing(t), svcName)
	require.True(t, errors.Is(err, auth.ErrUnauthenticated))
	require.Contains(t, err.Error(), "no auth token")
}

func TestAuthenticateQueryParameterToken(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)
	token := signToken(t, rsaKey(t), "k1", validClaims(clk))

	r, err := http.NewRequest(http.MethodGet, "https://svc/v1/method?access_token="+token, nil)
	require.NoError(t, err)
	info, err := a.Authenticate(context.Background(), r, methodAllowing(t), svcName)
	require.NoError(t, err)
	require.Equal(t, "u1", info.ID)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)
	claims := validClaims(clk)
	claims["exp"] = clk.Now().Add(-time.Second).Unix()
	token := signToken(t, rsaKey(t), "k1", claims)

	_, err := a.Authenticate(context.Background(), bearerRequest(t, token), methodAllowing(t), svcName)
	require.True(t, errors.Is(err, auth.ErrUnauthenticated))
}

func TestAuthenticateNotYetValidToken(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)
	claims := validClaims(clk)
	claims["nbf"] = clk.Now().Add(time.Hour).Unix()
	token := signToken(t, rsaKey(t), "k1", claims)

	_, err := a.Authenticate(context.Background(), bearerRequest(t, token), methodAllowing(t), svcName)
	require.True(t, errors.Is(err, auth.ErrUnauthenticated))
}

func TestAuthenticateMissingExpiry(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)
	claims := validClaims(clk)
	delete(claims, "exp")
	token := signToken(t, rsaKey(t), "k1", claims)

	_, err := a.Authenticate(context.Background(), bearerRequest(t, token), methodAllowing(t), svcName)
	require.True(t, errors.Is(err, auth.ErrUnauthenticated))
}

func TestAuthenticateUnknownIssuer(t *testing.T) {
	clk := newTestClock()
	key := rsaKey(t)
	supplier := &staticSupplier{keys: map[string]*auth.KeySet{
		"https://i":     keySetFor(t, &key.PublicKey, "k1"),
		"https://other": keySetFor(t, &key.PublicKey, "k1"),
	}}
	dec, err := auth.NewDecoder(supplier, authOpts(), clk.Now)
	require.NoError(t, err)
	a, err := auth.NewAuthenticator(testProviders(), dec, clk.Now)
	require.NoError(t, err)

	claims := validClaims(clk)
	claims["iss"] = "https://other"
	token := signToken(t, key, "k1", claims)

	_, err = a.Authenticate(context.Background(), bearerRequest(t, token), methodAllowing(t), svcName)
	require.True(t, errors.Is(err, auth.ErrUnauthenticated))
	require.Contains(t, err.Error(), "unknown issuer")
}

func TestAuthenticateProviderNotAllowedByMethod(t *testing.T) {
	clk := newTestClock()
	a := newAuthenticator(t, clk)
	token := signToken(t, rsaKey(t), "k1", validClaims(clk))

	svc := &service.Service{
		Name:      svcName,
		Providers: testProviders(),
		HTTPRules: []service.HTTPRule{{Selector: "svc.Open", Verb: "GET", Template: "/v1/open"}},
		AuthRules: []service.AuthRule{{Selector: "svc.Open", Requirements: []service.AuthRequirement{
			{ProviderID: "someone-else"},
		}}},
	}
	reg, err := service.NewRegistry(svc)
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), bearerRequest(t, token), reg.Info("svc.Open"), svcName)
	require.True(t, errors.Is(err, auth.ErrUnauthenticated))
}

func TestNewAuthenticatorRejectsDuplicateIssuers(t *testing.T) {
	providers := append(testProviders(), service.AuthProvider{ID: "p2", Issuer: "https://i"})
	_, err := auth.NewAuthenticator(providers, nil, nil)
	require.Error(t, err)
}

func TestExtractTokenBearerFormat(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"Bearer  abc", ""}, // two spaces
		{"Bearer ", ""},
		{"bearer abc", ""},
		{"Basic abc", ""},
	}
	for _, tc := range cases {
		r, err := http.NewRequest(http.MethodGet, "https://svc/v1/method", nil)
		require.NoError(t, err)
		r.Header.Set("Authorization", tc.header)
		require.Equal(t, tc.want, auth.ExtractToken(r), "header %q", tc.header)
	}
}
