package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/gatekit/gatekit/service"
)

// UserInfo identifies an authenticated caller.
type UserInfo struct {
	// Audiences are the token's aud values.
	Audiences []string
	// Email is the token's email claim, when present.
	Email string
	// ID is the token's subject.
	ID string
	// Issuer is the token's issuer.
	Issuer string
}

// Authenticator turns an incoming request into an authenticated caller
// identity, or an ErrUnauthenticated explaining why it could not.
type Authenticator struct {
	decoder          *Decoder
	issuerToProvider map[string]string
	now              func() time.Time
}

// NewAuthenticator builds an authenticator over the given providers. Two
// providers claiming the same issuer is a configuration error: tokens
// could not be attributed to either. now may be nil to use wall time.
func NewAuthenticator(providers []service.AuthProvider, decoder *Decoder, now func() time.Time) (*Authenticator, error) {
	if now == nil {
		now = time.Now
	}
	issuers := make(map[string]string, len(providers))
	for _, p := range providers {
		if prev, ok := issuers[p.Issuer]; ok {
			return nil, errors.Errorf("issuer %q claimed by providers %q and %q", p.Issuer, prev, p.ID)
		}
		issuers[p.Issuer] = p.ID
	}
	return &Authenticator{
		decoder:          decoder,
		issuerToProvider: issuers,
		now:              now,
	}, nil
}

const bearerPrefix = "Bearer "

// ExtractToken pulls the bearer token off a request: the Authorization
// header, "Bearer" and the token separated by exactly one space, else the
// access_token query parameter. Empty when neither is present.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, bearerPrefix) {
			tok := h[len(bearerPrefix):]
			if tok != "" && !strings.HasPrefix(tok, " ") {
				return tok
			}
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Authenticate validates the request's bearer token against the method's
// auth policy and returns the caller identity. Every failure wraps
// ErrUnauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, method *service.MethodInfo, serviceName string) (*UserInfo, error) {
	ctx, span := trace.StartSpan(ctx, "auth.Authenticate")
	defer span.End()

	token := ExtractToken(r)
	if token == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "no auth token")
	}

	claims, err := a.decoder.Decode(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(claims.Audiences) == 0 {
		return nil, errors.Wrap(ErrUnauthenticated, "token carries no audience")
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "token carries no subject")
	}
	if claims.Issuer == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "token carries no issuer")
	}

	providerID, ok := a.issuerToProvider[claims.Issuer]
	if !ok {
		return nil, errors.Wrap(ErrUnauthenticated, "unknown issuer")
	}
	if !method.AllowsProvider(providerID) {
		return nil, errors.Wrapf(ErrUnauthenticated, "method %s does not accept provider %q", method.Selector, providerID)
	}

	now := a.now()
	if claims.ExpiresAt == nil {
		return nil, errors.Wrap(ErrUnauthenticated, "token carries no expiry")
	}
	if !claims.ExpiresAt.After(now) {
		return nil, errors.Wrap(ErrUnauthenticated, "token is expired")
	}
	if claims.NotBefore != nil && claims.NotBefore.After(now) {
		return nil, errors.Wrap(ErrUnauthenticated, "token is not valid yet")
	}

	if !audienceAllowed(claims.Audiences, serviceName, method.AudiencesFor(providerID)) {
		return nil, errors.Wrap(ErrUnauthenticated, "Audiences not allowed")
	}

	return &UserInfo{
		Audiences: claims.Audiences,
		Email:     claims.Email,
		ID:        claims.Subject,
		Issuer:    claims.Issuer,
	}, nil
}

// audienceAllowed accepts a token addressed to the service itself or to
// any audience the method explicitly allows for the provider.
func audienceAllowed(audiences []string, serviceName string, allowed map[string]bool) bool {
	for _, aud := range audiences {
		if aud == serviceName || allowed[aud] {
			return true
		}
	}
	return false
}
