package auth

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/gatekit/gatekit/config/params"
)

// Claims are the token fields the authenticator cares about, lifted out of
// the JWS payload. Pointer fields distinguish absent claims from zero ones.
type Claims struct {
	Issuer    string
	Subject   string
	Email     string
	Audiences []string
	ExpiresAt *time.Time
	NotBefore *time.Time
}

type cachedClaims struct {
	claims  *Claims
	decoded time.Time
}

// Decoder parses and verifies compact JWS tokens. Verified claims are
// cached keyed by the full token, amortizing signature checks for clients
// that present the same token on every request. Tokens are attacker
// chosen, so the key must be the token itself rather than a digest short
// enough to collide.
type Decoder struct {
	supplier KeySupplier
	cache    *lru.Cache[string, *cachedClaims]
	ttl      time.Duration
	now      func() time.Time
}

// NewDecoder builds a decoder verifying against keys from supplier, with
// claim caching per opts. now may be nil to use wall time.
func NewDecoder(supplier KeySupplier, opts params.AuthOptions, now func() time.Time) (*Decoder, error) {
	if now == nil {
		now = time.Now
	}
	size := opts.ClaimsCacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[string, *cachedClaims](size)
	if err != nil {
		return nil, errors.Wrap(err, "could not build claims cache")
	}
	return &Decoder{
		supplier: supplier,
		cache:    cache,
		ttl:      opts.ClaimsCacheTTL(),
		now:      now,
	}, nil
}

// Decode parses token, verifies its signature against the issuer's keys
// and returns the claims. Claim VALUES are not judged here; expiry,
// audience and issuer policy belong to the authenticator.
func (d *Decoder) Decode(ctx context.Context, token string) (*Claims, error) {
	if e, ok := d.cache.Get(token); ok {
		if d.now().Sub(e.decoded) < d.ttl {
			return e.claims, nil
		}
		d.cache.Remove(token)
	}

	parsed, parts, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, errors.Wrapf(ErrUnauthenticated, "malformed token: %v", err)
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(ErrUnauthenticated, "malformed token claims")
	}
	claims := claimsFromMap(mapClaims)
	if claims.Issuer == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "token carries no issuer")
	}
	if err := d.verify(ctx, parsed, parts, claims.Issuer); err != nil {
		return nil, err
	}

	d.cache.Add(token, &cachedClaims{claims: claims, decoded: d.now()})
	return claims, nil
}

// verify checks the token signature against the issuer's candidate keys,
// succeeding on the first key that fits.
func (d *Decoder) verify(ctx context.Context, parsed *jwt.Token, parts []string, issuer string) error {
	if parsed.Method == nil {
		return errors.Wrap(ErrUnauthenticated, "token names no signing algorithm")
	}
	alg := parsed.Method.Alg()
	kid, _ := parsed.Header["kid"].(string)

	keySet, err := d.supplier.Fetch(ctx, issuer)
	if err != nil {
		return err
	}
	candidates := keySet.Candidates(alg, kid)
	if len(candidates) == 0 {
		return errors.Wrapf(ErrUnauthenticated, "issuer %q has no key for alg %q kid %q", issuer, alg, kid)
	}

	signingString := strings.Join(parts[0:2], ".")
	for _, k := range candidates {
		if parsed.Method.Verify(signingString, parts[2], k.Public) == nil {
			return nil
		}
	}
	return errors.Wrap(ErrUnauthenticated, "token signature did not verify under any candidate key")
}

func claimsFromMap(mc jwt.MapClaims) *Claims {
	c := &Claims{}
	c.Issuer, _ = mc["iss"].(string)
	c.Subject, _ = mc["sub"].(string)
	c.Email, _ = mc["email"].(string)
	switch aud := mc["aud"].(type) {
	case string:
		if aud != "" {
			c.Audiences = []string{aud}
		}
	case []interface{}:
		for _, a := range aud {
			if s, ok := a.(string); ok {
				c.Audiences = append(c.Audiences, s)
			}
		}
	}
	if t := numericTime(mc["exp"]); t != nil {
		c.ExpiresAt = t
	}
	if t := numericTime(mc["nbf"]); t != nil {
		c.NotBefore = t
	}
	return c
}

// numericTime reads a JSON NumericDate, which decodes as float64 or
// json.Number depending on the parser configuration.
func numericTime(v interface{}) *time.Time {
	switch n := v.(type) {
	case float64:
		t := time.Unix(int64(n), 0)
		return &t
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		t := time.Unix(int64(f), 0)
		return &t
	default:
		return nil
	}
}
