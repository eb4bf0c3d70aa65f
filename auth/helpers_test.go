package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/gatekit/gatekit/auth"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

// rsaKey returns a process-wide test key; 2048-bit generation is slow
// enough to be worth sharing.
func rsaKey(t *testing.T) *rsa.PrivateKey {
	testKeyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testRSAKey = k
	})
	require.NotNil(t, testRSAKey)
	return testRSAKey
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func jwksJSON(pub *rsa.PublicKey, kid string) string {
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	return fmt.Sprintf(`{"keys":[{"kty":"RSA","alg":"RS256","kid":%q,"n":%q,"e":%q}]}`, kid, n, e)
}

// staticSupplier hands out a fixed key set and counts fetches.
type staticSupplier struct {
	mu      sync.Mutex
	keys    map[string]*auth.KeySet
	fetches int
}

func (s *staticSupplier) Fetch(_ context.Context, issuer string) (*auth.KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	ks, ok := s.keys[issuer]
	if !ok {
		return nil, fmt.Errorf("no keys for issuer %q: %w", issuer, auth.ErrUnauthenticated)
	}
	return ks, nil
}

func (s *staticSupplier) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func keySetFor(t *testing.T, pub *rsa.PublicKey, kid string) *auth.KeySet {
	ks, err := auth.ParseKeySet([]byte(jwksJSON(pub, kid)))
	require.NoError(t, err)
	return ks
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1700000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
