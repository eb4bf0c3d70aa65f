package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/gatekit/gatekit/auth"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParseKeySetJWKS(t *testing.T) {
	key := rsaKey(t)
	ks, err := auth.ParseKeySet([]byte(jwksJSON(&key.PublicKey, "k1")))
	require.NoError(t, err)
	require.Len(t, ks.Keys, 1)
	require.Equal(t, "k1", ks.Keys[0].ID)
	require.Equal(t, "RS256", ks.Keys[0].Algorithm)

	pub, ok := ks.Keys[0].Public.(*rsa.PublicKey)
	require.True(t, ok)
	require.Equal(t, 0, pub.N.Cmp(key.PublicKey.N))
}

func TestParseKeySetCertificateMap(t *testing.T) {
	key := rsaKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	doc := fmt.Sprintf(`{"cert-1": %q}`, pemText)
	ks, err := auth.ParseKeySet([]byte(doc))
	require.NoError(t, err)
	require.Len(t, ks.Keys, 1)
	require.Equal(t, "cert-1", ks.Keys[0].ID)
	_, ok := ks.Keys[0].Public.(*rsa.PublicKey)
	require.True(t, ok)
}

func TestParseKeySetRejectsGarbage(t *testing.T) {
	for _, doc := range []string{`{"keys":[]}`, `{"k": "not a pem"}`, `[]`} {
		_, err := auth.ParseKeySet([]byte(doc))
		require.True(t, errors.Is(err, auth.ErrUnauthenticated), "doc %s", doc)
	}
}

func TestCandidatesFilterByKidAndAlg(t *testing.T) {
	key := rsaKey(t)
	ks := keySetFor(t, &key.PublicKey, "k1")

	require.Len(t, ks.Candidates("RS256", "k1"), 1)
	require.Len(t, ks.Candidates("RS256", ""), 1)
	require.Empty(t, ks.Candidates("RS256", "other"))
	require.Empty(t, ks.Candidates("ES256", "k1"))
}
