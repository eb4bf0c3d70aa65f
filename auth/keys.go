package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var jsonit = jsoniter.ConfigCompatibleWithStandardLibrary

// Key is one public verification key, normalized from whichever document
// format the issuer serves.
type Key struct {
	// ID is the key id, when the document carried one.
	ID string
	// Algorithm is the JWS algorithm the key is declared for; empty when
	// the document did not say.
	Algorithm string
	// Public holds the *rsa.PublicKey or *ecdsa.PublicKey material.
	Public crypto.PublicKey
}

// KeySet is the normalized key collection for one issuer.
type KeySet struct {
	Keys []Key
}

// Candidates returns the keys plausible for a JWS header: the algorithm
// family must fit the key material and, when the header names a key id,
// only keys carrying that id qualify.
func (s *KeySet) Candidates(alg, kid string) []Key {
	var out []Key
	for _, k := range s.Keys {
		if kid != "" && k.ID != kid {
			continue
		}
		if k.Algorithm != "" && alg != "" && k.Algorithm != alg {
			continue
		}
		if !algFitsKey(alg, k.Public) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func algFitsKey(alg string, pub crypto.PublicKey) bool {
	switch pub.(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PublicKey:
		return strings.HasPrefix(alg, "ES")
	default:
		return false
	}
}

// jwkDocument is the JWKS wire form: RFC 7517 with RFC 7518 key parameters.
type jwkDocument struct {
	Keys []jwkEntry `json:"keys"`
}

type jwkEntry struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// ParseKeySet normalizes a fetched key document. Documents with a top-level
// "keys" array parse as a JWKS; anything else parses as a map from key id
// to PEM-encoded X.509 certificate.
func ParseKeySet(data []byte) (*KeySet, error) {
	var doc jwkDocument
	if err := jsonit.Unmarshal(data, &doc); err == nil && doc.Keys != nil {
		return keySetFromJWKS(doc)
	}
	var certs map[string]string
	if err := jsonit.Unmarshal(data, &certs); err != nil {
		return nil, errors.Wrap(ErrUnauthenticated, "key document is neither a JWKS nor a certificate map")
	}
	return keySetFromCerts(certs)
}

func keySetFromJWKS(doc jwkDocument) (*KeySet, error) {
	set := &KeySet{}
	for _, e := range doc.Keys {
		switch e.Kty {
		case "RSA":
			pub, err := rsaFromEntry(e)
			if err != nil {
				return nil, err
			}
			set.Keys = append(set.Keys, Key{ID: e.Kid, Algorithm: e.Alg, Public: pub})
		case "EC":
			pub, err := ecdsaFromEntry(e)
			if err != nil {
				return nil, err
			}
			set.Keys = append(set.Keys, Key{ID: e.Kid, Algorithm: e.Alg, Public: pub})
		default:
			// Symmetric and unknown key types cannot verify third-party
			// tokens; skip rather than fail the whole set.
			continue
		}
	}
	if len(set.Keys) == 0 {
		return nil, errors.Wrap(ErrUnauthenticated, "key document carries no usable keys")
	}
	return set, nil
}

func rsaFromEntry(e jwkEntry) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(e.N)
	if err != nil {
		return nil, errors.Wrapf(ErrUnauthenticated, "bad RSA modulus on key %q: %v", e.Kid, err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e.E)
	if err != nil {
		return nil, errors.Wrapf(ErrUnauthenticated, "bad RSA exponent on key %q: %v", e.Kid, err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}

var curvesByName = map[string]elliptic.Curve{
	"P-256": elliptic.P256(),
	"P-384": elliptic.P384(),
	"P-521": elliptic.P521(),
}

func ecdsaFromEntry(e jwkEntry) (*ecdsa.PublicKey, error) {
	curve, ok := curvesByName[e.Crv]
	if !ok {
		return nil, errors.Wrapf(ErrUnauthenticated, "unsupported curve %q on key %q", e.Crv, e.Kid)
	}
	x, err := base64.RawURLEncoding.DecodeString(e.X)
	if err != nil {
		return nil, errors.Wrapf(ErrUnauthenticated, "bad EC x coordinate on key %q: %v", e.Kid, err)
	}
	y, err := base64.RawURLEncoding.DecodeString(e.Y)
	if err != nil {
		return nil, errors.Wrapf(ErrUnauthenticated, "bad EC y coordinate on key %q: %v", e.Kid, err)
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}

func keySetFromCerts(certs map[string]string) (*KeySet, error) {
	set := &KeySet{}
	for kid, pemText := range certs {
		block, _ := pem.Decode([]byte(pemText))
		if block == nil {
			return nil, errors.Wrapf(ErrUnauthenticated, "key %q is not PEM encoded", kid)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrapf(ErrUnauthenticated, "key %q: %v", kid, err)
		}
		switch pub := cert.PublicKey.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
			set.Keys = append(set.Keys, Key{ID: kid, Public: pub})
		default:
			return nil, errors.Wrapf(ErrUnauthenticated, "key %q carries an unsupported public key type %T", kid, pub)
		}
	}
	if len(set.Keys) == 0 {
		return nil, errors.Wrap(ErrUnauthenticated, "certificate map carries no usable keys")
	}
	return set, nil
}
