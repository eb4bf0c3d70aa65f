package auth

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gatekit/gatekit/io/logs"
	"github.com/gatekit/gatekit/service"
)

var log = logrus.WithField("prefix", "auth")

// maxKeyDocumentBytes bounds how much of an issuer's response is read.
const maxKeyDocumentBytes = 1 << 20

// KeySupplier resolves an issuer to its current verification keys.
type KeySupplier interface {
	Fetch(ctx context.Context, issuer string) (*KeySet, error)
}

// issuerState tracks where an issuer's keys live. The URI is either
// configured up front or discovered once through OpenID; a failed discovery
// is remembered so the issuer is not hammered until the configuration
// refreshes.
type issuerState struct {
	providerID      string
	jwksURI         string
	discoveryFailed bool
}

// HTTPKeySupplier fetches key documents from issuer endpoints, resolving
// issuers without a configured JWKS URI through OpenID Connect discovery.
type HTTPKeySupplier struct {
	client *http.Client

	mu      sync.Mutex
	issuers map[string]*issuerState
}

// NewHTTPKeySupplier builds a supplier for the given providers. client may
// be nil to use a default with a conservative timeout.
func NewHTTPKeySupplier(providers []service.AuthProvider, client *http.Client) *HTTPKeySupplier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	issuers := make(map[string]*issuerState, len(providers))
	for _, p := range providers {
		issuers[p.Issuer] = &issuerState{providerID: p.ID, jwksURI: p.JWKSURI}
	}
	return &HTTPKeySupplier{client: client, issuers: issuers}
}

// Fetch resolves the issuer to a key URL, fetches the document there and
// normalizes it into a KeySet.
func (s *HTTPKeySupplier) Fetch(ctx context.Context, issuer string) (*KeySet, error) {
	uri, err := s.resolve(ctx, issuer)
	if err != nil {
		return nil, err
	}
	body, err := s.get(ctx, uri)
	if err != nil {
		return nil, errors.Wrapf(ErrUnauthenticated, "fetching keys for issuer %q: %v", issuer, err)
	}
	return ParseKeySet(body)
}

// ResetDiscovery clears remembered discovery failures. The host calls this
// when the service configuration refreshes.
func (s *HTTPKeySupplier) ResetDiscovery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.issuers {
		st.discoveryFailed = false
	}
}

func (s *HTTPKeySupplier) resolve(ctx context.Context, issuer string) (string, error) {
	s.mu.Lock()
	state, ok := s.issuers[issuer]
	if !ok {
		s.mu.Unlock()
		return "", errors.Wrapf(ErrUnauthenticated, "unknown issuer %q", issuer)
	}
	if state.jwksURI != "" {
		uri := state.jwksURI
		s.mu.Unlock()
		return uri, nil
	}
	if state.discoveryFailed {
		s.mu.Unlock()
		return "", errors.Wrapf(ErrUnauthenticated, "OpenID discovery for issuer %q failed earlier; waiting for configuration refresh", issuer)
	}
	s.mu.Unlock()

	uri, err := s.discover(ctx, issuer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		state.discoveryFailed = true
		return "", errors.Wrapf(ErrUnauthenticated, "OpenID discovery for issuer %q: %v", issuer, err)
	}
	state.jwksURI = uri
	return uri, nil
}

// discover asks the issuer's well-known OpenID configuration document for
// its jwks_uri.
func (s *HTTPKeySupplier) discover(ctx context.Context, issuer string) (string, error) {
	base := issuer
	if !strings.HasPrefix(base, "https://") && !strings.HasPrefix(base, "http://") {
		base = "https://" + base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	body, err := s.get(ctx, base+".well-known/openid-configuration")
	if err != nil {
		return "", err
	}
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := jsonit.Unmarshal(body, &doc); err != nil {
		return "", errors.Wrap(err, "could not parse discovery document")
	}
	if doc.JWKSURI == "" {
		return "", errors.New("discovery document names no jwks_uri")
	}
	log.WithFields(logrus.Fields{
		"issuer":  issuer,
		"jwksUri": logs.MaskCredentialsLogging(doc.JWKSURI),
	}).Debug("Discovered key endpoint")
	return doc.JWKSURI, nil
}

func (s *HTTPKeySupplier) get(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("GET %s returned status %d", uri, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxKeyDocumentBytes))
}
