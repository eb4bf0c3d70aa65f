// Package service models the immutable configuration of one managed
// service: who may call it, how its URL surface routes to methods and what
// usage each method records. A Service is loaded once by the host and
// treated as read-only; a fresh descriptor replaces it wholesale when the
// configuration refreshes.
package service

import (
	"github.com/pkg/errors"
)

// AuthProvider names one accepted token issuer.
type AuthProvider struct {
	// ID is the provider id methods reference in their auth requirements.
	ID string
	// Issuer is the token iss value this provider vouches for.
	Issuer string
	// JWKSURI optionally pins the key-set URL. When empty the issuer is
	// resolved through OpenID discovery.
	JWKSURI string
	// Audiences are the token audiences the provider accepts by default
	// when a method does not narrow them further.
	Audiences []string
}

// HTTPRule binds a URL template to a method selector.
type HTTPRule struct {
	// Selector is the fully qualified method name, e.g.
	// "library.example.com.ListShelves".
	Selector string
	// Verb is the HTTP method, uppercase.
	Verb string
	// Template is the URL template, e.g. "/v1/shelves/{shelf}".
	Template string
}

// QuotaRule attaches per-metric costs to a method selector.
type QuotaRule struct {
	Selector    string
	MetricCosts map[string]int64
}

// AuthRequirement scopes one provider to the audiences a method accepts
// from it.
type AuthRequirement struct {
	ProviderID string
	Audiences  []string
}

// AuthRule attaches providers to a method selector. A method without an
// auth rule performs no authentication.
type AuthRule struct {
	Selector     string
	Requirements []AuthRequirement
}

// MetricDescriptor declares a metric the service collects.
type MetricDescriptor struct {
	Name string
	// Kind is "DELTA", "CUMULATIVE" or "GAUGE".
	Kind string
	// ValueType is "INT64", "DOUBLE", "DISTRIBUTION" or "MONEY".
	ValueType string
}

// Service is the descriptor of one managed service.
type Service struct {
	// Name is the service name, e.g. "library.example.com". Required.
	Name string
	// ConfigID pins the configuration version this descriptor came from.
	ConfigID string

	Providers []AuthProvider
	HTTPRules []HTTPRule
	AuthRules []AuthRule
	QuotaRules []QuotaRule
	Metrics    []MetricDescriptor
	// Logs are the log names report operations write entries under.
	Logs []string
	// Labels are the label names attached to report operations.
	Labels []string
}

// MethodInfo is the per-method policy the registry hands back on lookup.
// Derived once from the Service; immutable thereafter.
type MethodInfo struct {
	// Selector is the fully qualified method name.
	Selector string
	// auth maps provider id onto the audience set accepted from it. A nil
	// map means the method performs no authentication.
	auth map[string]map[string]bool
	// QuotaMetricCosts maps metric name onto the units one call costs.
	QuotaMetricCosts map[string]int64
}

// AuthConfigured reports whether the method authenticates callers at all.
func (m *MethodInfo) AuthConfigured() bool {
	return m != nil && m.auth != nil
}

// AllowsProvider reports whether tokens from the given provider are
// acceptable for this method.
func (m *MethodInfo) AllowsProvider(providerID string) bool {
	if !m.AuthConfigured() {
		return false
	}
	_, ok := m.auth[providerID]
	return ok
}

// AudiencesFor returns the audiences the method accepts from the given
// provider.
func (m *MethodInfo) AudiencesFor(providerID string) map[string]bool {
	if !m.AuthConfigured() {
		return nil
	}
	return m.auth[providerID]
}

// Validate reports whether the descriptor is loadable: a name is present
// and no two providers claim the same issuer.
func (s *Service) Validate() error {
	if s.Name == "" {
		return errors.New("service descriptor carries no name")
	}
	seen := make(map[string]string, len(s.Providers))
	for _, p := range s.Providers {
		if p.Issuer == "" {
			return errors.Errorf("auth provider %q carries no issuer", p.ID)
		}
		if prev, ok := seen[p.Issuer]; ok {
			return errors.Errorf("issuer %q claimed by providers %q and %q", p.Issuer, prev, p.ID)
		}
		seen[p.Issuer] = p.ID
	}
	return nil
}

// methodInfos derives the per-selector policies from the descriptor's
// rules.
func (s *Service) methodInfos() map[string]*MethodInfo {
	infos := make(map[string]*MethodInfo)
	get := func(selector string) *MethodInfo {
		if info, ok := infos[selector]; ok {
			return info
		}
		info := &MethodInfo{Selector: selector}
		infos[selector] = info
		return info
	}
	for _, rule := range s.HTTPRules {
		get(rule.Selector)
	}
	for _, rule := range s.AuthRules {
		info := get(rule.Selector)
		info.auth = make(map[string]map[string]bool, len(rule.Requirements))
		for _, req := range rule.Requirements {
			auds := make(map[string]bool, len(req.Audiences))
			for _, a := range req.Audiences {
				auds[a] = true
			}
			info.auth[req.ProviderID] = auds
		}
	}
	for _, rule := range s.QuotaRules {
		info := get(rule.Selector)
		info.QuotaMetricCosts = make(map[string]int64, len(rule.MetricCosts))
		for name, cost := range rule.MetricCosts {
			info.QuotaMetricCosts[name] = cost
		}
	}
	return infos
}
