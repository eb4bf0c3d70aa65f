// Package params defines the tunable constants governing the admission
// core: aggregation cache sizes, flush and expiration windows and the
// authentication cache bounds, together with their defaults and the
// process-wide active configuration.
package params

import "time"

// Config gathers every tunable of the admission core. Windows are carried
// in milliseconds, the unit the control plane documents them in.
type Config struct {
	// ServiceName is the managed service the sidecar fronts. Required.
	ServiceName string `yaml:"service_name"`
	// ServiceConfigID pins the service configuration version. When empty,
	// the latest version known to the control plane applies.
	ServiceConfigID string `yaml:"service_config_id"`

	Check  CheckAggregationOptions  `yaml:"check"`
	Quota  QuotaAggregationOptions  `yaml:"quota"`
	Report ReportAggregationOptions `yaml:"report"`
	Auth   AuthOptions              `yaml:"auth"`
}

// CheckAggregationOptions bounds the admission-decision cache.
type CheckAggregationOptions struct {
	// NumEntries caps the cache. Zero or less disables caching; every
	// check then travels upstream.
	NumEntries int `yaml:"num_entries"`
	// FlushIntervalMillis is both the freshness window of a cached
	// decision and the cadence of the background flush loop.
	FlushIntervalMillis int64 `yaml:"flush_interval_millis"`
	// ResponseExpirationMillis is how long an entry may live before it is
	// evicted outright. Coerced to at least FlushIntervalMillis+1 so an
	// entry always survives into the flush that would refresh it.
	ResponseExpirationMillis int64 `yaml:"response_expiration_millis"`
}

// QuotaAggregationOptions bounds the quota-allocation cache. The refresh
// window must stay below the expiration window: refreshes are background
// traffic while expiration forces the caller back onto the synchronous
// path.
type QuotaAggregationOptions struct {
	NumEntries int `yaml:"num_entries"`
	// RefreshMillis is the age past which a cached allocation triggers a
	// background best-effort refresh.
	RefreshMillis int64 `yaml:"refresh_millis"`
	// ExpirationMillis is how long a cached allocation response serves.
	// Coerced to at least RefreshMillis+1.
	ExpirationMillis int64 `yaml:"expiration_millis"`
}

// ReportAggregationOptions bounds the usage-report cache.
type ReportAggregationOptions struct {
	NumEntries          int   `yaml:"num_entries"`
	FlushIntervalMillis int64 `yaml:"flush_interval_millis"`
}

// AuthOptions bounds the two authentication caches.
type AuthOptions struct {
	// ClaimsCacheSize caps the decoded-claims cache keyed by token.
	ClaimsCacheSize int `yaml:"claims_cache_size"`
	// ClaimsCacheTTLMillis is how long decoded claims stay reusable.
	ClaimsCacheTTLMillis int64 `yaml:"claims_cache_ttl_millis"`
	// KeyCacheTTLMillis is how long a fetched key set serves an issuer.
	KeyCacheTTLMillis int64 `yaml:"key_cache_ttl_millis"`
}

// DefaultConfig returns the configuration the core ships with.
func DefaultConfig() *Config {
	return &Config{
		Check: CheckAggregationOptions{
			NumEntries:               10000,
			FlushIntervalMillis:      500,
			ResponseExpirationMillis: 1000,
		},
		Quota: QuotaAggregationOptions{
			NumEntries:       10000,
			RefreshMillis:    1000,
			ExpirationMillis: 10000,
		},
		Report: ReportAggregationOptions{
			NumEntries:          10000,
			FlushIntervalMillis: 1000,
		},
		Auth: AuthOptions{
			ClaimsCacheSize:      200,
			ClaimsCacheTTLMillis: (5 * time.Minute).Milliseconds(),
			KeyCacheTTLMillis:    (5 * time.Minute).Milliseconds(),
		},
	}
}

// Coerce repairs window orderings that would otherwise let entries expire
// before the loop meant to refresh them runs.
func (c *Config) Coerce() {
	if c.Check.ResponseExpirationMillis <= c.Check.FlushIntervalMillis {
		c.Check.ResponseExpirationMillis = c.Check.FlushIntervalMillis + 1
	}
	if c.Quota.ExpirationMillis <= c.Quota.RefreshMillis {
		c.Quota.ExpirationMillis = c.Quota.RefreshMillis + 1
	}
}

// FlushInterval returns the check flush window as a duration.
func (o CheckAggregationOptions) FlushInterval() time.Duration {
	return time.Duration(o.FlushIntervalMillis) * time.Millisecond
}

// ResponseExpiration returns the check entry lifetime as a duration.
func (o CheckAggregationOptions) ResponseExpiration() time.Duration {
	return time.Duration(o.ResponseExpirationMillis) * time.Millisecond
}

// Refresh returns the quota refresh window as a duration.
func (o QuotaAggregationOptions) Refresh() time.Duration {
	return time.Duration(o.RefreshMillis) * time.Millisecond
}

// Expiration returns the quota entry lifetime as a duration.
func (o QuotaAggregationOptions) Expiration() time.Duration {
	return time.Duration(o.ExpirationMillis) * time.Millisecond
}

// FlushInterval returns the report flush window as a duration.
func (o ReportAggregationOptions) FlushInterval() time.Duration {
	return time.Duration(o.FlushIntervalMillis) * time.Millisecond
}

// ClaimsCacheTTL returns the claims cache lifetime as a duration.
func (o AuthOptions) ClaimsCacheTTL() time.Duration {
	return time.Duration(o.ClaimsCacheTTLMillis) * time.Millisecond
}

// KeyCacheTTL returns the key cache lifetime as a duration.
func (o AuthOptions) KeyCacheTTL() time.Duration {
	return time.Duration(o.KeyCacheTTLMillis) * time.Millisecond
}
