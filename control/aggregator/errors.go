package aggregator

import "github.com/pkg/errors"

var (
	// ErrServiceName is returned when a request addressed to one service is
	// handed to an aggregator owning a different one.
	ErrServiceName = errors.New("request service name does not match aggregator service")

	// ErrValueMismatch is returned when two metric values sharing a
	// fingerprint carry different value variants and therefore cannot merge.
	ErrValueMismatch = errors.New("metric values carry mismatched value variants")

	// ErrCurrencyMismatch is returned when two money values in different
	// currencies are asked to add.
	ErrCurrencyMismatch = errors.New("money values carry different currency codes")

	// errCacheInit is an internal guard; the lru constructor only fails on a
	// non-positive size, which the options coercion already rules out.
	errCacheInit = errors.New("aggregation cache could not be constructed")
)
