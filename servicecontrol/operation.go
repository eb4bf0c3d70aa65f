// Package servicecontrol defines the wire model shared by the Check,
// AllocateQuota and Report calls consumed by the admission core. The
// transport that actually carries these messages is supplied by the host;
// this package only describes the payloads and their local invariants.
package servicecontrol

import (
	"time"

	"github.com/pkg/errors"
)

// Importance governs whether an operation may be aggregated and served from
// cache. Only low-importance operations are eligible; high-importance ones
// must travel upstream synchronously.
type Importance int32

const (
	// ImportanceLow marks operations that tolerate caching and batching.
	ImportanceLow Importance = iota
	// ImportanceHigh marks operations that must be sent immediately.
	ImportanceHigh
)

// String returns the canonical wire name of the importance level.
func (i Importance) String() string {
	if i == ImportanceHigh {
		return "HIGH"
	}
	return "LOW"
}

// Operation is the unit carried by Check, AllocateQuota and Report traffic.
type Operation struct {
	OperationID     string            `json:"operationId"`
	OperationName   string            `json:"operationName"`
	ConsumerID      string            `json:"consumerId,omitempty"`
	StartTime       time.Time         `json:"startTime"`
	EndTime         time.Time         `json:"endTime"`
	Importance      Importance        `json:"importance"`
	Labels          map[string]string `json:"labels,omitempty"`
	MetricValueSets []*MetricValueSet `json:"metricValueSets,omitempty"`
	LogEntries      []*LogEntry       `json:"logEntries,omitempty"`
}

// Validate reports whether the operation satisfies its local invariants:
// the time range is ordered and the consumer id, when present, uses one of
// the two recognized encodings.
func (o *Operation) Validate() error {
	if o == nil {
		return errors.New("operation is nil")
	}
	if !o.StartTime.IsZero() && !o.EndTime.IsZero() && o.EndTime.Before(o.StartTime) {
		return errors.Errorf("operation %s: end time %v before start time %v", o.OperationID, o.EndTime, o.StartTime)
	}
	if !ValidConsumerID(o.ConsumerID) {
		return errors.Errorf("operation %s: unrecognized consumer id %q", o.OperationID, o.ConsumerID)
	}
	return nil
}

// Consumer id encodings recognized on operations.
const (
	APIKeyConsumerPrefix  = "api_key:"
	ProjectConsumerPrefix = "project:"
)

// ValidConsumerID reports whether id is empty or uses one of the recognized
// consumer encodings.
func ValidConsumerID(id string) bool {
	if id == "" {
		return true
	}
	return hasPrefix(id, APIKeyConsumerPrefix) || hasPrefix(id, ProjectConsumerPrefix)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// MetricValueSet groups the values observed for a single metric.
type MetricValueSet struct {
	MetricName   string         `json:"metricName"`
	MetricValues []*MetricValue `json:"metricValues"`
}

// MetricValue carries labels plus exactly one value variant. Pointer fields
// distinguish an absent variant from a zero value.
type MetricValue struct {
	Labels    map[string]string `json:"labels,omitempty"`
	StartTime time.Time         `json:"startTime,omitempty"`
	EndTime   time.Time         `json:"endTime,omitempty"`

	Int64Value        *int64        `json:"int64Value,omitempty"`
	DoubleValue       *float64      `json:"doubleValue,omitempty"`
	BoolValue         *bool         `json:"boolValue,omitempty"`
	StringValue       *string       `json:"stringValue,omitempty"`
	DistributionValue *Distribution `json:"distributionValue,omitempty"`
	MoneyValue        *Money        `json:"moneyValue,omitempty"`
}

// LogEntry is a single log record attached to an operation.
type LogEntry struct {
	Name          string                 `json:"name"`
	Timestamp     time.Time              `json:"timestamp"`
	Severity      string                 `json:"severity,omitempty"`
	Labels        map[string]string      `json:"labels,omitempty"`
	TextPayload   string                 `json:"textPayload,omitempty"`
	StructPayload map[string]interface{} `json:"structPayload,omitempty"`
}

// Money is an amount in a specific currency.
type Money struct {
	CurrencyCode string `json:"currencyCode"`
	Units        int64  `json:"units"`
	Nanos        int32  `json:"nanos"`
}

// Distribution is the wire form of a bucketed histogram. Exactly one bucket
// option is set and BucketCounts matches its bucket count.
type Distribution struct {
	Count                 int64   `json:"count"`
	Mean                  float64 `json:"mean"`
	Minimum               float64 `json:"minimum"`
	Maximum               float64 `json:"maximum"`
	SumOfSquaredDeviation float64 `json:"sumOfSquaredDeviation"`
	BucketCounts          []int64 `json:"bucketCounts,omitempty"`

	ExponentialBuckets *ExponentialBuckets `json:"exponentialBuckets,omitempty"`
	LinearBuckets      *LinearBuckets      `json:"linearBuckets,omitempty"`
	ExplicitBuckets    *ExplicitBuckets    `json:"explicitBuckets,omitempty"`
}

// ExponentialBuckets describes buckets growing geometrically from Scale.
type ExponentialBuckets struct {
	NumFiniteBuckets int32   `json:"numFiniteBuckets"`
	GrowthFactor     float64 `json:"growthFactor"`
	Scale            float64 `json:"scale"`
}

// LinearBuckets describes evenly sized buckets starting at Offset.
type LinearBuckets struct {
	NumFiniteBuckets int32   `json:"numFiniteBuckets"`
	Width            float64 `json:"width"`
	Offset           float64 `json:"offset"`
}

// ExplicitBuckets describes buckets bounded by a strictly increasing list.
type ExplicitBuckets struct {
	Bounds []float64 `json:"bounds"`
}
