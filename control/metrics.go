package control

import (
	"time"

	"github.com/gatekit/gatekit/control/aggregator"
	"github.com/gatekit/gatekit/control/distribution"
	"github.com/gatekit/gatekit/servicecontrol"
)

// Histogram shapes shared by all size and latency metrics.
const (
	sizeBuckets = 8
	sizeGrowth  = 10.0
	sizeScale   = 1.0
	timeBuckets = 8
	timeGrowth  = 10.0
	timeScale   = 1e-6 // seconds
)

// Metric names the core can populate.
const (
	metricConsumerRequestCount     = "serviceruntime.googleapis.com/api/consumer/request_count"
	metricProducerRequestCount     = "serviceruntime.googleapis.com/api/producer/request_count"
	metricConsumerRequestSizes     = "serviceruntime.googleapis.com/api/consumer/request_sizes"
	metricProducerRequestSizes     = "serviceruntime.googleapis.com/api/producer/request_sizes"
	metricConsumerResponseSizes    = "serviceruntime.googleapis.com/api/consumer/response_sizes"
	metricProducerResponseSizes    = "serviceruntime.googleapis.com/api/producer/response_sizes"
	metricProducerRequestLatencies = "serviceruntime.googleapis.com/api/producer/total_latencies"
	metricProducerBackendLatencies = "serviceruntime.googleapis.com/api/producer/backend_latencies"
)

// metricUpdater is one row of the closed metric table: the wire name, the
// aggregation kind and how to derive the value from the request facts.
// The service's metric rules select rows from this table at engine
// construction; nothing is discovered by reflection.
type metricUpdater struct {
	name   string
	kind   aggregator.MetricKind
	update func(info *ReportRequestInfo) (*servicecontrol.MetricValue, error)
}

func countValue(*ReportRequestInfo) (*servicecontrol.MetricValue, error) {
	one := int64(1)
	return &servicecontrol.MetricValue{Int64Value: &one}, nil
}

func sizeValue(pick func(*ReportRequestInfo) int64) func(*ReportRequestInfo) (*servicecontrol.MetricValue, error) {
	return func(i *ReportRequestInfo) (*servicecontrol.MetricValue, error) {
		d, err := distribution.NewExponential(sizeBuckets, sizeGrowth, sizeScale)
		if err != nil {
			return nil, err
		}
		if err := distribution.AddSample(d, float64(pick(i))); err != nil {
			return nil, err
		}
		return &servicecontrol.MetricValue{DistributionValue: d}, nil
	}
}

func latencyValue(pick func(*ReportRequestInfo) time.Duration) func(*ReportRequestInfo) (*servicecontrol.MetricValue, error) {
	return func(i *ReportRequestInfo) (*servicecontrol.MetricValue, error) {
		d, err := distribution.NewExponential(timeBuckets, timeGrowth, timeScale)
		if err != nil {
			return nil, err
		}
		if err := distribution.AddSample(d, pick(i).Seconds()); err != nil {
			return nil, err
		}
		return &servicecontrol.MetricValue{DistributionValue: d}, nil
	}
}

var knownMetrics = []metricUpdater{
	{metricConsumerRequestCount, aggregator.MetricKindDelta, countValue},
	{metricProducerRequestCount, aggregator.MetricKindDelta, countValue},
	{metricConsumerRequestSizes, aggregator.MetricKindDelta, sizeValue(func(i *ReportRequestInfo) int64 { return i.RequestSize })},
	{metricProducerRequestSizes, aggregator.MetricKindDelta, sizeValue(func(i *ReportRequestInfo) int64 { return i.RequestSize })},
	{metricConsumerResponseSizes, aggregator.MetricKindDelta, sizeValue(func(i *ReportRequestInfo) int64 { return i.ResponseSize })},
	{metricProducerResponseSizes, aggregator.MetricKindDelta, sizeValue(func(i *ReportRequestInfo) int64 { return i.ResponseSize })},
	{metricProducerRequestLatencies, aggregator.MetricKindDelta, latencyValue(func(i *ReportRequestInfo) time.Duration { return i.RequestLatency })},
	{metricProducerBackendLatencies, aggregator.MetricKindDelta, latencyValue(func(i *ReportRequestInfo) time.Duration { return i.BackendLatency })},
}

// selectMetrics returns the rows matching wanted names, or the full table
// when the service names none.
func selectMetrics(wanted []string) []metricUpdater {
	if len(wanted) == 0 {
		return knownMetrics
	}
	want := make(map[string]bool, len(wanted))
	for _, n := range wanted {
		want[n] = true
	}
	var out []metricUpdater
	for _, u := range knownMetrics {
		if want[u.name] {
			out = append(out, u)
		}
	}
	return out
}

// MetricKinds builds the kind table the aggregators merge by, covering the
// closed metric table plus any quota metrics, which always behave as
// deltas.
func MetricKinds(extra ...string) map[string]aggregator.MetricKind {
	kinds := make(map[string]aggregator.MetricKind, len(knownMetrics)+len(extra))
	for _, u := range knownMetrics {
		kinds[u.name] = u.kind
	}
	for _, name := range extra {
		kinds[name] = aggregator.MetricKindDelta
	}
	return kinds
}
