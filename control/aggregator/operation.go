package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/gatekit/gatekit/control/distribution"
	"github.com/gatekit/gatekit/control/signing"
	"github.com/gatekit/gatekit/servicecontrol"
	"github.com/pkg/errors"
)

// MetricKind selects how repeated values of a metric combine.
type MetricKind int

const (
	// MetricKindDelta metrics accumulate: amounts add across merges.
	MetricKindDelta MetricKind = iota
	// MetricKindCumulative metrics are running totals: the value with the
	// latest end time supersedes the rest.
	MetricKindCumulative
	// MetricKindGauge metrics are point samples: the value with the latest
	// end time supersedes the rest.
	MetricKindGauge
)

// mergedValue tracks one metric value under a fingerprint together with the
// order it last arrived in, which breaks end-time ties for non-delta kinds.
type mergedValue struct {
	value   *servicecontrol.MetricValue
	arrival int
}

// OperationAggregator folds a sequence of operations sharing a fingerprint
// into one operation. Time ranges widen, log entries concatenate in arrival
// order and metric values merge per metric kind. The aggregator owns deep
// copies of everything it absorbs; callers keep ownership of their inputs.
type OperationAggregator struct {
	kinds map[string]MetricKind

	op     *servicecontrol.Operation
	values map[string]map[[32]byte]*mergedValue
	seq    int
	count  int
}

// NewOperationAggregator returns an empty aggregator. kinds maps metric
// names onto their kinds; metrics absent from the map aggregate as deltas.
func NewOperationAggregator(kinds map[string]MetricKind) *OperationAggregator {
	return &OperationAggregator{
		kinds:  kinds,
		values: make(map[string]map[[32]byte]*mergedValue),
	}
}

// Empty reports whether the aggregator has absorbed no operations yet.
func (a *OperationAggregator) Empty() bool {
	return a.op == nil
}

// Count returns how many operations have been absorbed.
func (a *OperationAggregator) Count() int {
	return a.count
}

// Add merges op into the running aggregate.
func (a *OperationAggregator) Add(op *servicecontrol.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	a.count++
	if a.op == nil {
		base := servicecontrol.CloneOperation(op)
		base.MetricValueSets = nil
		a.op = base
	} else {
		if !op.StartTime.IsZero() && (a.op.StartTime.IsZero() || op.StartTime.Before(a.op.StartTime)) {
			a.op.StartTime = op.StartTime
		}
		if op.EndTime.After(a.op.EndTime) {
			a.op.EndTime = op.EndTime
		}
		for _, e := range op.LogEntries {
			a.op.LogEntries = append(a.op.LogEntries, servicecontrol.CloneLogEntry(e))
		}
	}
	for _, mvs := range op.MetricValueSets {
		for _, mv := range mvs.MetricValues {
			if err := a.mergeValue(mvs.MetricName, mv); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *OperationAggregator) mergeValue(metricName string, mv *servicecontrol.MetricValue) error {
	byFP := a.values[metricName]
	if byFP == nil {
		byFP = make(map[[32]byte]*mergedValue)
		a.values[metricName] = byFP
	}
	a.seq++
	fp := signing.MetricValue(mv)
	existing := byFP[fp]
	if existing == nil {
		byFP[fp] = &mergedValue{value: servicecontrol.CloneMetricValue(mv), arrival: a.seq}
		return nil
	}
	if a.kinds[metricName] == MetricKindDelta {
		if err := combineDelta(existing.value, mv); err != nil {
			return errors.Wrapf(err, "metric %s", metricName)
		}
		existing.arrival = a.seq
		return nil
	}
	// Non-delta kinds keep the value with the later end time. An equal end
	// time yields to the later arrival.
	if mv.EndTime.After(existing.value.EndTime) || mv.EndTime.Equal(existing.value.EndTime) {
		byFP[fp] = &mergedValue{value: servicecontrol.CloneMetricValue(mv), arrival: a.seq}
	}
	return nil
}

// combineDelta folds src into dst in place. Both carry the same fingerprint,
// so labels and currency already agree; only the amounts and time range
// change.
func combineDelta(dst, src *servicecontrol.MetricValue) error {
	switch {
	case dst.Int64Value != nil && src.Int64Value != nil:
		*dst.Int64Value += *src.Int64Value
	case dst.DoubleValue != nil && src.DoubleValue != nil:
		*dst.DoubleValue += *src.DoubleValue
	case dst.DistributionValue != nil && src.DistributionValue != nil:
		merged, err := distribution.Merge(dst.DistributionValue, src.DistributionValue)
		if err != nil {
			return err
		}
		dst.DistributionValue = merged
	case dst.MoneyValue != nil && src.MoneyValue != nil:
		if err := addMoney(dst.MoneyValue, src.MoneyValue); err != nil {
			return err
		}
	default:
		return ErrValueMismatch
	}
	unionTimeRange(dst, src)
	return nil
}

func unionTimeRange(dst, src *servicecontrol.MetricValue) {
	if !src.StartTime.IsZero() && (dst.StartTime.IsZero() || src.StartTime.Before(dst.StartTime)) {
		dst.StartTime = src.StartTime
	}
	if src.EndTime.After(dst.EndTime) {
		dst.EndTime = src.EndTime
	}
}

const nanosPerUnit = int32(1e9)

// addMoney adds src to dst, normalizing nanos into units and saturating the
// unit count instead of wrapping.
func addMoney(dst, src *servicecontrol.Money) error {
	if dst.CurrencyCode != src.CurrencyCode {
		return errors.Wrapf(ErrCurrencyMismatch, "%q vs %q", dst.CurrencyCode, src.CurrencyCode)
	}
	units := saturatingAdd(dst.Units, src.Units)
	nanos := dst.Nanos + src.Nanos
	if nanos >= nanosPerUnit {
		nanos -= nanosPerUnit
		units = saturatingAdd(units, 1)
	} else if nanos <= -nanosPerUnit {
		nanos += nanosPerUnit
		units = saturatingAdd(units, -1)
	}
	dst.Units = units
	dst.Nanos = nanos
	return nil
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// Operation materializes the aggregate. Metric value sets come out in
// sorted metric-name order so repeated flushes of the same state are
// byte-identical. Returns nil if nothing was absorbed.
func (a *OperationAggregator) Operation() *servicecontrol.Operation {
	if a.op == nil {
		return nil
	}
	out := servicecontrol.CloneOperation(a.op)
	names := make([]string, 0, len(a.values))
	for name := range a.values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		byFP := a.values[name]
		set := &servicecontrol.MetricValueSet{MetricName: name}
		vals := make([]*mergedValue, 0, len(byFP))
		for _, v := range byFP {
			vals = append(vals, v)
		}
		sort.Slice(vals, func(i, j int) bool { return vals[i].arrival < vals[j].arrival })
		for _, v := range vals {
			set.MetricValues = append(set.MetricValues, servicecontrol.CloneMetricValue(v.value))
		}
		out.MetricValueSets = append(out.MetricValueSets, set)
	}
	return out
}

// Reset drops the accumulated state, keeping the kind table. The next Add
// starts a fresh aggregate.
func (a *OperationAggregator) Reset() {
	a.op = nil
	a.values = make(map[string]map[[32]byte]*mergedValue)
	a.seq = 0
	a.count = 0
}

// TimeRange returns the aggregate's observed start and end times.
func (a *OperationAggregator) TimeRange() (time.Time, time.Time) {
	if a.op == nil {
		return time.Time{}, time.Time{}
	}
	return a.op.StartTime, a.op.EndTime
}
