package servicecontrol

// CloneOperation returns a deep copy of op. Aggregators mutate their pending
// operations in place, so anything absorbed from a caller is cloned first.
func CloneOperation(op *Operation) *Operation {
	if op == nil {
		return nil
	}
	out := *op
	out.Labels = cloneLabels(op.Labels)
	if op.MetricValueSets != nil {
		out.MetricValueSets = make([]*MetricValueSet, len(op.MetricValueSets))
		for i, s := range op.MetricValueSets {
			out.MetricValueSets[i] = CloneMetricValueSet(s)
		}
	}
	if op.LogEntries != nil {
		out.LogEntries = make([]*LogEntry, len(op.LogEntries))
		for i, e := range op.LogEntries {
			out.LogEntries[i] = CloneLogEntry(e)
		}
	}
	return &out
}

// CloneMetricValueSet returns a deep copy of s.
func CloneMetricValueSet(s *MetricValueSet) *MetricValueSet {
	if s == nil {
		return nil
	}
	out := &MetricValueSet{MetricName: s.MetricName}
	if s.MetricValues != nil {
		out.MetricValues = make([]*MetricValue, len(s.MetricValues))
		for i, v := range s.MetricValues {
			out.MetricValues[i] = CloneMetricValue(v)
		}
	}
	return out
}

// CloneMetricValue returns a deep copy of v.
func CloneMetricValue(v *MetricValue) *MetricValue {
	if v == nil {
		return nil
	}
	out := *v
	out.Labels = cloneLabels(v.Labels)
	if v.Int64Value != nil {
		i := *v.Int64Value
		out.Int64Value = &i
	}
	if v.DoubleValue != nil {
		d := *v.DoubleValue
		out.DoubleValue = &d
	}
	if v.BoolValue != nil {
		b := *v.BoolValue
		out.BoolValue = &b
	}
	if v.StringValue != nil {
		s := *v.StringValue
		out.StringValue = &s
	}
	if v.MoneyValue != nil {
		m := *v.MoneyValue
		out.MoneyValue = &m
	}
	out.DistributionValue = CloneDistribution(v.DistributionValue)
	return &out
}

// CloneDistribution returns a deep copy of d.
func CloneDistribution(d *Distribution) *Distribution {
	if d == nil {
		return nil
	}
	out := *d
	if d.BucketCounts != nil {
		out.BucketCounts = append([]int64(nil), d.BucketCounts...)
	}
	if d.ExponentialBuckets != nil {
		b := *d.ExponentialBuckets
		out.ExponentialBuckets = &b
	}
	if d.LinearBuckets != nil {
		b := *d.LinearBuckets
		out.LinearBuckets = &b
	}
	if d.ExplicitBuckets != nil {
		out.ExplicitBuckets = &ExplicitBuckets{Bounds: append([]float64(nil), d.ExplicitBuckets.Bounds...)}
	}
	return &out
}

// CloneLogEntry returns a deep copy of e. Struct payloads are shared; they
// are treated as immutable once attached to an entry.
func CloneLogEntry(e *LogEntry) *LogEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Labels = cloneLabels(e.Labels)
	return &out
}

func cloneLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
