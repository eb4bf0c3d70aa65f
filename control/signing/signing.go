// Package signing derives the stable fingerprints under which requests and
// operations aggregate. Two requests that may legally be folded into one
// produce the same fingerprint: numeric amounts are deliberately left out of
// the digest so that only the identifying fields (consumer, operation,
// labels, metric names, currency codes) separate cache entries.
package signing

import (
	stdhash "hash"
	"sort"

	"github.com/gatekit/gatekit/crypto/hash"
	"github.com/gatekit/gatekit/servicecontrol"
)

// Fields are separated by a NUL written before each field, which cannot
// occur inside the identifiers being hashed.
var sep = []byte{0}

// CheckRequest fingerprints a Check request by consumer, operation name,
// operation labels and the identifying parts of its metric value sets.
func CheckRequest(req *servicecontrol.CheckRequest) [32]byte {
	h := hash.New()
	writeOperationIdentity(h, req.Operation.ConsumerID, req.Operation.OperationName, req.Operation.Labels)
	for _, mvs := range req.Operation.MetricValueSets {
		writeMetricValueSet(h, mvs)
	}
	return sum32(h)
}

// Operation fingerprints a single Report operation the same way Check
// requests are fingerprinted, so repeated calls against one method and
// consumer collapse into one aggregated operation.
func Operation(op *servicecontrol.Operation) [32]byte {
	h := hash.New()
	writeOperationIdentity(h, op.ConsumerID, op.OperationName, op.Labels)
	for _, mvs := range op.MetricValueSets {
		writeMetricValueSet(h, mvs)
	}
	return sum32(h)
}

// QuotaRequest fingerprints an AllocateQuota request. Metric sets are
// hashed in sorted name order so the fingerprint does not depend on how the
// caller happened to arrange them, and costs are excluded so allocations of
// different amounts aggregate under one entry.
func QuotaRequest(req *servicecontrol.AllocateQuotaRequest) [32]byte {
	h := hash.New()
	op := req.AllocateOperation
	writeOperationIdentity(h, op.ConsumerID, op.MethodName, op.Labels)

	names := make([]string, 0, len(op.QuotaMetrics))
	byName := make(map[string]*servicecontrol.MetricValueSet, len(op.QuotaMetrics))
	for _, mvs := range op.QuotaMetrics {
		names = append(names, mvs.MetricName)
		byName[mvs.MetricName] = mvs
	}
	sort.Strings(names)
	for _, name := range names {
		writeMetricValueSet(h, byName[name])
	}
	return sum32(h)
}

// MetricValue fingerprints a single metric value by its labels and, for
// money, the currency code. The amount itself is excluded: values that
// differ only in amount share a fingerprint and merge.
func MetricValue(mv *servicecontrol.MetricValue) [32]byte {
	h := hash.New()
	writeLabels(h, mv.Labels)
	if mv.MoneyValue != nil {
		h.Write(sep)
		h.Write([]byte(mv.MoneyValue.CurrencyCode))
	}
	return sum32(h)
}

func writeOperationIdentity(h stdhash.Hash, consumerID, operationName string, labels map[string]string) {
	h.Write([]byte(consumerID))
	h.Write(sep)
	h.Write([]byte(operationName))
	writeLabels(h, labels)
}

func writeMetricValueSet(h stdhash.Hash, mvs *servicecontrol.MetricValueSet) {
	h.Write(sep)
	h.Write([]byte(mvs.MetricName))
	for _, mv := range mvs.MetricValues {
		writeLabels(h, mv.Labels)
		if mv.MoneyValue != nil {
			h.Write(sep)
			h.Write([]byte(mv.MoneyValue.CurrencyCode))
		}
	}
}

// writeLabels hashes labels in sorted key order, a NUL before every key and
// every value.
func writeLabels(h stdhash.Hash, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write(sep)
		h.Write([]byte(k))
		h.Write(sep)
		h.Write([]byte(labels[k]))
	}
}

func sum32(h stdhash.Hash) [32]byte {
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
