package aggregator

import (
	"sync"
	"time"

	"github.com/gatekit/gatekit/config/params"
	"github.com/gatekit/gatekit/control/signing"
	"github.com/gatekit/gatekit/servicecontrol"
	"github.com/pkg/errors"
)

// MaxOperationsPerRequest caps how many aggregated operations ride in one
// flushed report. The control plane rejects oversized reports outright, so
// batches split below its documented limit.
const MaxOperationsPerRequest = 100

// reportItem accumulates every operation observed for one fingerprint
// between flushes.
type reportItem struct {
	mu      sync.Mutex
	pending *OperationAggregator
}

// ReportAggregator batches usage reports. Low-importance operations merge
// into per-fingerprint aggregates which the flush loop drains into a small
// number of batched requests; anything else is refused and travels
// synchronously.
type ReportAggregator struct {
	serviceName string
	opts        params.ReportAggregationOptions
	kinds       map[string]MetricKind
	cache       *flushCache[*reportItem]
	now         func() time.Time
}

// NewReportAggregator builds a report aggregator for the named service.
// kinds maps metric names onto their kinds; now may be nil to use wall
// time.
func NewReportAggregator(serviceName string, opts params.ReportAggregationOptions, kinds map[string]MetricKind, now func() time.Time) (*ReportAggregator, error) {
	if now == nil {
		now = time.Now
	}
	cache, err := newFlushCache[*reportItem](opts.NumEntries, opts.FlushInterval(), now)
	if err != nil {
		return nil, err
	}
	return &ReportAggregator{
		serviceName: serviceName,
		opts:        opts,
		kinds:       kinds,
		cache:       cache,
		now:         now,
	}, nil
}

// ServiceName returns the service this aggregator fronts.
func (a *ReportAggregator) ServiceName() string {
	return a.serviceName
}

// FlushIntervalMillis returns the flush cadence in milliseconds, or -1 when
// caching is disabled and every report must travel synchronously.
func (a *ReportAggregator) FlushIntervalMillis() int64 {
	if !a.cache.enabled() {
		return -1
	}
	return a.opts.FlushIntervalMillis
}

// Report absorbs req into the cache and returns true, or returns false to
// tell the caller to send the request upstream itself: caching is off, or
// the request carries an operation too important to delay.
func (a *ReportAggregator) Report(req *servicecontrol.ReportRequest) (bool, error) {
	if req.ServiceName != a.serviceName {
		return false, errors.Wrapf(ErrServiceName, "got %q, aggregating %q", req.ServiceName, a.serviceName)
	}
	if !a.cache.enabled() {
		reportCacheRejected.Inc()
		return false, nil
	}
	for _, op := range req.Operations {
		if op.Importance != servicecontrol.ImportanceLow {
			reportCacheRejected.Inc()
			return false, nil
		}
	}
	for _, op := range req.Operations {
		sig := signing.Operation(op)
		item, _ := a.cache.getOrCreate(sig, func() *reportItem {
			return &reportItem{pending: NewOperationAggregator(a.kinds)}
		})
		item.mu.Lock()
		err := item.pending.Add(op)
		item.mu.Unlock()
		if err != nil {
			return false, err
		}
		reportCacheAbsorbed.Inc()
	}
	return true, nil
}

// Flush drains every aggregate older than the flush interval, plus anything
// evicted since the last flush, and groups the operations into batched
// report requests.
func (a *ReportAggregator) Flush() []*servicecontrol.ReportRequest {
	if !a.cache.enabled() {
		return nil
	}
	return a.batch(a.cache.flush())
}

// FlushAll drains every pending aggregate regardless of age. Called once on
// shutdown so in-window usage is not abandoned.
func (a *ReportAggregator) FlushAll() []*servicecontrol.ReportRequest {
	if !a.cache.enabled() {
		return nil
	}
	return a.batch(a.cache.drainAll())
}

func (a *ReportAggregator) batch(items []*reportItem) []*servicecontrol.ReportRequest {
	var ops []*servicecontrol.Operation
	for _, item := range items {
		item.mu.Lock()
		if !item.pending.Empty() {
			ops = append(ops, item.pending.Operation())
			item.pending.Reset()
		}
		item.mu.Unlock()
	}
	if len(ops) == 0 {
		return nil
	}
	var out []*servicecontrol.ReportRequest
	for len(ops) > 0 {
		n := len(ops)
		if n > MaxOperationsPerRequest {
			n = MaxOperationsPerRequest
		}
		out = append(out, &servicecontrol.ReportRequest{
			ServiceName: a.serviceName,
			Operations:  ops[:n],
		})
		ops = ops[n:]
	}
	reportFlushedRequests.Add(float64(len(out)))
	return out
}

// Clear drops every pending aggregate. Used on shutdown after a final
// flush; anything still here is abandoned.
func (a *ReportAggregator) Clear() {
	a.cache.clear()
}
