package aggregator

import (
	"sync"
	"time"

	"github.com/gatekit/gatekit/config/params"
	"github.com/gatekit/gatekit/control/signing"
	"github.com/gatekit/gatekit/servicecontrol"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// quotaItem is the cached state for one quota fingerprint: the last
// allocation response, the costs absorbed since the last refresh and the
// single-flight refresh guard. scale counts the requests those costs came
// from.
type quotaItem struct {
	mu          sync.Mutex
	response    *servicecontrol.AllocateQuotaResponse
	lastRefresh time.Time
	flushing    bool
	costs       map[string]int64
	scale       int64
	exemplar    *servicecontrol.QuotaOperation
}

// QuotaAggregator serves quota allocations from cache while the control
// plane's last answer is within its expiration window, accumulating the
// costs of absorbed requests and replaying them upstream as best-effort
// refreshes. The quota service stays authoritative; the cache only rides
// out the window between refreshes.
type QuotaAggregator struct {
	serviceName string
	opts        params.QuotaAggregationOptions
	cache       *flushCache[*quotaItem]
	now         func() time.Time
}

// NewQuotaAggregator builds a quota aggregator for the named service. now
// may be nil to use wall time.
func NewQuotaAggregator(serviceName string, opts params.QuotaAggregationOptions, now func() time.Time) (*QuotaAggregator, error) {
	if now == nil {
		now = time.Now
	}
	// Refresh must come due before the entry expires, or every caller falls
	// back onto the synchronous path.
	if opts.ExpirationMillis <= opts.RefreshMillis {
		opts.ExpirationMillis = opts.RefreshMillis + 1
	}
	cache, err := newFlushCache[*quotaItem](opts.NumEntries, opts.Expiration(), now)
	if err != nil {
		return nil, err
	}
	return &QuotaAggregator{
		serviceName: serviceName,
		opts:        opts,
		cache:       cache,
		now:         now,
	}, nil
}

// ServiceName returns the service this aggregator fronts.
func (a *QuotaAggregator) ServiceName() string {
	return a.serviceName
}

// FlushInterval returns the cadence the owner should call Flush at, or -1
// when caching is disabled.
func (a *QuotaAggregator) FlushInterval() time.Duration {
	if !a.cache.enabled() {
		return -1
	}
	return a.opts.Refresh()
}

// AllocateQuota answers req from cache when the last upstream allocation is
// still within its expiration window, absorbing the request's costs for the
// next background refresh. A nil response instructs the caller to send the
// request upstream and hand the result to CacheResponse.
//
// The first request for a fingerprint returns nil but seeds the entry with
// an optimistic allowed response, so concurrent callers proceed instead of
// stampeding the quota service.
func (a *QuotaAggregator) AllocateQuota(req *servicecontrol.AllocateQuotaRequest) (*servicecontrol.AllocateQuotaResponse, error) {
	if req.ServiceName != a.serviceName {
		return nil, errors.Wrapf(ErrServiceName, "got %q, aggregating %q", req.ServiceName, a.serviceName)
	}
	if !a.cache.enabled() {
		quotaCacheMiss.Inc()
		return nil, nil
	}
	sig := signing.QuotaRequest(req)
	item, existed := a.cache.getOrCreate(sig, func() *quotaItem {
		return &quotaItem{
			response: &servicecontrol.AllocateQuotaResponse{
				OperationID: req.AllocateOperation.OperationID,
			},
			lastRefresh: a.now(),
			flushing:    true,
			costs:       make(map[string]int64),
			exemplar:    quotaExemplarOf(req.AllocateOperation),
		}
	})
	if !existed {
		quotaCacheMiss.Inc()
		return nil, nil
	}

	item.mu.Lock()
	defer item.mu.Unlock()
	now := a.now()
	if now.Sub(item.lastRefresh) >= a.opts.Expiration() {
		// The cached answer has outlived its warranty; this caller goes
		// upstream synchronously while the entry keeps absorbing others.
		item.lastRefresh = now
		item.flushing = true
		quotaCacheMiss.Inc()
		return nil, nil
	}
	addCosts(item.costs, req.AllocateOperation.QuotaMetrics)
	item.scale++
	quotaCacheHit.Inc()
	return item.response.Clone(), nil
}

// CacheResponse records the upstream allocation for req and ends any
// in-flight refresh for its fingerprint.
func (a *QuotaAggregator) CacheResponse(req *servicecontrol.AllocateQuotaRequest, resp *servicecontrol.AllocateQuotaResponse) {
	if !a.cache.enabled() {
		return
	}
	sig := signing.QuotaRequest(req)
	item, _ := a.cache.getOrCreate(sig, func() *quotaItem {
		return &quotaItem{
			costs:    make(map[string]int64),
			exemplar: quotaExemplarOf(req.AllocateOperation),
		}
	})
	item.mu.Lock()
	item.response = resp.Clone()
	item.lastRefresh = a.now()
	item.flushing = false
	item.scale = 0
	item.mu.Unlock()
	// Restart the entry's expiration clock; a fingerprint that keeps
	// refreshing stays cached.
	a.cache.put(sig, item)
}

// ResetFlushing clears the single-flight guard for req after an upstream
// call terminated without a response.
func (a *QuotaAggregator) ResetFlushing(req *servicecontrol.AllocateQuotaRequest) {
	if !a.cache.enabled() {
		return
	}
	item, ok := a.cache.get(signing.QuotaRequest(req))
	if !ok {
		return
	}
	item.mu.Lock()
	item.flushing = false
	item.mu.Unlock()
}

// Flush returns one best-effort allocation request per fingerprint whose
// refresh has come due, each carrying the costs summed since its last
// refresh. Fingerprints with a refresh already in flight are skipped.
func (a *QuotaAggregator) Flush() []*servicecontrol.AllocateQuotaRequest {
	if !a.cache.enabled() {
		return nil
	}
	var out []*servicecontrol.AllocateQuotaRequest
	for _, item := range a.cache.values() {
		if req := a.takeCosts(item, true); req != nil {
			out = append(out, req)
		}
	}
	for _, item := range a.cache.flush() {
		if req := a.takeCosts(item, false); req != nil {
			out = append(out, req)
		}
	}
	quotaFlushedRequests.Add(float64(len(out)))
	return out
}

// FlushAll drains the absorbed costs of every fingerprint regardless of
// refresh windows. Called once on shutdown for a final reconciliation pass.
func (a *QuotaAggregator) FlushAll() []*servicecontrol.AllocateQuotaRequest {
	if !a.cache.enabled() {
		return nil
	}
	var out []*servicecontrol.AllocateQuotaRequest
	for _, item := range a.cache.drainAll() {
		if req := a.takeCosts(item, false); req != nil {
			out = append(out, req)
		}
	}
	quotaFlushedRequests.Add(float64(len(out)))
	return out
}

func (a *QuotaAggregator) takeCosts(item *quotaItem, live bool) *servicecontrol.AllocateQuotaRequest {
	item.mu.Lock()
	defer item.mu.Unlock()
	if len(item.costs) == 0 {
		return nil
	}
	if live {
		if item.flushing {
			return nil
		}
		if a.now().Sub(item.lastRefresh) <= a.opts.Refresh() {
			return nil
		}
		item.flushing = true
		item.lastRefresh = a.now()
	}
	op := quotaExemplarOf(item.exemplar)
	op.OperationID = uuid.NewString()
	op.QuotaMode = servicecontrol.QuotaModeBestEffort
	for name, cost := range item.costs {
		c := cost
		op.QuotaMetrics = append(op.QuotaMetrics, &servicecontrol.MetricValueSet{
			MetricName:   name,
			MetricValues: []*servicecontrol.MetricValue{{Int64Value: &c}},
		})
	}
	item.costs = make(map[string]int64)
	item.scale = 0
	return &servicecontrol.AllocateQuotaRequest{
		ServiceName:       a.serviceName,
		AllocateOperation: op,
	}
}

// Clear drops every cached allocation and pending cost.
func (a *QuotaAggregator) Clear() {
	a.cache.clear()
}

func addCosts(into map[string]int64, sets []*servicecontrol.MetricValueSet) {
	for _, mvs := range sets {
		for _, mv := range mvs.MetricValues {
			if mv.Int64Value != nil {
				into[mvs.MetricName] += *mv.Int64Value
			}
		}
	}
}

func quotaExemplarOf(op *servicecontrol.QuotaOperation) *servicecontrol.QuotaOperation {
	out := *op
	out.QuotaMetrics = nil
	if op.Labels != nil {
		out.Labels = make(map[string]string, len(op.Labels))
		for k, v := range op.Labels {
			out.Labels[k] = v
		}
	}
	return &out
}
