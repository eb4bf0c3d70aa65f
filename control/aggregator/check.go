package aggregator

import (
	"sync"
	"time"

	"github.com/gatekit/gatekit/config/params"
	"github.com/gatekit/gatekit/control/signing"
	"github.com/gatekit/gatekit/servicecontrol"
	"github.com/pkg/errors"
)

// checkItem is the cached state for one check fingerprint: the last upstream
// decision, when it was taken, the delta operations absorbed since and the
// single-flight refresh guard.
type checkItem struct {
	mu        sync.Mutex
	response  *servicecontrol.CheckResponse
	lastCheck time.Time
	flushing  bool
	pending   *OperationAggregator
	// exemplar carries the identity fields (consumer, name, labels) a
	// synthetic refresh request is rebuilt from.
	exemplar *servicecontrol.Operation
}

// CheckAggregator suppresses duplicate admission checks. While a cached
// decision is fresh it answers callers locally; when it goes stale exactly
// one caller is asked to refresh it upstream and everyone else keeps the
// stale answer until the refresh lands.
type CheckAggregator struct {
	serviceName string
	opts        params.CheckAggregationOptions
	kinds       map[string]MetricKind
	cache       *flushCache[*checkItem]
	now         func() time.Time
}

// NewCheckAggregator builds a check aggregator for the named service.
// kinds maps metric names onto their kinds for delta aggregation; now may
// be nil to use wall time.
func NewCheckAggregator(serviceName string, opts params.CheckAggregationOptions, kinds map[string]MetricKind, now func() time.Time) (*CheckAggregator, error) {
	if now == nil {
		now = time.Now
	}
	// An entry must outlive the flush that refreshes it.
	if opts.ResponseExpirationMillis <= opts.FlushIntervalMillis {
		opts.ResponseExpirationMillis = opts.FlushIntervalMillis + 1
	}
	cache, err := newFlushCache[*checkItem](opts.NumEntries, opts.ResponseExpiration(), now)
	if err != nil {
		return nil, err
	}
	return &CheckAggregator{
		serviceName: serviceName,
		opts:        opts,
		kinds:       kinds,
		cache:       cache,
		now:         now,
	}, nil
}

// ServiceName returns the service this aggregator fronts.
func (a *CheckAggregator) ServiceName() string {
	return a.serviceName
}

// FlushInterval returns the cadence the owner should call Flush at, or -1
// when caching is disabled and there is nothing to flush.
func (a *CheckAggregator) FlushInterval() time.Duration {
	if !a.cache.enabled() {
		return -1
	}
	return a.opts.FlushInterval()
}

// Check answers req from cache when possible. A nil response instructs the
// caller to send the request upstream and hand the result to AddResponse;
// the flushing guard ensures at most one caller per fingerprint is told to
// do so while an entry exists.
func (a *CheckAggregator) Check(req *servicecontrol.CheckRequest) (*servicecontrol.CheckResponse, error) {
	if req.ServiceName != a.serviceName {
		return nil, errors.Wrapf(ErrServiceName, "got %q, aggregating %q", req.ServiceName, a.serviceName)
	}
	if !a.cache.enabled() || req.Operation.Importance != servicecontrol.ImportanceLow {
		checkCacheMiss.Inc()
		return nil, nil
	}
	sig := signing.CheckRequest(req)
	item, ok := a.cache.get(sig)
	if !ok {
		checkCacheMiss.Inc()
		return nil, nil
	}

	item.mu.Lock()
	defer item.mu.Unlock()
	now := a.now()
	current := now.Sub(item.lastCheck) < a.opts.FlushInterval()

	if !item.response.OK() {
		if current {
			checkCacheHit.Inc()
			return item.response.Clone(), nil
		}
		// Stale failure: one caller refreshes it upstream. Stamping the
		// timestamp now makes the entry current again, so concurrent
		// callers keep fast-failing on the stale error until the refreshed
		// response arrives.
		item.lastCheck = now
		checkCacheMiss.Inc()
		return nil, nil
	}

	if err := a.absorb(item, req.Operation); err != nil {
		return nil, err
	}
	if current {
		checkCacheHit.Inc()
		return item.response.Clone(), nil
	}
	if item.flushing {
		// The previous refresh for this fingerprint has not come back yet.
		log.WithField("operation", req.Operation.OperationName).Warn(
			"Check entry went stale again before its refresh returned")
		checkCacheHit.Inc()
		return item.response.Clone(), nil
	}
	item.flushing = true
	item.lastCheck = now
	checkCacheMiss.Inc()
	return nil, nil
}

// absorb merges op into the item's pending delta aggregate. Callers hold
// item.mu.
func (a *CheckAggregator) absorb(item *checkItem, op *servicecontrol.Operation) error {
	if item.pending == nil {
		item.pending = NewOperationAggregator(a.kinds)
	}
	return item.pending.Add(op)
}

// AddResponse records the upstream decision for req, creating the cache
// entry on first sight and ending any in-flight refresh for it.
func (a *CheckAggregator) AddResponse(req *servicecontrol.CheckRequest, resp *servicecontrol.CheckResponse) {
	if !a.cache.enabled() || req.Operation.Importance != servicecontrol.ImportanceLow {
		return
	}
	sig := signing.CheckRequest(req)
	item, _ := a.cache.getOrCreate(sig, func() *checkItem {
		return &checkItem{exemplar: exemplarOf(req.Operation)}
	})
	item.mu.Lock()
	item.response = resp.Clone()
	item.lastCheck = a.now()
	item.flushing = false
	if item.exemplar == nil {
		item.exemplar = exemplarOf(req.Operation)
	}
	item.mu.Unlock()
	// Restart the entry's expiration clock; a fingerprint that keeps
	// refreshing stays cached.
	a.cache.put(sig, item)
}

// ResetFlushing clears the single-flight guard for req. The owner calls
// this when an upstream refresh terminates without a response, whatever the
// reason, so the next stale caller can try again.
func (a *CheckAggregator) ResetFlushing(req *servicecontrol.CheckRequest) {
	if !a.cache.enabled() {
		return
	}
	item, ok := a.cache.get(signing.CheckRequest(req))
	if !ok {
		return
	}
	item.mu.Lock()
	item.flushing = false
	item.mu.Unlock()
}

// Flush returns one synthetic check request per fingerprint with pending
// delta operations, for background refresh. Fingerprints whose refresh is
// already in flight are skipped; their deltas ride along on the next flush.
// Entries aged past the response expiration are evicted and contribute
// their remaining deltas on the way out.
func (a *CheckAggregator) Flush() []*servicecontrol.CheckRequest {
	if !a.cache.enabled() {
		return nil
	}
	var out []*servicecontrol.CheckRequest
	for _, item := range a.cache.values() {
		if req := a.takePending(item, true); req != nil {
			out = append(out, req)
		}
	}
	for _, item := range a.cache.flush() {
		if req := a.takePending(item, false); req != nil {
			out = append(out, req)
		}
	}
	checkFlushedRequests.Add(float64(len(out)))
	return out
}

// takePending steals the item's pending aggregate and wraps it into a
// refresh request. Live entries honor the single-flight guard; evicted ones
// are already out of the cache and cannot race a second refresh.
func (a *CheckAggregator) takePending(item *checkItem, live bool) *servicecontrol.CheckRequest {
	item.mu.Lock()
	defer item.mu.Unlock()
	if item.pending == nil || item.pending.Empty() {
		return nil
	}
	if live && item.flushing {
		return nil
	}
	op := item.pending.Operation()
	item.pending.Reset()
	if live {
		item.flushing = true
		item.lastCheck = a.now()
	}
	return &servicecontrol.CheckRequest{
		ServiceName: a.serviceName,
		Operation:   op,
	}
}

// Clear drops every cached decision and pending aggregate.
func (a *CheckAggregator) Clear() {
	a.cache.clear()
}

func exemplarOf(op *servicecontrol.Operation) *servicecontrol.Operation {
	out := servicecontrol.CloneOperation(op)
	out.MetricValueSets = nil
	out.LogEntries = nil
	return out
}
