package aggregator_test

import (
	"testing"
	"time"

	"github.com/gatekit/gatekit/config/params"
	"github.com/gatekit/gatekit/control/aggregator"
	"github.com/gatekit/gatekit/servicecontrol"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func quotaOpts() params.QuotaAggregationOptions {
	return params.QuotaAggregationOptions{
		NumEntries:       100,
		RefreshMillis:    1000,
		ExpirationMillis: 10000,
	}
}

func quotaReq(costs map[string]int64, order []string) *servicecontrol.AllocateQuotaRequest {
	op := &servicecontrol.QuotaOperation{
		OperationID: "id-1",
		MethodName:  "ListShelves",
		ConsumerID:  "project:p1",
		QuotaMode:   servicecontrol.QuotaModeNormal,
	}
	for _, name := range order {
		c := costs[name]
		op.QuotaMetrics = append(op.QuotaMetrics, &servicecontrol.MetricValueSet{
			MetricName:   name,
			MetricValues: []*servicecontrol.MetricValue{{Int64Value: &c}},
		})
	}
	return &servicecontrol.AllocateQuotaRequest{
		ServiceName:       testService,
		AllocateOperation: op,
	}
}

func grantedResponse() *servicecontrol.AllocateQuotaResponse {
	return &servicecontrol.AllocateQuotaResponse{OperationID: "id-1"}
}

func TestQuotaServiceNameMismatch(t *testing.T) {
	agg, err := aggregator.NewQuotaAggregator(testService, quotaOpts(), nil)
	require.NoError(t, err)

	req := quotaReq(map[string]int64{"reads": 1}, []string{"reads"})
	req.ServiceName = "other.example.com"
	_, err = agg.AllocateQuota(req)
	require.True(t, errors.Is(err, aggregator.ErrServiceName))
}

// The first request for a fingerprint travels upstream; concurrent callers
// ride the optimistic placeholder until the real answer lands.
func TestQuotaFirstRequestGoesUpstream(t *testing.T) {
	clk := newClock()
	agg, err := aggregator.NewQuotaAggregator(testService, quotaOpts(), clk.Now)
	require.NoError(t, err)

	req := quotaReq(map[string]int64{"reads": 1}, []string{"reads"})
	resp, err := agg.AllocateQuota(req)
	require.NoError(t, err)
	require.Nil(t, resp)

	resp, err = agg.AllocateQuota(req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.True(t, resp.OK())
}

// Permuting the metric sets of a request must land on the same cache entry.
func TestQuotaSignatureIgnoresMetricOrder(t *testing.T) {
	clk := newClock()
	agg, err := aggregator.NewQuotaAggregator(testService, quotaOpts(), clk.Now)
	require.NoError(t, err)

	costs := map[string]int64{"reads": 1, "writes": 2}
	forward := quotaReq(costs, []string{"reads", "writes"})
	reversed := quotaReq(costs, []string{"writes", "reads"})

	resp, err := agg.AllocateQuota(forward)
	require.NoError(t, err)
	require.Nil(t, resp)
	agg.CacheResponse(forward, grantedResponse())

	// The permuted request hits the same entry.
	resp, err = agg.AllocateQuota(reversed)
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestQuotaFlushCarriesSummedCosts(t *testing.T) {
	clk := newClock()
	agg, err := aggregator.NewQuotaAggregator(testService, quotaOpts(), clk.Now)
	require.NoError(t, err)

	req := quotaReq(map[string]int64{"reads": 2}, []string{"reads"})
	_, err = agg.AllocateQuota(req)
	require.NoError(t, err)
	agg.CacheResponse(req, grantedResponse())

	for i := 0; i < 4; i++ {
		resp, err := agg.AllocateQuota(req)
		require.NoError(t, err)
		require.NotNil(t, resp)
	}

	// Not yet past the refresh window: nothing goes out.
	require.Empty(t, agg.Flush())

	clk.Advance(1500 * time.Millisecond)
	flushed := agg.Flush()
	require.Len(t, flushed, 1)
	op := flushed[0].AllocateOperation
	require.Equal(t, servicecontrol.QuotaModeBestEffort, op.QuotaMode)
	require.NotEqual(t, "id-1", op.OperationID)
	require.Len(t, op.QuotaMetrics, 1)
	require.Equal(t, "reads", op.QuotaMetrics[0].MetricName)
	require.Equal(t, int64(8), *op.QuotaMetrics[0].MetricValues[0].Int64Value)

	// The refresh is in flight; a second flush stays quiet.
	resp, err := agg.AllocateQuota(req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Empty(t, agg.Flush())
}

func TestQuotaExpirationForcesSynchronousPath(t *testing.T) {
	clk := newClock()
	agg, err := aggregator.NewQuotaAggregator(testService, quotaOpts(), clk.Now)
	require.NoError(t, err)

	req := quotaReq(map[string]int64{"reads": 1}, []string{"reads"})
	_, err = agg.AllocateQuota(req)
	require.NoError(t, err)
	agg.CacheResponse(req, grantedResponse())

	clk.Advance(11 * time.Second)
	resp, err := agg.AllocateQuota(req)
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestQuotaFlushAllIgnoresRefreshWindow(t *testing.T) {
	clk := newClock()
	agg, err := aggregator.NewQuotaAggregator(testService, quotaOpts(), clk.Now)
	require.NoError(t, err)

	req := quotaReq(map[string]int64{"reads": 3}, []string{"reads"})
	_, err = agg.AllocateQuota(req)
	require.NoError(t, err)
	agg.CacheResponse(req, grantedResponse())
	resp, err := agg.AllocateQuota(req)
	require.NoError(t, err)
	require.NotNil(t, resp)

	// The refresh window has not opened, but shutdown replays the costs.
	require.Empty(t, agg.Flush())
	flushed := agg.FlushAll()
	require.Len(t, flushed, 1)
	require.Equal(t, int64(3), *flushed[0].AllocateOperation.QuotaMetrics[0].MetricValues[0].Int64Value)
	require.Empty(t, agg.FlushAll())
}

func TestQuotaDisabledCache(t *testing.T) {
	opts := quotaOpts()
	opts.NumEntries = 0
	agg, err := aggregator.NewQuotaAggregator(testService, opts, nil)
	require.NoError(t, err)
	require.Equal(t, time.Duration(-1), agg.FlushInterval())

	req := quotaReq(map[string]int64{"reads": 1}, []string{"reads"})
	resp, err := agg.AllocateQuota(req)
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Empty(t, agg.Flush())
}
