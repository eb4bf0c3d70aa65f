package control

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/gatekit/gatekit/async"
	"github.com/gatekit/gatekit/auth"
	"github.com/gatekit/gatekit/config/params"
	"github.com/gatekit/gatekit/control/aggregator"
	"github.com/gatekit/gatekit/service"
	"github.com/gatekit/gatekit/servicecontrol"
)

var log = logrus.WithField("prefix", "control")

// flushCallTimeout bounds each upstream call made from the background
// flush loops. Request-path calls inherit the host's deadline instead.
const flushCallTimeout = 5 * time.Second

// Transport carries the three control-plane calls. The host supplies the
// implementation; the engine never opens connections of its own.
type Transport interface {
	Check(ctx context.Context, req *servicecontrol.CheckRequest) (*servicecontrol.CheckResponse, error)
	AllocateQuota(ctx context.Context, req *servicecontrol.AllocateQuotaRequest) (*servicecontrol.AllocateQuotaResponse, error)
	Report(ctx context.Context, req *servicecontrol.ReportRequest) (*servicecontrol.ReportResponse, error)
}

// Client is the engine request handlers talk to. It owns the
// authenticator and the three aggregators with their flush loops; one
// Client serves one managed service. Implements runtime.Service so hosts
// can register it alongside their own services.
type Client struct {
	serviceName string
	configID    string
	transport   Transport

	authn  *auth.Authenticator
	check  *aggregator.CheckAggregator
	quota  *aggregator.QuotaAggregator
	report *aggregator.ReportAggregator

	labels  []labelUpdater
	metrics []metricUpdater
	logName string

	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient builds the engine for svc with the given aggregation options.
// now may be nil to use wall time.
func NewClient(cfg *params.Config, svc *service.Service, transport Transport, now func() time.Time) (*Client, error) {
	if transport == nil {
		return nil, errors.New("control client needs a transport")
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}

	var quotaMetrics []string
	for _, rule := range svc.QuotaRules {
		for name := range rule.MetricCosts {
			quotaMetrics = append(quotaMetrics, name)
		}
	}
	kinds := MetricKinds(quotaMetrics...)

	check, err := aggregator.NewCheckAggregator(svc.Name, cfg.Check, kinds, now)
	if err != nil {
		return nil, err
	}
	quota, err := aggregator.NewQuotaAggregator(svc.Name, cfg.Quota, now)
	if err != nil {
		return nil, err
	}
	report, err := aggregator.NewReportAggregator(svc.Name, cfg.Report, kinds, now)
	if err != nil {
		return nil, err
	}

	var authn *auth.Authenticator
	if len(svc.Providers) > 0 {
		supplier := auth.NewCachingKeySupplier(
			auth.NewHTTPKeySupplier(svc.Providers, nil), cfg.Auth.KeyCacheTTL())
		decoder, err := auth.NewDecoder(supplier, cfg.Auth, now)
		if err != nil {
			return nil, err
		}
		authn, err = auth.NewAuthenticator(svc.Providers, decoder, now)
		if err != nil {
			return nil, err
		}
	}

	logName := "endpoints_log"
	if len(svc.Logs) > 0 {
		logName = svc.Logs[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		serviceName: svc.Name,
		configID:    cfg.ServiceConfigID,
		transport:   transport,
		authn:       authn,
		check:       check,
		quota:       quota,
		report:      report,
		labels:      selectLabels(svc.Labels),
		metrics:     selectMetricNames(svc),
		logName:     logName,
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func selectMetricNames(svc *service.Service) []metricUpdater {
	var names []string
	for _, m := range svc.Metrics {
		names = append(names, m.Name)
	}
	return selectMetrics(names)
}

// Start launches the background flush loops. Part of runtime.Service.
func (c *Client) Start() {
	if d := c.check.FlushInterval(); d > 0 {
		async.RunEvery(c.ctx, d, c.flushCheck)
	}
	if d := c.quota.FlushInterval(); d > 0 {
		async.RunEvery(c.ctx, d, c.flushQuota)
	}
	if millis := c.report.FlushIntervalMillis(); millis > 0 {
		async.RunEvery(c.ctx, time.Duration(millis)*time.Millisecond, c.flushReport)
	}
	log.WithField("service", c.serviceName).Info("Control engine started")
}

// Stop halts the flush loops, pushes out everything still pending and
// drops the caches. Part of runtime.Service.
func (c *Client) Stop() error {
	c.cancel()
	c.flushCheck()
	c.sendQuotaRequests(c.quota.FlushAll())
	c.sendReportRequests(c.report.FlushAll())
	c.check.Clear()
	c.quota.Clear()
	c.report.Clear()
	log.WithField("service", c.serviceName).Info("Control engine stopped")
	return nil
}

// Status reports engine health. Part of runtime.Service.
func (c *Client) Status() error {
	if err := c.ctx.Err(); err != nil {
		return errors.Wrap(err, "control engine is stopped")
	}
	return nil
}

// Authenticate resolves the request's bearer token to a caller identity
// under the method's auth policy. A service declaring no auth providers
// accepts no tokens.
func (c *Client) Authenticate(ctx context.Context, r *http.Request, method *service.MethodInfo) (*auth.UserInfo, error) {
	if c.authn == nil {
		return nil, errors.Wrap(auth.ErrUnauthenticated, "service declares no auth providers")
	}
	return c.authn.Authenticate(ctx, r, method, c.serviceName)
}

// Check decides whether the request may proceed, answering from the
// aggregator when the cached decision is fresh.
func (c *Client) Check(ctx context.Context, info *CheckRequestInfo) (*servicecontrol.CheckResponse, error) {
	ctx, span := trace.StartSpan(ctx, "control.Check")
	defer span.End()

	req := info.AsCheckRequest(c.serviceName, c.configID, c.now())
	resp, err := c.check.Check(req)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}

	resp, err = c.transport.Check(ctx, req)
	if err != nil {
		// Whatever was in flight for this fingerprint ends here.
		c.check.ResetFlushing(req)
		return nil, errors.Wrap(err, "check call failed")
	}
	c.check.AddResponse(req, resp)
	return resp, nil
}

// AllocateQuota reserves the request's metric costs, served from the
// aggregator within the expiration window of the last upstream answer.
func (c *Client) AllocateQuota(ctx context.Context, info *QuotaRequestInfo) (*servicecontrol.AllocateQuotaResponse, error) {
	ctx, span := trace.StartSpan(ctx, "control.AllocateQuota")
	defer span.End()

	if len(info.MetricCosts) == 0 {
		// Methods without quota bindings cost nothing.
		return &servicecontrol.AllocateQuotaResponse{}, nil
	}
	req := info.AsQuotaRequest(c.serviceName, c.configID, c.now())
	resp, err := c.quota.AllocateQuota(req)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}

	resp, err = c.transport.AllocateQuota(ctx, req)
	if err != nil {
		c.quota.ResetFlushing(req)
		return nil, errors.Wrap(err, "quota call failed")
	}
	c.quota.CacheResponse(req, resp)
	return resp, nil
}

// Report records the request's usage. Low-importance operations are
// absorbed into the aggregator and leave on the next flush; anything else
// goes upstream before Report returns.
func (c *Client) Report(ctx context.Context, info *ReportRequestInfo) error {
	ctx, span := trace.StartSpan(ctx, "control.Report")
	defer span.End()

	req := c.buildReportRequest(info)
	cached, err := c.report.Report(req)
	if err != nil {
		return err
	}
	if cached {
		return nil
	}
	if _, err := c.transport.Report(ctx, req); err != nil {
		return errors.Wrap(err, "report call failed")
	}
	return nil
}

// buildReportRequest applies the label and metric tables to the request
// facts.
func (c *Client) buildReportRequest(info *ReportRequestInfo) *servicecontrol.ReportRequest {
	op := info.asOperation(c.now())

	labels := make(map[string]string, len(c.labels))
	for _, u := range c.labels {
		u.update(info, labels)
	}
	op.Labels = labels

	for _, u := range c.metrics {
		mv, err := u.update(info)
		if err != nil {
			// Rows of the closed table only fail on programmer error.
			log.WithError(err).WithField("metric", u.name).Error("Could not build metric value")
			continue
		}
		op.MetricValueSets = append(op.MetricValueSets, &servicecontrol.MetricValueSet{
			MetricName:   u.name,
			MetricValues: []*servicecontrol.MetricValue{mv},
		})
	}

	op.LogEntries = []*servicecontrol.LogEntry{{
		Name:        c.logName,
		Timestamp:   op.EndTime,
		Severity:    logSeverity(info.ResponseCode),
		TextPayload: info.LogMessage,
		StructPayload: map[string]interface{}{
			"http_method":   info.HTTPMethod,
			"url":           info.URL,
			"api_method":    info.OperationName,
			"response_code": info.ResponseCode,
		},
	}}

	return &servicecontrol.ReportRequest{
		ServiceName:     c.serviceName,
		ServiceConfigID: c.configID,
		Operations:      []*servicecontrol.Operation{op},
	}
}

func logSeverity(responseCode int) string {
	if responseCode >= 400 {
		return "ERROR"
	}
	return "INFO"
}

func (c *Client) flushCheck() {
	for _, req := range c.check.Flush() {
		ctx, cancel := context.WithTimeout(context.Background(), flushCallTimeout)
		resp, err := c.transport.Check(ctx, req)
		cancel()
		if err != nil {
			// The stale decision keeps serving until the entry expires.
			log.WithError(err).Debug("Background check refresh failed")
			c.check.ResetFlushing(req)
			continue
		}
		c.check.AddResponse(req, resp)
	}
}

func (c *Client) flushQuota() {
	c.sendQuotaRequests(c.quota.Flush())
}

func (c *Client) sendQuotaRequests(reqs []*servicecontrol.AllocateQuotaRequest) {
	for _, req := range reqs {
		ctx, cancel := context.WithTimeout(context.Background(), flushCallTimeout)
		resp, err := c.transport.AllocateQuota(ctx, req)
		cancel()
		if err != nil {
			log.WithError(err).Debug("Background quota refresh failed")
			c.quota.ResetFlushing(req)
			continue
		}
		c.quota.CacheResponse(req, resp)
	}
}

func (c *Client) flushReport() {
	c.sendReportRequests(c.report.Flush())
}

func (c *Client) sendReportRequests(reqs []*servicecontrol.ReportRequest) {
	for _, req := range reqs {
		ctx, cancel := context.WithTimeout(context.Background(), flushCallTimeout)
		_, err := c.transport.Report(ctx, req)
		cancel()
		if err == nil {
			continue
		}
		log.WithError(err).WithField("operations", len(req.Operations)).Warn(
			"Report flush failed; requeueing operations")
		if _, rerr := c.report.Report(req); rerr != nil {
			log.WithError(rerr).Error("Could not requeue failed report operations")
		}
	}
}
