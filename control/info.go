// Package control is the engine of the admission core: it turns per-request
// facts into control-plane traffic, routed through the check, quota and
// report aggregators so sustained request rates produce only a trickle of
// upstream calls.
package control

import (
	"time"

	"github.com/google/uuid"

	"github.com/gatekit/gatekit/servicecontrol"
)

// OperationInfo carries the identity of one incoming request, shared by the
// check, quota and report paths. Variant-specific facts live in the
// composed info types below.
type OperationInfo struct {
	// OperationID is the caller-supplied unique token; generated when
	// empty.
	OperationID string
	// OperationName is the fully qualified method selector.
	OperationName string
	// APIKey is the api key presented by the caller, when any.
	APIKey string
	// APIKeyValid records whether the key passed upstream validation; only
	// valid keys bill to the key.
	APIKeyValid bool
	// ConsumerProjectID bills the request to a project when no valid api
	// key is present.
	ConsumerProjectID string
	// ReferencedTime stamps the operation; zero means "now" at request
	// build time.
	ReferencedTime time.Time
}

// ConsumerID encodes who is billed: a valid api key, else the consumer
// project, else nobody.
func (i *OperationInfo) ConsumerID() string {
	if i.APIKey != "" && i.APIKeyValid {
		return servicecontrol.APIKeyConsumerPrefix + i.APIKey
	}
	if i.ConsumerProjectID != "" {
		return servicecontrol.ProjectConsumerPrefix + i.ConsumerProjectID
	}
	return ""
}

// asOperation builds the bare wire operation for this request.
func (i *OperationInfo) asOperation(at time.Time) *servicecontrol.Operation {
	id := i.OperationID
	if id == "" {
		id = uuid.NewString()
	}
	if !i.ReferencedTime.IsZero() {
		at = i.ReferencedTime
	}
	return &servicecontrol.Operation{
		OperationID:   id,
		OperationName: i.OperationName,
		ConsumerID:    i.ConsumerID(),
		StartTime:     at,
		EndTime:       at,
		Importance:    servicecontrol.ImportanceLow,
	}
}

// CheckRequestInfo adds the caller attributes an admission decision may
// hinge on.
type CheckRequestInfo struct {
	OperationInfo

	ClientIP               string
	Referer                string
	AndroidPackageName     string
	AndroidCertFingerprint string
	IOSBundleID            string
}

// AsCheckRequest builds the wire request for this check.
func (i *CheckRequestInfo) AsCheckRequest(serviceName, configID string, at time.Time) *servicecontrol.CheckRequest {
	op := i.asOperation(at)
	labels := map[string]string{
		labelUserAgent:    userAgent,
		labelServiceAgent: serviceAgent,
	}
	setIfPresent(labels, labelCallerIP, i.ClientIP)
	setIfPresent(labels, labelReferer, i.Referer)
	setIfPresent(labels, labelAndroidPackageName, i.AndroidPackageName)
	setIfPresent(labels, labelAndroidCertFingerprint, i.AndroidCertFingerprint)
	setIfPresent(labels, labelIOSBundleID, i.IOSBundleID)
	op.Labels = labels
	return &servicecontrol.CheckRequest{
		ServiceName:     serviceName,
		ServiceConfigID: configID,
		Operation:       op,
	}
}

// QuotaRequestInfo adds the per-method metric costs a request consumes.
type QuotaRequestInfo struct {
	OperationInfo

	// MethodName is the quota method selector, usually equal to the
	// operation name.
	MethodName string
	// MetricCosts maps metric name onto units this request costs.
	MetricCosts map[string]int64
}

// AsQuotaRequest builds the wire allocation for this request.
func (i *QuotaRequestInfo) AsQuotaRequest(serviceName, configID string, at time.Time) *servicecontrol.AllocateQuotaRequest {
	op := i.asOperation(at)
	method := i.MethodName
	if method == "" {
		method = i.OperationName
	}
	qop := &servicecontrol.QuotaOperation{
		OperationID: op.OperationID,
		MethodName:  method,
		ConsumerID:  op.ConsumerID,
		QuotaMode:   servicecontrol.QuotaModeNormal,
	}
	for name, cost := range i.MetricCosts {
		c := cost
		qop.QuotaMetrics = append(qop.QuotaMetrics, &servicecontrol.MetricValueSet{
			MetricName:   name,
			MetricValues: []*servicecontrol.MetricValue{{Int64Value: &c}},
		})
	}
	return &servicecontrol.AllocateQuotaRequest{
		ServiceName:       serviceName,
		ServiceConfigID:   configID,
		AllocateOperation: qop,
	}
}

// ReportRequestInfo adds everything observed over the request's lifetime
// that usage reporting wants: HTTP facts, sizes, latencies and the outcome.
type ReportRequestInfo struct {
	OperationInfo

	HTTPMethod   string
	URL          string
	Location     string
	Platform     string
	Protocol     string
	ResponseCode int
	RequestSize  int64
	ResponseSize int64
	// RequestLatency spans receipt of the request to the last response
	// byte; BackendLatency is the share spent waiting on the backend.
	RequestLatency time.Duration
	BackendLatency time.Duration
	ErrorCause     string

	ClientIP          string
	Referer           string
	ConsumerUserAgent string
	// AuthIssuer and AuthAudience carry the authenticated caller's token
	// provenance into the report labels.
	AuthIssuer   string
	AuthAudience string
	// LogMessage, when set, becomes the text payload of the per-request
	// log entry.
	LogMessage string
}

func setIfPresent(labels map[string]string, key, value string) {
	if value != "" {
		labels[key] = value
	}
}
