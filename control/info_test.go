package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gatekit/gatekit/servicecontrol"
)

func TestConsumerIDPrefersValidAPIKey(t *testing.T) {
	info := &OperationInfo{APIKey: "k", APIKeyValid: true, ConsumerProjectID: "p"}
	require.Equal(t, "api_key:k", info.ConsumerID())
}

func TestConsumerIDInvalidKeyFallsBackToProject(t *testing.T) {
	info := &OperationInfo{APIKey: "k", APIKeyValid: false, ConsumerProjectID: "p"}
	require.Equal(t, "project:p", info.ConsumerID())
}

func TestConsumerIDEmpty(t *testing.T) {
	require.Equal(t, "", (&OperationInfo{}).ConsumerID())
}

func TestAsOperationGeneratesID(t *testing.T) {
	at := time.Unix(1700000000, 0)
	op := (&OperationInfo{OperationName: "svc.Get"}).asOperation(at)
	require.NotEmpty(t, op.OperationID)
	require.Equal(t, at, op.StartTime)
	require.Equal(t, at, op.EndTime)
	require.Equal(t, servicecontrol.ImportanceLow, op.Importance)
}

func TestAsOperationPrefersReferencedTime(t *testing.T) {
	at := time.Unix(1700000000, 0)
	ref := at.Add(-time.Minute)
	op := (&OperationInfo{OperationID: "op", ReferencedTime: ref}).asOperation(at)
	require.Equal(t, ref, op.StartTime)
	require.Equal(t, ref, op.EndTime)
}

func TestAsCheckRequestStampsSystemLabels(t *testing.T) {
	info := &CheckRequestInfo{
		OperationInfo: OperationInfo{OperationID: "op", OperationName: "svc.Get", ConsumerProjectID: "p"},
		ClientIP:      "10.0.0.1",
		Referer:       "https://r",
		IOSBundleID:   "com.example.app",
	}
	req := info.AsCheckRequest("svc", "cfg", time.Unix(1700000000, 0))
	require.Equal(t, "svc", req.ServiceName)
	require.Equal(t, "cfg", req.ServiceConfigID)

	labels := req.Operation.Labels
	require.Equal(t, userAgent, labels[labelUserAgent])
	require.Equal(t, serviceAgent, labels[labelServiceAgent])
	require.Equal(t, "10.0.0.1", labels[labelCallerIP])
	require.Equal(t, "https://r", labels[labelReferer])
	require.Equal(t, "com.example.app", labels[labelIOSBundleID])
	_, present := labels[labelAndroidPackageName]
	require.False(t, present)
}

func TestAsQuotaRequestCarriesCosts(t *testing.T) {
	info := &QuotaRequestInfo{
		OperationInfo: OperationInfo{OperationID: "op", OperationName: "svc.Get", ConsumerProjectID: "p"},
		MetricCosts:   map[string]int64{"read-units": 3},
	}
	req := info.AsQuotaRequest("svc", "cfg", time.Unix(1700000000, 0))
	qop := req.AllocateOperation
	require.Equal(t, "svc.Get", qop.MethodName)
	require.Equal(t, "project:p", qop.ConsumerID)
	require.Equal(t, servicecontrol.QuotaModeNormal, qop.QuotaMode)
	require.Len(t, qop.QuotaMetrics, 1)
	require.Equal(t, "read-units", qop.QuotaMetrics[0].MetricName)
	require.Equal(t, int64(3), *qop.QuotaMetrics[0].MetricValues[0].Int64Value)
}

func TestAsQuotaRequestMethodNameOverride(t *testing.T) {
	info := &QuotaRequestInfo{
		OperationInfo: OperationInfo{OperationID: "op", OperationName: "svc.Get", ConsumerProjectID: "p"},
		MethodName:    "svc.GetQuota",
		MetricCosts:   map[string]int64{"read-units": 1},
	}
	req := info.AsQuotaRequest("svc", "cfg", time.Unix(1700000000, 0))
	require.Equal(t, "svc.GetQuota", req.AllocateOperation.MethodName)
}
