package control

import (
	"strconv"

	"github.com/gatekit/gatekit/runtime/version"
)

// Agent strings stamped on every operation.
var (
	userAgent    = version.AgentName
	serviceAgent = version.ServiceAgent()
)

// System labels understood by the control plane.
const (
	labelUserAgent              = "servicecontrol.googleapis.com/user_agent"
	labelServiceAgent           = "servicecontrol.googleapis.com/service_agent"
	labelCallerIP               = "servicecontrol.googleapis.com/caller_ip"
	labelReferer                = "servicecontrol.googleapis.com/referer"
	labelAndroidPackageName     = "servicecontrol.googleapis.com/android_package_name"
	labelAndroidCertFingerprint = "servicecontrol.googleapis.com/android_cert_fingerprint"
	labelIOSBundleID            = "servicecontrol.googleapis.com/ios_bundle_id"

	labelCredentialID  = "/credential_id"
	labelErrorType     = "/error_type"
	labelProtocol      = "/protocol"
	labelResponseCode  = "/response_code"
	labelResponseClass = "/response_code_class"
	labelStatusCode    = "/status_code"
	labelLocation      = "cloud.googleapis.com/location"
	labelAPIMethod     = "serviceruntime.googleapis.com/api_method"
	labelConsumerUA    = "serviceruntime.googleapis.com/consumer_user_agent"
	labelPlatformType  = "servicecontrol.googleapis.com/platform"
)

// labelUpdater populates one report label from the request facts. The
// closed table below replaces runtime reflection over label descriptors:
// the service's label rules select rows from it at engine construction.
type labelUpdater struct {
	name   string
	update func(info *ReportRequestInfo, labels map[string]string)
}

var knownLabels = []labelUpdater{
	{labelUserAgent, func(_ *ReportRequestInfo, l map[string]string) {
		l[labelUserAgent] = userAgent
	}},
	{labelServiceAgent, func(_ *ReportRequestInfo, l map[string]string) {
		l[labelServiceAgent] = serviceAgent
	}},
	{labelCallerIP, func(i *ReportRequestInfo, l map[string]string) {
		setIfPresent(l, labelCallerIP, i.ClientIP)
	}},
	{labelReferer, func(i *ReportRequestInfo, l map[string]string) {
		setIfPresent(l, labelReferer, i.Referer)
	}},
	{labelCredentialID, func(i *ReportRequestInfo, l map[string]string) {
		if i.APIKey != "" && i.APIKeyValid {
			l[labelCredentialID] = "apikey:" + i.APIKey
		} else if i.AuthIssuer != "" {
			l[labelCredentialID] = "jwtauth:issuer=" + i.AuthIssuer
		}
	}},
	{labelErrorType, func(i *ReportRequestInfo, l map[string]string) {
		setIfPresent(l, labelErrorType, i.ErrorCause)
	}},
	{labelProtocol, func(i *ReportRequestInfo, l map[string]string) {
		protocol := i.Protocol
		if protocol == "" {
			protocol = "unknown"
		}
		l[labelProtocol] = protocol
	}},
	{labelResponseCode, func(i *ReportRequestInfo, l map[string]string) {
		l[labelResponseCode] = strconv.Itoa(i.ResponseCode)
	}},
	{labelResponseClass, func(i *ReportRequestInfo, l map[string]string) {
		l[labelResponseClass] = responseCodeClass(i.ResponseCode)
	}},
	{labelStatusCode, func(i *ReportRequestInfo, l map[string]string) {
		l[labelStatusCode] = strconv.Itoa(canonicalCode(i.ResponseCode))
	}},
	{labelLocation, func(i *ReportRequestInfo, l map[string]string) {
		setIfPresent(l, labelLocation, i.Location)
	}},
	{labelAPIMethod, func(i *ReportRequestInfo, l map[string]string) {
		setIfPresent(l, labelAPIMethod, i.OperationName)
	}},
	{labelConsumerUA, func(i *ReportRequestInfo, l map[string]string) {
		setIfPresent(l, labelConsumerUA, i.ConsumerUserAgent)
	}},
	{labelPlatformType, func(i *ReportRequestInfo, l map[string]string) {
		setIfPresent(l, labelPlatformType, i.Platform)
	}},
}

func responseCodeClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// canonicalCode folds an HTTP status onto the canonical RPC code space the
// control plane aggregates by.
func canonicalCode(httpStatus int) int {
	switch httpStatus {
	case 400:
		return 3 // INVALID_ARGUMENT
	case 401:
		return 16 // UNAUTHENTICATED
	case 403:
		return 7 // PERMISSION_DENIED
	case 404:
		return 5 // NOT_FOUND
	case 409:
		return 10 // ABORTED
	case 429:
		return 8 // RESOURCE_EXHAUSTED
	case 499:
		return 1 // CANCELLED
	case 501:
		return 12 // UNIMPLEMENTED
	case 503:
		return 14 // UNAVAILABLE
	case 504:
		return 4 // DEADLINE_EXCEEDED
	default:
		if httpStatus < 400 {
			return 0 // OK
		}
		if httpStatus < 500 {
			return 9 // FAILED_PRECONDITION
		}
		return 13 // INTERNAL
	}
}

// selectLabels returns the rows matching wanted names, or the full table
// when the service names none.
func selectLabels(wanted []string) []labelUpdater {
	if len(wanted) == 0 {
		return knownLabels
	}
	want := make(map[string]bool, len(wanted))
	for _, n := range wanted {
		want[n] = true
	}
	var out []labelUpdater
	for _, u := range knownLabels {
		if want[u.name] {
			out = append(out, u)
		}
	}
	return out
}
