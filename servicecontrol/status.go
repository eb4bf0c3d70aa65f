package servicecontrol

import (
	"net/http"
	"strings"
)

// Code identifies a refusal reason returned by the control plane on Check
// and AllocateQuota responses.
type Code string

// Refusal codes with a defined HTTP mapping. The control plane may return
// codes outside this list; those map to 500.
const (
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"

	CodeProjectSuspended  Code = "PROJECT_SUSPENDED"
	CodeServiceNotEnabled Code = "SERVICE_NOT_ENABLED"
	CodeBillingNotActive  Code = "BILLING_NOT_ACTIVE"
	CodeIPAddressBlocked  Code = "IP_ADDRESS_BLOCKED"
	CodeRefererBlocked    Code = "REFERER_BLOCKED"
	CodeClientAppBlocked  Code = "CLIENT_APP_BLOCKED"

	CodeProjectDeleted Code = "PROJECT_DELETED"
	CodeProjectInvalid Code = "PROJECT_INVALID"
	CodeAPIKeyInvalid  Code = "API_KEY_INVALID"
	CodeAPIKeyExpired  Code = "API_KEY_EXPIRED"

	CodeNamespaceLookupUnavailable Code = "NAMESPACE_LOOKUP_UNAVAILABLE"
	CodeServiceStatusUnavailable   Code = "SERVICE_STATUS_UNAVAILABLE"
	CodeBillingStatusUnavailable   Code = "BILLING_STATUS_UNAVAILABLE"
	CodeQuotaCheckUnavailable      Code = "QUOTA_CHECK_UNAVAILABLE"
)

var codeStatus = map[Code]int{
	CodeResourceExhausted: http.StatusTooManyRequests,

	CodeProjectSuspended:  http.StatusForbidden,
	CodeServiceNotEnabled: http.StatusForbidden,
	CodeBillingNotActive:  http.StatusForbidden,
	CodeIPAddressBlocked:  http.StatusForbidden,
	CodeRefererBlocked:    http.StatusForbidden,
	CodeClientAppBlocked:  http.StatusForbidden,

	CodeProjectDeleted: http.StatusBadRequest,
	CodeProjectInvalid: http.StatusBadRequest,
	CodeAPIKeyInvalid:  http.StatusBadRequest,
	CodeAPIKeyExpired:  http.StatusBadRequest,
}

// HTTPStatus maps a refusal code onto the HTTP status the host should
// answer with. Availability failures inside the control plane fail open and
// map to 200; codes without a defined mapping are treated as internal
// errors.
func HTTPStatus(c Code) int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	if FailOpen(c) {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// FailOpen reports whether the code represents a transient availability
// failure inside the control plane, which admits the request rather than
// punishing the caller.
func FailOpen(c Code) bool {
	return strings.HasSuffix(string(c), "_UNAVAILABLE")
}
