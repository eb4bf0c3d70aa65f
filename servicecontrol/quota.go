package servicecontrol

// QuotaMode selects how the quota service treats an allocation.
type QuotaMode int32

const (
	// QuotaModeNormal allocates exactly the requested amount or fails.
	QuotaModeNormal QuotaMode = iota
	// QuotaModeBestEffort allocates as much of the requested amount as is
	// available. Background refreshes use this mode so a partially drained
	// limit never blocks the batch.
	QuotaModeBestEffort
	// QuotaModeCheckOnly verifies availability without allocating.
	QuotaModeCheckOnly
)

// String returns the canonical wire name of the mode.
func (m QuotaMode) String() string {
	switch m {
	case QuotaModeBestEffort:
		return "BEST_EFFORT"
	case QuotaModeCheckOnly:
		return "CHECK_ONLY"
	default:
		return "NORMAL"
	}
}

// QuotaOperation describes a single quota allocation.
type QuotaOperation struct {
	OperationID  string            `json:"operationId"`
	MethodName   string            `json:"methodName"`
	ConsumerID   string            `json:"consumerId,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	QuotaMetrics []*MetricValueSet `json:"quotaMetrics,omitempty"`
	QuotaMode    QuotaMode         `json:"quotaMode"`
}

// AllocateQuotaRequest reserves quota units for one operation.
type AllocateQuotaRequest struct {
	ServiceName     string          `json:"serviceName"`
	ServiceConfigID string          `json:"serviceConfigId,omitempty"`
	AllocateOperation *QuotaOperation `json:"allocateOperation"`
}

// AllocateQuotaResponse reports the outcome of an allocation. An empty
// AllocateErrors slice means the reservation succeeded.
type AllocateQuotaResponse struct {
	OperationID     string            `json:"operationId"`
	ServiceConfigID string            `json:"serviceConfigId,omitempty"`
	AllocateErrors  []*QuotaError     `json:"allocateErrors,omitempty"`
	QuotaMetrics    []*MetricValueSet `json:"quotaMetrics,omitempty"`
}

// QuotaError is a single reason an allocation was refused.
type QuotaError struct {
	Code        Code   `json:"code"`
	Subject     string `json:"subject,omitempty"`
	Description string `json:"description,omitempty"`
}

// OK reports whether the response granted the allocation.
func (r *AllocateQuotaResponse) OK() bool {
	return r != nil && len(r.AllocateErrors) == 0
}

// Clone returns a deep copy of the response.
func (r *AllocateQuotaResponse) Clone() *AllocateQuotaResponse {
	if r == nil {
		return nil
	}
	out := *r
	if r.AllocateErrors != nil {
		out.AllocateErrors = make([]*QuotaError, len(r.AllocateErrors))
		for i, e := range r.AllocateErrors {
			qe := *e
			out.AllocateErrors[i] = &qe
		}
	}
	if r.QuotaMetrics != nil {
		out.QuotaMetrics = make([]*MetricValueSet, len(r.QuotaMetrics))
		for i, s := range r.QuotaMetrics {
			out.QuotaMetrics[i] = CloneMetricValueSet(s)
		}
	}
	return &out
}
