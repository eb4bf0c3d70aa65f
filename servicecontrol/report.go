package servicecontrol

// ReportRequest submits aggregated usage for one or more operations.
type ReportRequest struct {
	ServiceName     string       `json:"serviceName"`
	ServiceConfigID string       `json:"serviceConfigId,omitempty"`
	Operations      []*Operation `json:"operations"`
}

// ReportError ties a failed operation id to its cause.
type ReportError struct {
	OperationID string `json:"operationId"`
	Status      string `json:"status,omitempty"`
}

// ReportResponse acknowledges a report. Partial failures list the affected
// operation ids; the remainder were accepted.
type ReportResponse struct {
	ReportErrors []*ReportError `json:"reportErrors,omitempty"`
}
