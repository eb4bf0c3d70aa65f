package servicecontrol

// CheckRequest asks the control plane whether a single operation may
// proceed.
type CheckRequest struct {
	ServiceName     string     `json:"serviceName"`
	ServiceConfigID string     `json:"serviceConfigId,omitempty"`
	Operation       *Operation `json:"operation"`
}

// CheckResponse carries the admission decision for one operation. An empty
// CheckErrors slice means the operation was admitted.
type CheckResponse struct {
	OperationID     string        `json:"operationId"`
	ServiceConfigID string        `json:"serviceConfigId,omitempty"`
	CheckErrors     []*CheckError `json:"checkErrors,omitempty"`
}

// CheckError is a single reason an operation was refused.
type CheckError struct {
	Code   Code   `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// OK reports whether the response admitted the operation.
func (r *CheckResponse) OK() bool {
	return r != nil && len(r.CheckErrors) == 0
}

// Clone returns a deep copy of the response.
func (r *CheckResponse) Clone() *CheckResponse {
	if r == nil {
		return nil
	}
	out := *r
	if r.CheckErrors != nil {
		out.CheckErrors = make([]*CheckError, len(r.CheckErrors))
		for i, e := range r.CheckErrors {
			ce := *e
			out.CheckErrors[i] = &ce
		}
	}
	return &out
}
