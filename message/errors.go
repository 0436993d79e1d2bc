package message

import (
	"encoding/json"
	"maps"

	"smartapp-rpc/args"
)

// Error ids produced by the dispatch core itself.
const (
	IDMethodNotFound = "METHOD_NOT_FOUND"
	ReasonInternal   = "Internal error"
)

// ErrorDetail is one structured error unit.
type ErrorDetail struct {
	Reason string
	ID     string
	Meta   map[string]any
}

// NewErrorDetail returns a detail with its own, non-nil meta map.
func NewErrorDetail(reason, id string, meta map[string]any) ErrorDetail {
	m := make(map[string]any, len(meta))
	maps.Copy(m, meta)
	return ErrorDetail{Reason: reason, ID: id, Meta: m}
}

func (e ErrorDetail) Jsonable() map[string]any {
	meta := make(map[string]any, len(e.Meta))
	maps.Copy(meta, e.Meta)
	return map[string]any{"reason": e.Reason, "id": e.ID, "meta": meta}
}

func (e ErrorDetail) MarshalJSON() ([]byte, error) {
	meta := e.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(struct {
		Reason string         `json:"reason"`
		ID     string         `json:"id"`
		Meta   map[string]any `json:"meta"`
	}{e.Reason, e.ID, meta})
}

func (e *ErrorDetail) UnmarshalJSON(b []byte) error {
	var wire struct {
		Reason string         `json:"reason"`
		ID     string         `json:"id"`
		Meta   map[string]any `json:"meta"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*e = NewErrorDetail(wire.Reason, wire.ID, wire.Meta)
	return nil
}

// DeclaredError is an application error a method announces up front. Its ID
// and Reason end up in the method catalog; Detail stamps out instances.
type DeclaredError struct {
	ID     string `json:"id" yaml:"id"`
	Reason string `json:"reason" yaml:"reason"`
}

// Detail returns a new ErrorDetail for this declared error.
func (d DeclaredError) Detail(meta map[string]any) ErrorDetail {
	return NewErrorDetail(d.Reason, d.ID, meta)
}

// MethodNotFound is the response for an unregistered method name.
func MethodNotFound(method string) *ErrorResponse {
	return NewError(NewErrorDetail("Method not found", IDMethodNotFound, map[string]any{"method": method}))
}

// InvalidArguments maps binder field errors, one detail per field, with
// meta.location set to the field path.
func InvalidArguments(errs []args.FieldError) *ErrorResponse {
	details := make([]ErrorDetail, len(errs))
	for i, fe := range errs {
		details[i] = NewErrorDetail(fe.Msg, fe.Category(), map[string]any{"location": []any(fe.Location)})
	}
	return NewError(details...)
}

// InvalidRequest maps envelope shape errors, with meta.field set to the
// offending top-level field.
func InvalidRequest(errs []args.FieldError) *ErrorResponse {
	details := make([]ErrorDetail, len(errs))
	for i, fe := range errs {
		var field any
		if len(fe.Location) > 0 {
			field = fe.Location[0]
		}
		details[i] = NewErrorDetail("Invalid RPC request: "+fe.Msg, fe.Category(), map[string]any{"field": field})
	}
	return NewError(details...)
}

// InternalError is the response used when an unexpected failure is
// contained; id is the upper-cased type name of the failure.
func InternalError(id string) *ErrorResponse {
	return NewError(NewErrorDetail(ReasonInternal, id, nil))
}
