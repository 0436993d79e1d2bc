// Package message defines the SmartApp RPC wire envelope.
//
// Every request ends in exactly one Response: a *ResultResponse carrying the
// method's result, or an *ErrorResponse carrying one or more ErrorDetails.
//
//	{"status":"ok","type":"smartapp_rpc","result":42}
//	{"status":"error","type":"smartapp_rpc","errors":[{"reason":"...","id":"...","meta":{}}]}
//
// Attachments and the encrypted flag are not part of the JSON body; the
// transport receives them alongside it.
package message

import "encoding/json"

// RPCType is the fixed type tag carried by every request and response.
const RPCType = "smartapp_rpc"

// Status discriminates the two response forms on the wire.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Response is the tagged union of *ResultResponse and *ErrorResponse.
type Response interface {
	Status() Status
	Attachments() []File
	IsEncrypted() bool

	// Jsonable returns the JSON body as plain maps and slices.
	Jsonable() map[string]any
	json.Marshaler

	isResponse()
}

// ResultResponse is a successful call result.
type ResultResponse struct {
	Value     any
	Files     []File
	Encrypted bool
}

// NewResult returns an encrypted result response.
func NewResult(value any, files ...File) *ResultResponse {
	return &ResultResponse{Value: value, Files: files, Encrypted: true}
}

func (r *ResultResponse) Status() Status      { return StatusOK }
func (r *ResultResponse) Attachments() []File { return r.Files }
func (r *ResultResponse) IsEncrypted() bool   { return r.Encrypted }
func (r *ResultResponse) isResponse()         {}

// Jsonable converts Value with its own JSON field names (struct tags), so
// aliased result structures come out exactly as they would on the wire.
func (r *ResultResponse) Jsonable() map[string]any {
	return map[string]any{
		"status": string(StatusOK),
		"type":   RPCType,
		"result": plain(r.Value),
	}
}

func (r *ResultResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status Status `json:"status"`
		Type   string `json:"type"`
		Result any    `json:"result"`
	}{StatusOK, RPCType, r.Value})
}

// ErrorResponse carries structured errors.
type ErrorResponse struct {
	Errors    []ErrorDetail
	Files     []File
	Encrypted bool
}

// NewError returns an encrypted error response.
func NewError(errs ...ErrorDetail) *ErrorResponse {
	return &ErrorResponse{Errors: errs, Encrypted: true}
}

func (r *ErrorResponse) Status() Status      { return StatusError }
func (r *ErrorResponse) Attachments() []File { return r.Files }
func (r *ErrorResponse) IsEncrypted() bool   { return r.Encrypted }
func (r *ErrorResponse) isResponse()         {}

func (r *ErrorResponse) Jsonable() map[string]any {
	errs := make([]any, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e.Jsonable()
	}
	return map[string]any{
		"status": string(StatusError),
		"type":   RPCType,
		"errors": errs,
	}
}

func (r *ErrorResponse) MarshalJSON() ([]byte, error) {
	errs := r.Errors
	if errs == nil {
		errs = []ErrorDetail{}
	}
	return json.Marshal(struct {
		Status Status        `json:"status"`
		Type   string        `json:"type"`
		Errors []ErrorDetail `json:"errors"`
	}{StatusError, RPCType, errs})
}

// IDs returns the error ids in order.
func (r *ErrorResponse) IDs() []string {
	ids := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		ids[i] = e.ID
	}
	return ids
}

// plain round-trips structured values through encoding/json. Primitives
// and generic containers pass through unchanged.
func plain(v any) any {
	switch v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number, map[string]any, []any:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
