package message

import (
	"encoding/json"
	"fmt"
)

// FileType distinguishes attachment kinds understood by the chat platform.
type FileType string

const (
	FileDocument FileType = "document"
	FileImage    FileType = "image"
)

// File is an attachment delivered out of band, next to the JSON body.
type File struct {
	Type     FileType `json:"type" cbor:"type"`
	Name     string   `json:"name" cbor:"name"`
	MimeType string   `json:"mime_type" cbor:"mime_type"`
	Data     []byte   `json:"data" cbor:"data"`
}

// Envelope is the decoded form of a wire response, used by callers that
// receive envelopes rather than produce them.
type Envelope struct {
	Status Status          `json:"status"`
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result,omitempty"`
	Errors []ErrorDetail   `json:"errors,omitempty"`
}

// ParseEnvelope decodes a wire response body.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("message: parse envelope: %w", err)
	}
	if env.Type != RPCType {
		return nil, fmt.Errorf("message: unexpected envelope type %q", env.Type)
	}
	if env.Status != StatusOK && env.Status != StatusError {
		return nil, fmt.Errorf("message: unexpected envelope status %q", env.Status)
	}
	return &env, nil
}

// DecodeResult unmarshals the result of an ok envelope into v.
func (e *Envelope) DecodeResult(v any) error {
	if e.Status != StatusOK {
		return fmt.Errorf("message: envelope status is %q", e.Status)
	}
	return json.Unmarshal(e.Result, v)
}
