package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"smartapp-rpc/args"
)

// Request is a decoded inbound RPC call.
type Request struct {
	Method string         `json:"method"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

var requestSchema = args.NewSchema(func(v args.Values) Request {
	params := v.Map("params")
	if params == nil {
		params = map[string]any{}
	}
	return Request{Method: v.String("method"), Type: v.String("type"), Params: params}
},
	args.Required("method", args.String),
	args.Required("type", args.Const(RPCType)),
	args.WithDefault("params", args.MapOf(args.Any), func() any { return map[string]any{} }),
)

// DecodeRequest validates the shape of a raw event payload. On failure it
// returns the error response to send back instead of a request.
func DecodeRequest(data map[string]any) (Request, *ErrorResponse) {
	req, err := requestSchema.Decode(data)
	if err != nil {
		var verr *args.ValidationError
		if errors.As(err, &verr) {
			return Request{}, InvalidRequest(verr.Errors)
		}
		return Request{}, NewError(NewErrorDetail("Invalid RPC request: "+err.Error(), "VALUE_ERROR", map[string]any{"field": nil}))
	}
	return req, nil
}

// DecodeRequestJSON is DecodeRequest for a raw JSON body. Numbers are kept
// as json.Number so large integers survive binding.
func DecodeRequestJSON(body []byte) (Request, *ErrorResponse) {
	data, err := decodeObject(body)
	if err != nil {
		return Request{}, NewError(NewErrorDetail("Invalid RPC request: "+err.Error(), "VALUE_ERROR", map[string]any{"field": "__root__"}))
	}
	return DecodeRequest(data)
}

// NewRequest builds a request for method with a copy of params.
func NewRequest(method string, params map[string]any) Request {
	p := make(map[string]any, len(params))
	maps.Copy(p, params)
	return Request{Method: method, Type: RPCType, Params: p}
}

func decodeObject(body []byte) (map[string]any, error) {
	var data map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	if data == nil {
		return nil, errors.New("request must be a json object")
	}
	return data, nil
}
