package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is a JSON-RPC 2.0 request frame carrying a league envelope in params.
type Request struct {
	JSONRPC string  `json:"jsonrpc"`
	Method  string  `json:"method"`
	Params  *Params `json:"params"`
	ID      string  `json:"id"`
}

// Params is the single params shape: a required envelope plus an optional
// message-type-specific payload.
type Params struct {
	Envelope *Envelope       `json:"envelope"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Response is a JSON-RPC 2.0 response frame. Exactly one of Result or Error
// is set; ID mirrors the request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Result is the success shape inside Response.Result: a response envelope and
// an optional payload.
type Result struct {
	Envelope *Envelope       `json:"envelope"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewRequest frames an envelope and payload for the wire. The payload is
// marshalled eagerly so encode errors surface at call sites, not mid-flight.
func NewRequest(id string, env *Envelope, payload interface{}) (*Request, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", env.MessageType, err)
		}
		raw = b
	}
	return &Request{
		JSONRPC: "2.0",
		Method:  Method,
		Params:  &Params{Envelope: env, Payload: raw},
		ID:      id,
	}, nil
}

// NewResultResponse frames a successful response mirroring the request id.
func NewResultResponse(id string, env *Envelope, payload interface{}) (*Response, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal response payload: %w", err)
		}
		raw = b
	}
	body, err := json.Marshal(&Result{Envelope: env, Payload: raw})
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: "2.0", Result: body, ID: id}, nil
}

// NewErrorResponse frames a typed error mirroring the request id.
func NewErrorResponse(id string, perr *Error) *Response {
	return &Response{JSONRPC: "2.0", Error: perr, ID: id}
}

// DecodeRequest parses and validates an inbound frame per the protocol's
// validation order. The returned *Error carries the right JSON-RPC or 4xxx
// code for each failure stage.
func DecodeRequest(body []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewError(CodeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" {
		return nil, NewError(CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	if req.Method != Method {
		return nil, Errorf(CodeInvalidRequest, "unknown method %q", req.Method)
	}
	if req.Params == nil || req.Params.Envelope == nil {
		return nil, NewError(CodeInvalidRequest, "params.envelope is required")
	}
	if verr := req.Params.Envelope.Validate(); verr != nil {
		return &req, verr
	}
	return &req, nil
}

// DecodeResult unpacks a success response body into its envelope and raw
// payload.
func DecodeResult(resp *Response) (*Result, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	var res Result
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if res.Envelope == nil {
		return nil, fmt.Errorf("result missing envelope")
	}
	return &res, nil
}
