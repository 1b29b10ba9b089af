// Package protocol implements the gateway's JSON-RPC 2.0 wire model: a push
// based codec (spec §4.1) plus the MCP type fragments the dispatcher and
// registry need (tools, handshake info). It performs no I/O; callers decode
// bytes into Frames and hand them to the dispatcher.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Version is the JSON-RPC protocol version string every frame carries.
const Version = "2.0"

// FrameKind distinguishes the three JSON-RPC 2.0 message shapes a single
// inbound object can take.
type FrameKind int

const (
	KindRequest FrameKind = iota
	KindNotification
	KindResponse
)

// ID is a JSON-RPC id: either a JSON number or a JSON string. The zero value
// (IsString=false, Num=0) is distinct from an explicit numeric 0 only in that
// callers should not construct the zero value directly; use NewIntID/NewStringID.
type ID struct {
	IsString bool
	Str      string
	Num      int64
}

func NewIntID(n int64) ID     { return ID{Num: n} }
func NewStringID(s string) ID { return ID{IsString: true, Str: s} }

func (id ID) String() string {
	if id.IsString {
		return id.Str
	}
	return fmt.Sprintf("%d", id.Num)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsString {
		return json.Marshal(id.Str)
	}
	return json.Marshal(id.Num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id.IsString, id.Str = true, s
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("protocol: id must be string or number: %w", err)
	}
	id.IsString, id.Num = false, n
	return nil
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message) }

// wireFrame is the on-the-wire shape; ID/Method/Result/Error presence
// determines which FrameKind it decodes to.
type wireFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Frame is the decoded, push-ready representation of one JSON-RPC message.
type Frame struct {
	Kind   FrameKind
	ID     ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
}

// PeekMethod cheaply extracts the "method" field of a raw frame without a
// full struct decode. The listener calls neither it nor HasID; every inbound
// frame goes through Decode.
func PeekMethod(raw []byte) string {
	return gjson.GetBytes(raw, "method").String()
}

// HasID reports whether a raw frame carries an "id" field.
func HasID(raw []byte) bool {
	return gjson.GetBytes(raw, "id").Exists()
}

// Decode parses one JSON-RPC frame. It classifies request vs. notification
// vs. response per spec §4.1: a frame with an id and a method is a request;
// a frame with a method and no id is a notification; a frame with an id and
// either result or error (and no method) is a response.
func Decode(raw []byte) (*Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	f := &Frame{Method: w.Method, Params: w.Params, Result: w.Result, Error: w.Error}
	switch {
	case w.Method != "" && w.ID != nil:
		f.Kind = KindRequest
		f.ID = *w.ID
	case w.Method != "" && w.ID == nil:
		f.Kind = KindNotification
	case w.ID != nil && (w.Result != nil || w.Error != nil):
		f.Kind = KindResponse
		f.ID = *w.ID
	default:
		return nil, fmt.Errorf("protocol: frame is neither request, notification, nor response")
	}
	return f, nil
}

// EncodeRequest serializes a request frame with the given id, method, and
// arbitrary params value.
func EncodeRequest(id ID, method string, params any) ([]byte, error) {
	p, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode request params: %w", err)
	}
	return json.Marshal(wireFrame{JSONRPC: Version, ID: &id, Method: method, Params: p})
}

// EncodeNotification serializes a notification frame (no id).
func EncodeNotification(method string, params any) ([]byte, error) {
	p, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode notification params: %w", err)
	}
	return json.Marshal(wireFrame{JSONRPC: Version, Method: method, Params: p})
}

// EncodeResult serializes a successful response frame.
func EncodeResult(id ID, result any) ([]byte, error) {
	r, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode result: %w", err)
	}
	return json.Marshal(wireFrame{JSONRPC: Version, ID: &id, Result: r})
}

// EncodeError serializes an error response frame.
func EncodeError(id ID, code int, message string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		d, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode error data: %w", err)
		}
		raw = d
	}
	return json.Marshal(wireFrame{JSONRPC: Version, ID: &id, Error: &RPCError{Code: code, Message: message, Data: raw}})
}
