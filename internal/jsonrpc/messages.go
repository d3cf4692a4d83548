package jsonrpc

import (
	"encoding/json"
	"fmt"

	mcpjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Wire types come from the MCP SDK so ids and errors compare the same way on
// both sides of a session.
type (
	// ID is a request id: a string, an int64, or invalid (notifications).
	// IDs are comparable and are used directly as map keys.
	ID = mcpjsonrpc.ID
	// Request is a call when its ID is valid and a notification otherwise.
	Request = mcpjsonrpc.Request
	// Response answers a call. Error holds an *Error when set.
	Response = mcpjsonrpc.Response
	// Error is a JSON-RPC error object.
	Error = mcpjsonrpc.Error
)

// StringID returns a string-valued id.
func StringID(s string) ID {
	return mustID(s)
}

// IntID returns a numeric id. Values above 2^53 lose precision, as they
// would in any JSON peer.
func IntID(n int64) ID {
	return mustID(float64(n))
}

func mustID(v any) ID {
	id, err := mcpjsonrpc.MakeID(v)
	if err != nil {
		panic(fmt.Sprintf("jsonrpc: invalid id %v: %v", v, err))
	}

	return id
}

// IDString formats id for logs and span attributes.
func IDString(id ID) string {
	if !id.IsValid() {
		return ""
	}

	return fmt.Sprint(id.Raw())
}

// EncodeRequest builds and encodes a call, marshaling params when non-nil.
func EncodeRequest(id ID, method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return mcpjsonrpc.EncodeMessage(&Request{ID: id, Method: method, Params: raw})
}

// EncodeNotification builds and encodes a notification.
func EncodeNotification(method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return mcpjsonrpc.EncodeMessage(&Request{Method: method, Params: raw})
}

// EncodeResult encodes a successful response. A nil result is sent as {}.
func EncodeResult(id ID, result any) ([]byte, error) {
	if result == nil {
		result = struct{}{}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	return mcpjsonrpc.EncodeMessage(&Response{ID: id, Result: raw})
}

// EncodeError encodes an error response.
func EncodeError(id ID, wireErr *Error) ([]byte, error) {
	return mcpjsonrpc.EncodeMessage(&Response{ID: id, Error: wireErr})
}

// WireError extracts the error object from a response, or nil on success.
// Errors that did not come off the wire keep their message and get code 0.
func WireError(resp *Response) *Error {
	if resp == nil || resp.Error == nil {
		return nil
	}

	if wireErr, ok := resp.Error.(*Error); ok {
		return wireErr
	}

	return &Error{Message: resp.Error.Error()}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}

	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	// A typed nil pointer marshals to null; send no params instead.
	if string(raw) == "null" {
		return nil, nil
	}

	return raw, nil
}
