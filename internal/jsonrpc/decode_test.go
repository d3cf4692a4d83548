package jsonrpc

import (
	"testing"

	mcpjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/stretchr/testify/require"
)

func TestDecode_Classification(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		kind  Kind
	}{
		{"success response", `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`, KindResponse},
		{"null result", `{"jsonrpc":"2.0","id":"a","result":null}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":"abc","error":{"code":-32601,"message":"nope"}}`, KindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`, KindNotification},
		{"notification with null id", `{"jsonrpc":"2.0","id":null,"method":"ping"}`, KindNotification},
		{"request from peer", `{"jsonrpc":"2.0","id":7,"method":"roots/list"}`, KindRequest},
		{"missing version", `{"id":1,"result":{}}`, KindMalformed},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"result":{}}`, KindMalformed},
		{"not json", `hello`, KindMalformed},
		{"array", `[1,2,3]`, KindMalformed},
		{"both outcomes", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, KindMalformed},
		{"no outcome", `{"jsonrpc":"2.0","id":1}`, KindMalformed},
		{"response without id", `{"jsonrpc":"2.0","error":{"code":-32700,"message":"parse"}}`, KindMalformed},
		{"object id", `{"jsonrpc":"2.0","id":{"a":1},"result":{}}`, KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Decode([]byte(tt.frame))
			require.Equal(t, tt.kind, msg.Kind, "err: %v", msg.Err)

			if tt.kind == KindMalformed {
				require.Error(t, msg.Err)
			}
		})
	}
}

func TestDecode_ResponseFields(t *testing.T) {
	msg := Decode([]byte(`{"jsonrpc":"2.0","id":"req-1","error":{"code":-32602,"message":"bad params","data":{"field":"name"}}}`))
	require.Equal(t, KindResponse, msg.Kind)
	require.Equal(t, StringID("req-1"), msg.Response.ID)

	wireErr := WireError(msg.Response)
	require.NotNil(t, wireErr)
	require.EqualValues(t, mcpjsonrpc.CodeInvalidParams, wireErr.Code)
	require.JSONEq(t, `{"field":"name"}`, string(wireErr.Data))
}

func TestDecode_NumericIDMatchesIntID(t *testing.T) {
	msg := Decode([]byte(`{"jsonrpc":"2.0","id":42,"result":{}}`))
	require.Equal(t, KindResponse, msg.Kind)
	require.Equal(t, IntID(42), msg.Response.ID)
	require.NotEqual(t, StringID("42"), msg.Response.ID)
}

func TestIDString(t *testing.T) {
	require.Equal(t, "42", IDString(IntID(42)))
	require.Equal(t, "01J", IDString(StringID("01J")))
	require.Empty(t, IDString(ID{}))
}

func TestEncodeRequest_OmitsNilParams(t *testing.T) {
	data, err := EncodeRequest(IntID(1), "tools/list", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, string(data))

	type params struct {
		Cursor string `json:"cursor,omitempty"`
	}

	var typedNil *params

	data, err = EncodeRequest(StringID("x"), "tools/list", typedNil)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":"x","method":"tools/list"}`, string(data))
}

func TestEncodeNotification_HasNoID(t *testing.T) {
	data, err := EncodeNotification("notifications/initialized", map[string]any{})
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`, string(data))
}

func TestEncodeResult_NilIsEmptyObject(t *testing.T) {
	data, err := EncodeResult(IntID(3), nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":3,"result":{}}`, string(data))
}

func TestEncodeError(t *testing.T) {
	data, err := EncodeError(StringID("r"), &Error{Code: mcpjsonrpc.CodeMethodNotFound, Message: "method not found"})
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":"r","error":{"code":-32601,"message":"method not found"}}`, string(data))
}
