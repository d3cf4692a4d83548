package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpawnError(t *testing.T) {
	root := errors.New("permission denied")
	err := &SpawnError{Command: "/usr/bin/peer", Err: root}

	require.Equal(t, `failed to spawn "/usr/bin/peer": permission denied`, err.Error())
	require.ErrorIs(t, err, root)
	require.ErrorIs(t, err, ErrSpawn)
	require.True(t, err.IsMCPClientError())
}

func TestCommandNotFoundError(t *testing.T) {
	err := &CommandNotFoundError{
		Command:       "peer",
		SearchedPaths: []string{"$PATH", "/opt/bin/peer"},
	}

	require.Equal(t, `command "peer" not found in: $PATH, /opt/bin/peer`, err.Error())
	require.ErrorIs(t, err, ErrSpawn)
	require.True(t, err.IsMCPClientError())
}

func TestTransportError(t *testing.T) {
	root := errors.New("broken pipe")
	err := &TransportError{Op: "write", Err: root}

	require.Equal(t, "transport write: broken pipe", err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsMCPClientError())
}

func TestProcessError_WithUnderlyingError(t *testing.T) {
	root := errors.New("signal: killed")
	err := &ProcessError{
		ExitCode: -1,
		Stderr:   "ignored when Err is set",
		Err:      root,
	}

	require.Equal(t, "peer process failed (exit -1): signal: killed", err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsMCPClientError())
}

func TestProcessError_WithStderrOnly(t *testing.T) {
	err := &ProcessError{
		ExitCode: 2,
		Stderr:   "bad flag",
	}

	require.Equal(t, "peer process failed (exit 2): bad flag", err.Error())
	require.NoError(t, err.Unwrap())
}

func TestProtocolError(t *testing.T) {
	root := errors.New("unexpected end of JSON input")
	err := &ProtocolError{Reason: "decode frame", Raw: `{"id":`, Err: root}

	require.Equal(t, "protocol error: decode frame: unexpected end of JSON input", err.Error())
	require.ErrorIs(t, err, root)

	bare := &ProtocolError{Reason: "missing method"}
	require.Equal(t, "protocol error: missing method", bare.Error())
}

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32601, Message: "method not found"}

	require.Equal(t, "rpc error -32601: method not found", err.Error())

	rpcErr, ok := errors.AsType[*RPCError](error(err))
	require.True(t, ok)
	require.Equal(t, -32601, rpcErr.Code)
}
