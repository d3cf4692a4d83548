// Package errors defines error types for the MCP stdio client.
//
// This package provides structured error types that wrap the different failure
// scenarios of a client session: spawning the peer process, reading and
// writing its stdio streams, decoding protocol messages, and errors reported
// by the peer itself. All error types support error unwrapping and can be
// checked using errors.Is, errors.As, and errors.AsType.
package errors
