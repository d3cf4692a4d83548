// Package jsonrpc adapts the MCP SDK's JSON-RPC 2.0 wire layer to the
// client: id constructors for the generators, encode helpers for outgoing
// calls, notifications and replies, and a decoder that classifies each
// incoming frame.
//
// Decode never fails: a frame that cannot be classified is returned as a
// KindMalformed message carrying the reason, so the read loop can log it and
// move on.
package jsonrpc
