// Package client implements a JSON-RPC client session over a peer process.
//
// A Client ties together the stdio transport, the protocol controller, and
// the shutdown sequence. Its lifecycle is Connecting, Ready, Closing, Closed;
// sessions are single-use.
//
// The Client uses the protocol package for request correlation and owns the
// reader goroutine through an errgroup.
package client
