// Package config provides configuration types for the MCP stdio client.
package config

import (
	"context"
	"time"
)

// Transport is the byte-level link to the peer.
// Implement this to provide custom transports for testing or alternative
// links; the default implementation spawns a subprocess.
type Transport interface {
	// WriteMessage writes one complete frame. It must be safe for concurrent
	// use and must never interleave two frames.
	WriteMessage(ctx context.Context, data []byte) error

	// ReadMessage blocks for the next complete frame. It returns
	// errors.ErrEndOfStream once the peer closes its output.
	ReadMessage() ([]byte, error)

	// CloseStdin signals end of input to the peer.
	CloseStdin() error

	// Wait waits up to grace for the peer to exit and then terminates it.
	Wait(grace time.Duration) error

	// Close terminates the peer immediately. It's safe to call Close multiple times.
	Close() error
}
