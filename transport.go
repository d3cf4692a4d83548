package mcpclient

import "github.com/wagiedev/mcp-client-go/internal/config"

// Transport is the byte-level link to the peer.
// Implement this to provide custom transports for testing, mocking,
// or links other than a child process's stdio.
//
// The default implementation spawns the peer as a subprocess.
// Custom transports are used through NewClient or WithTransport.
type Transport = config.Transport
