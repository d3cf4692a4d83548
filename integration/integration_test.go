//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mcpclient "github.com/wagiedev/mcp-client-go"
)

// EnvServer holds the command line of a real MCP server, split on spaces.
const EnvServer = "MCPCLIENT_INTEGRATION_SERVER"

// serverCommand returns the server command line or skips the test.
func serverCommand(t *testing.T) []string {
	t.Helper()

	command := strings.Fields(os.Getenv(EnvServer))
	if len(command) == 0 {
		t.Skipf("%s not set", EnvServer)
	}

	return command
}

// skipIfServerNotInstalled skips the test if the error indicates the server is not found.
func skipIfServerNotInstalled(t *testing.T, err error) {
	t.Helper()

	if _, ok := errors.AsType[*mcpclient.CommandNotFoundError](err); ok {
		t.Skip("MCP server not installed")
	}
}

// startServer spawns and initializes a session with the configured server.
func startServer(t *testing.T, opts ...mcpclient.Option) mcpclient.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts = append([]mcpclient.Option{
		mcpclient.WithStderr(mcpclient.StderrCapture),
		mcpclient.WithRequestTimeout(30 * time.Second),
	}, opts...)

	client, err := mcpclient.NewStdioClient(ctx, serverCommand(t), opts...)
	if err != nil {
		skipIfServerNotInstalled(t, err)
		t.Fatalf("Start failed: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})

	_, err = client.Initialize(ctx)
	require.NoError(t, err, "Initialize should succeed")

	return client
}
