// Command mcp-client spawns an MCP server over stdio, lists its tools, and
// prints the tools/list result as JSON.
//
// Usage:
//
//	mcp-client <program> [args...]
//
// Configuration comes from the TOML file named by MCP_CLIENT_CONFIG and the
// MCP_CLIENT_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpclient "github.com/wagiedev/mcp-client-go"
	"github.com/wagiedev/mcp-client-go/cmd/mcp-client/internal/settings"
)

const usage = `Usage: mcp-client <program> [args...]

Spawns <program> as an MCP server speaking JSON-RPC on stdio, sends
tools/list, and prints the result as JSON.

Environment:
  MCP_CLIENT_CONFIG            TOML settings file
  MCP_CLIENT_LOG_LEVEL         debug, info, warn (default), error
  MCP_CLIENT_REQUEST_TIMEOUT   request deadline (default 30s)
  MCP_CLIENT_SHUTDOWN_GRACE    time allowed for the server to exit (default 5s)
  MCP_CLIENT_STDERR            inherit (default), capture, discard
  MCP_CLIENT_FRAMING           newline (default), content-length
  MCP_CLIENT_IDS               request id format: ulid (default), uuid, sequential
  MCP_CLIENT_INITIALIZE        send initialize before tools/list (default false)
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stderr, usage)

		return 1
	}

	cfg, err := settings.Load()
	if err != nil {
		fmt.Fprintf(stderr, "mcp-client: invalid settings: %v\n", err)

		return 1
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts := append(cfg.Options(), mcpclient.WithLogger(logger))

	client, err := mcpclient.NewStdioClient(ctx, args, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "mcp-client: failed to spawn subprocess: %q: %v\n", args, err)

		return 1
	}

	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Server did not exit cleanly", "error", closeErr)
		}
	}()

	if cfg.Initialize {
		if _, err := client.Initialize(ctx); err != nil {
			fmt.Fprintf(stderr, "mcp-client: initialize request failed: %v\n", err)

			return 1
		}
	}

	result, err := client.ListTools(ctx, nil)
	if err != nil {
		fmt.Fprintf(stderr, "mcp-client: tools/list request failed: %v\n", err)

		return 1
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "mcp-client: tools/list request failed: encode result: %v\n", err)

		return 1
	}

	fmt.Fprintln(stdout, string(out))

	return 0
}
