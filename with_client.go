package mcpclient

import (
	"context"
	"fmt"
)

// WithClient manages client lifecycle with automatic cleanup.
//
// This helper spawns command, initializes the session, executes the callback
// function, and ensures proper cleanup via Close() when done.
//
// If the callback returns an error, it is returned to the caller.
// If Close() fails, a warning is logged but does not override the callback's error.
//
// Example usage:
//
//	err := mcpclient.WithClient(ctx, []string{"my-server"}, func(c mcpclient.Client) error {
//	    tools, err := c.ListAllTools(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    for _, tool := range tools {
//	        fmt.Println(tool.Name)
//	    }
//	    return nil
//	},
//	    mcpclient.WithLogger(log),
//	)
func WithClient(ctx context.Context, command []string, fn func(Client) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	client, err := NewStdioClient(ctx, command, opts...)
	if err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Warn("failed to close client", "error", closeErr)
		}
	}()

	if _, err := client.Initialize(ctx); err != nil {
		return err
	}

	return fn(client)
}
