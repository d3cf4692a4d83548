package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/mcp-client-go/internal/config"
	"github.com/wagiedev/mcp-client-go/internal/errors"
	"github.com/wagiedev/mcp-client-go/internal/protocol"
	"github.com/wagiedev/mcp-client-go/internal/subprocess"
	"github.com/wagiedev/mcp-client-go/internal/telemetry"
)

// State is the lifecycle stage of a session.
type State int

const (
	// StateConnecting is the state before Start completes.
	StateConnecting State = iota
	// StateReady accepts calls.
	StateReady
	// StateClosing rejects new calls; the peer is being shut down or is gone.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Client owns one peer connection: its transport, protocol controller, and
// the goroutines serving them.
type Client struct {
	log        *slog.Logger
	transport  config.Transport
	controller *protocol.Controller
	options    *config.Options

	// Errgroup for goroutine management
	eg *errgroup.Group

	// Lifecycle management
	mu        sync.Mutex
	state     State
	closeOnce sync.Once
	closeErr  error
}

// New creates a new client. Call Start to connect it.
func New() *Client {
	return &Client{}
}

// Start launches the peer (or adopts options.Transport) and starts the
// reader loop.
//
// The context only bounds startup; the session lives until Close.
// Returns CommandNotFoundError if the peer executable cannot be located,
// or SpawnError if the process fails to start.
func (c *Client) Start(ctx context.Context, options *config.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting {
		return errors.ErrClientClosed
	}

	if options == nil {
		options = &config.Options{}
	}

	log := options.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c.log = log.With("component", "client")
	c.options = options

	recorder, err := telemetry.New(options.TracerProvider, options.MeterProvider)
	if err != nil {
		c.state = StateClosed

		return fmt.Errorf("set up telemetry: %w", err)
	}

	transport := options.Transport
	if transport != nil {
		c.log.Debug("Using injected custom transport")
	} else {
		stdio, err := subprocess.Spawn(ctx, log, options)
		if err != nil {
			c.state = StateClosed

			return err
		}

		transport = stdio
	}

	c.transport = transport
	c.controller = protocol.NewController(log, transport, protocol.Config{
		IDGenerator:             options.EffectiveIDGenerator(),
		CancelNotification:      options.CancelNotification,
		MaxConsecutiveMalformed: options.MaxConsecutiveMalformed,
		Telemetry:               recorder,
	})

	// Not derived from ctx: the caller's startup deadline must not end the
	// session. Close is the only way to stop it.
	c.eg = &errgroup.Group{}
	c.eg.Go(c.controller.Run)

	c.state = StateReady
	c.log.Info("Client started successfully", "command", options.Command)

	return nil
}

// State reports the session state. A session whose connection failed
// reports StateClosing until Close is called.
func (c *Client) State() State {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == StateReady && c.controller.FatalError() != nil {
		return StateClosing
	}

	return state
}

func (c *Client) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		return errors.ErrClientClosed
	}

	return nil
}

// Call sends method with params and decodes the result into result, which
// may be nil to discard it. A zero timeout uses the session default and a
// negative one waits without a deadline.
func (c *Client) Call(ctx context.Context, method string, params, result any, timeout time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}

	if timeout == 0 {
		timeout = c.options.RequestTimeout
	}

	raw, err := c.controller.Call(ctx, method, params, timeout)
	if err != nil {
		return err
	}

	if result == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return &errors.ProtocolError{Reason: "decode " + method + " result", Raw: string(raw), Err: err}
	}

	return nil
}

// Notify sends a notification to the peer.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if err := c.ready(); err != nil {
		return err
	}

	return c.controller.Notify(ctx, method, params)
}

// OnNotification registers a handler for one notification method.
func (c *Client) OnNotification(method string, handler protocol.NotificationHandler) {
	c.controller.OnNotification(method, handler)
}

// OnAnyNotification registers a handler for every notification.
func (c *Client) OnAnyNotification(handler protocol.NotificationHandler) {
	c.controller.OnAnyNotification(handler)
}

// HandleRequest registers the handler for peer requests with method.
func (c *Client) HandleRequest(method string, handler protocol.RequestHandler) {
	c.controller.HandleRequest(method, handler)
}

// Done returns a channel closed once the connection can no longer deliver
// responses, whether through Close or peer failure.
func (c *Client) Done() <-chan struct{} {
	return c.controller.Done()
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	return c.controller.FatalError()
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	return c.controller.Pending().Len()
}

// Close shuts the session down: new calls are rejected, the peer's stdin is
// closed, the peer gets the shutdown grace period to exit before it is
// killed, and every call still waiting fails with ErrConnectionClosed.
//
// It returns a ProcessError if the peer exited with a failure status.
// After Close(), the client cannot be reused. This method is safe to call
// multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()

		if c.state == StateConnecting || c.state == StateClosed {
			c.state = StateClosed
			c.mu.Unlock()

			return
		}

		c.state = StateClosing
		c.mu.Unlock()

		c.log.Info("Closing client", "pending", c.controller.Pending().Len())

		c.controller.Shutdown()

		c.closeErr = c.transport.Wait(c.options.EffectiveShutdownGrace())

		if err := c.transport.Close(); err != nil {
			c.log.Debug("Transport close failed", "error", err)
		}

		drainErr := fmt.Errorf("%w: %w", errors.ErrConnectionClosed, errors.ErrClientClosed)
		if n := c.controller.Pending().DrainAll(drainErr); n > 0 {
			c.log.Debug("Failed calls still pending at close", "count", n)
		}

		c.controller.Stop()

		if err := c.eg.Wait(); err != nil {
			c.log.Debug("Reader loop ended with error", "error", err)
		}

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		c.log.Info("Client closed")
	})

	return c.closeErr
}
