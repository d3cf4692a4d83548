package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/mcp-client-go/internal/errors"
	"github.com/wagiedev/mcp-client-go/internal/jsonrpc"
	"github.com/wagiedev/mcp-client-go/internal/telemetry"
)

// MethodCancelled is the notification sent when a call is abandoned locally.
const MethodCancelled = "notifications/cancelled"

// cancelNotifyTimeout bounds the write of a cancellation notice.
const cancelNotifyTimeout = time.Second

// Transport defines the minimal interface needed for protocol operations.
//
// This interface is satisfied by subprocess.StdioTransport but allows for
// testing with mock transports.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
}

// NotificationHandler observes a notification from the peer. Handlers run on
// the reader goroutine and must not block.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage)

// RequestHandler answers a request from the peer. Returning an *errors.RPCError
// sends that error; any other error is reported as an internal error.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Config tunes a Controller. The zero value is usable.
type Config struct {
	// IDGenerator produces request ids. Required.
	IDGenerator func() jsonrpc.ID

	// CancelNotification sends notifications/cancelled for abandoned calls.
	CancelNotification bool

	// MaxConsecutiveMalformed ends the session after this many malformed
	// frames in a row. Zero means no limit.
	MaxConsecutiveMalformed int

	// Telemetry records spans and metrics. Nil uses telemetry.Nop().
	Telemetry *telemetry.Recorder
}

// Controller multiplexes JSON-RPC traffic over a Transport.
//
// The Controller handles:
//   - Sending requests with unique ids and correlating their responses
//   - Request timeout and context cancellation
//   - Dispatching peer notifications to registered handlers
//   - Answering peer requests, with method-not-found when no handler exists
//
// Run owns the reader goroutine; it returns once the transport stops
// producing frames.
type Controller struct {
	log       *slog.Logger
	transport Transport
	cfg       Config
	pending   *Table
	telemetry *telemetry.Recorder

	handlersMu       sync.RWMutex
	notifyHandlers   map[string][]NotificationHandler
	catchAllHandlers []NotificationHandler
	requestHandlers  map[string]RequestHandler

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	stateMu  sync.RWMutex
	shutdown bool

	// Lifecycle management
	closeOnce sync.Once
	done      chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewController creates a new protocol controller.
func NewController(log *slog.Logger, transport Transport, cfg Config) *Controller {
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		log:             log.With("component", "protocol"),
		transport:       transport,
		cfg:             cfg,
		pending:         NewTable(),
		telemetry:       cfg.Telemetry,
		notifyHandlers:  make(map[string][]NotificationHandler, 10),
		requestHandlers: make(map[string]RequestHandler, 10),
		done:            make(chan struct{}),
		runCtx:          ctx,
		runCancel:       cancel,
	}
}

// closeDone safely closes the done channel exactly once.
func (c *Controller) closeDone() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// SetFatalError stores the first fatal error, fails every pending call with
// ErrConnectionClosed wrapping it, and closes Done.
func (c *Controller) SetFatalError(err error) {
	c.errMu.Lock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}

	c.errMu.Unlock()

	if n := c.pending.DrainAll(connectionClosed(err)); n > 0 {
		c.log.Debug("Failed pending requests", "count", n, "error", err)
	}

	c.closeDone()
}

// FatalError returns the fatal error if one occurred.
func (c *Controller) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// Done returns a channel that is closed when the session can no longer
// deliver responses.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Pending exposes the correlation table for diagnostics.
func (c *Controller) Pending() *Table {
	return c.pending
}

// Shutdown stops accepting new calls and notifications. Calls already
// waiting keep waiting for their responses.
func (c *Controller) Shutdown() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.shutdown = true
}

func (c *Controller) isShutdown() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.shutdown
}

// Stop cancels running peer request handlers and waits for them.
// It's safe to call Stop multiple times.
func (c *Controller) Stop() {
	c.Shutdown()
	c.runCancel()
	c.wg.Wait()
}

// Run reads frames until the transport fails or reaches end of stream.
//
// On exit every pending call is failed with ErrConnectionClosed and Done is
// closed. The returned error is nil when the stream ended after Shutdown.
func (c *Controller) Run() error {
	c.log.Info("Protocol controller started")
	defer c.log.Debug("Protocol read loop stopped")

	malformed := 0

	for {
		frame, err := c.transport.ReadMessage()
		if err != nil {
			return c.readFailed(err)
		}

		msg := jsonrpc.Decode(frame)

		if msg.Kind == jsonrpc.KindMalformed {
			malformed++

			c.log.Warn("Discarding malformed message", "error", msg.Err, "consecutive", malformed)

			if limit := c.cfg.MaxConsecutiveMalformed; limit > 0 && malformed >= limit {
				err := &errors.ProtocolError{
					Reason: fmt.Sprintf("%d consecutive malformed messages", malformed),
					Raw:    string(frame),
					Err:    msg.Err,
				}
				c.log.Error("Giving up on peer", "error", err)
				c.SetFatalError(err)

				return err
			}

			continue
		}

		malformed = 0

		switch msg.Kind {
		case jsonrpc.KindResponse:
			c.handleResponse(msg.Response)
		case jsonrpc.KindNotification:
			c.handleNotification(msg.Request)
		case jsonrpc.KindRequest:
			c.handleRequest(msg.Request)
		}
	}
}

func (c *Controller) readFailed(err error) error {
	if c.isShutdown() && stderrors.Is(err, errors.ErrEndOfStream) {
		c.log.Debug("Peer stream closed during shutdown")
		c.SetFatalError(err)

		return nil
	}

	if stderrors.Is(err, errors.ErrEndOfStream) {
		c.log.Warn("Peer closed the connection", "error", err)
	} else {
		c.log.Error("Transport read failed", "error", err)
	}

	c.SetFatalError(err)

	return err
}

func connectionClosed(cause error) error {
	if stderrors.Is(cause, errors.ErrConnectionClosed) {
		return cause
	}

	return fmt.Errorf("%w: %w", errors.ErrConnectionClosed, cause)
}

// handleResponse routes a response to the waiting call.
func (c *Controller) handleResponse(resp *jsonrpc.Response) {
	if !c.pending.Resolve(resp.ID, Outcome{Response: resp}) {
		c.log.Warn("No pending request for response", "request_id", jsonrpc.IDString(resp.ID))

		return
	}

	c.log.Debug("Received response", "request_id", jsonrpc.IDString(resp.ID))
}

// handleNotification runs method-specific handlers, then catch-all handlers.
func (c *Controller) handleNotification(n *jsonrpc.Request) {
	c.telemetry.NotificationReceived(c.runCtx, n.Method)

	c.handlersMu.RLock()
	handlers := append([]NotificationHandler(nil), c.notifyHandlers[n.Method]...)
	handlers = append(handlers, c.catchAllHandlers...)
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.log.Debug("Dropping unhandled notification", "method", n.Method)

		return
	}

	for _, h := range handlers {
		h(c.runCtx, n.Method, n.Params)
	}
}

// handleRequest answers a request from the peer on its own goroutine.
func (c *Controller) handleRequest(req *jsonrpc.Request) {
	c.handlersMu.RLock()
	handler, exists := c.requestHandlers[req.Method]
	c.handlersMu.RUnlock()

	if !exists {
		c.log.Warn("No handler registered for peer request", "method", req.Method, "request_id", jsonrpc.IDString(req.ID))
		c.replyError(req.ID, &jsonrpc.Error{Code: mcpjsonrpc.CodeMethodNotFound, Message: "method not found: " + req.Method})

		return
	}

	c.log.Debug("Received request from peer", "method", req.Method, "request_id", jsonrpc.IDString(req.ID))

	c.wg.Go(func() {
		result, err := handler(c.runCtx, req.Method, req.Params)
		if err != nil {
			c.log.Warn("Peer request handler failed", "method", req.Method, "error", err)
			c.replyError(req.ID, wireError(err))

			return
		}

		data, err := jsonrpc.EncodeResult(req.ID, result)
		if err != nil {
			c.replyError(req.ID, &jsonrpc.Error{Code: mcpjsonrpc.CodeInternalError, Message: err.Error()})

			return
		}

		c.reply(data)
	})
}

// wireError converts a handler error to the error object sent to the peer.
func wireError(err error) *jsonrpc.Error {
	rpcErr, ok := stderrors.AsType[*errors.RPCError](err)
	if !ok {
		return &jsonrpc.Error{Code: mcpjsonrpc.CodeInternalError, Message: err.Error()}
	}

	out := &jsonrpc.Error{Code: int64(rpcErr.Code), Message: rpcErr.Message}

	if rpcErr.Data != nil {
		if data, marshalErr := json.Marshal(rpcErr.Data); marshalErr == nil {
			out.Data = data
		}
	}

	return out
}

func (c *Controller) replyError(id jsonrpc.ID, wireErr *jsonrpc.Error) {
	data, err := jsonrpc.EncodeError(id, wireErr)
	if err != nil {
		c.log.Error("Failed to encode error response", "error", err)

		return
	}

	c.reply(data)
}

func (c *Controller) reply(data []byte) {

	if err := c.transport.WriteMessage(c.runCtx, data); err != nil {
		// Expected when the session is going away
		if c.runCtx.Err() != nil || c.FatalError() != nil {
			c.log.Debug("Could not send response during shutdown", "error", err)

			return
		}

		c.log.Error("Failed to send response", "error", err)
	}
}

// OnNotification registers a handler for notifications with the given method.
// Multiple handlers per method run in registration order.
func (c *Controller) OnNotification(method string, handler NotificationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.notifyHandlers[method] = append(c.notifyHandlers[method], handler)
}

// OnAnyNotification registers a handler that sees every notification.
func (c *Controller) OnAnyNotification(handler NotificationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.catchAllHandlers = append(c.catchAllHandlers, handler)
}

// HandleRequest registers the handler for peer requests with the given
// method, replacing any previous one.
func (c *Controller) HandleRequest(method string, handler RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.log.Debug("Registering peer request handler", "method", method)
	c.requestHandlers[method] = handler
}

// Call sends a request and waits for its result.
//
// A positive timeout bounds the write as well as the wait, so a peer that
// stops reading stdin cannot hold the caller past it. A timeout of zero or
// less waits until the response arrives, ctx is done, or the session ends.
// On timeout or cancellation the pending entry is removed so a late response
// is discarded.
//
// Errors: *errors.RPCError when the peer answers with an error,
// ErrRequestTimeout, ctx.Err(), ErrConnectionClosed when the session ends
// first, and ErrClientClosed after Shutdown.
func (c *Controller) Call(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (result json.RawMessage, err error) {
	if c.isShutdown() {
		return nil, errors.ErrClientClosed
	}

	id := c.cfg.IDGenerator()
	idStr := jsonrpc.IDString(id)

	ctx, span := c.telemetry.StartCall(ctx, method, idStr)
	defer func() { span.End(err) }()

	data, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	responses, err := c.pending.Register(id, method)
	if err != nil {
		if stderrors.Is(err, errors.ErrDuplicateRequestID) {
			c.log.Error("Request id reused while pending", "request_id", idStr)
			c.SetFatalError(&errors.ProtocolError{Reason: "request id collision", Err: err})
		}

		return nil, err
	}

	callCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timedOut := func() error {
		c.log.Warn("Request timed out", "request_id", idStr, "method", method, "timeout", timeout)

		return fmt.Errorf("%w after %s", errors.ErrRequestTimeout, timeout)
	}

	c.log.Debug("Sending request", "request_id", idStr, "method", method)

	if err := c.transport.WriteMessage(callCtx, data); err != nil {
		c.pending.Cancel(id)
		c.log.Debug("Failed to send request", "request_id", idStr, "error", err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if callCtx.Err() != nil {
			return nil, timedOut()
		}

		// Stdin is closed as part of shutdown and of losing the peer.
		if c.isShutdown() || c.FatalError() != nil {
			return nil, connectionClosed(err)
		}

		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case outcome := <-responses:
		return c.complete(id, outcome)

	case <-callCtx.Done():
		reason := "cancelled"
		if ctx.Err() == nil {
			reason = "timeout"
		}

		if outcome, delivered := c.abandon(id, responses, reason); delivered {
			return c.complete(id, outcome)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.log.Debug("Request cancelled", "request_id", idStr, "method", method)

			return nil, ctxErr
		}

		return nil, timedOut()
	}
}

// abandon removes id from the table. If the outcome raced in first it is
// returned instead, so every id completes exactly once.
func (c *Controller) abandon(id jsonrpc.ID, responses <-chan Outcome, reason string) (Outcome, bool) {
	if !c.pending.Cancel(id) {
		return <-responses, true
	}

	if c.cfg.CancelNotification {
		c.sendCancelled(id, reason)
	}

	return Outcome{}, false
}

func (c *Controller) complete(id jsonrpc.ID, outcome Outcome) (json.RawMessage, error) {
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	resp := outcome.Response
	if wireErr := jsonrpc.WireError(resp); wireErr != nil {
		c.log.Debug("Peer returned error", "request_id", jsonrpc.IDString(id), "code", wireErr.Code)

		return nil, rpcError(wireErr)
	}

	return resp.Result, nil
}

func rpcError(e *jsonrpc.Error) *errors.RPCError {
	out := &errors.RPCError{Code: int(e.Code), Message: e.Message}

	if len(e.Data) > 0 {
		var data any
		if err := json.Unmarshal(e.Data, &data); err == nil {
			out.Data = data
		} else {
			out.Data = string(e.Data)
		}
	}

	return out
}

// sendCancelled tells the peer a call was abandoned. Best effort.
func (c *Controller) sendCancelled(id jsonrpc.ID, reason string) {
	ctx, cancel := context.WithTimeout(c.runCtx, cancelNotifyTimeout)
	defer cancel()

	err := c.notify(ctx, MethodCancelled, &mcp.CancelledParams{RequestID: id.Raw(), Reason: reason})
	if err != nil {
		c.log.Debug("Failed to send cancellation", "request_id", jsonrpc.IDString(id), "error", err)
	}
}

// Notify sends a notification to the peer.
func (c *Controller) Notify(ctx context.Context, method string, params any) error {
	if c.isShutdown() {
		return errors.ErrClientClosed
	}

	if err := c.FatalError(); err != nil {
		return connectionClosed(err)
	}

	return c.notify(ctx, method, params)
}

func (c *Controller) notify(ctx context.Context, method string, params any) error {
	data, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}

	c.log.Debug("Sending notification", "method", method)

	if err := c.transport.WriteMessage(ctx, data); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	return nil
}
