package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	mcpjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcp-client-go/internal/config"
	"github.com/wagiedev/mcp-client-go/internal/errors"
	"github.com/wagiedev/mcp-client-go/internal/jsonrpc"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu      sync.Mutex
	written [][]byte
	onWrite func(m *mockTransport, data []byte)
	// stalled makes WriteMessage block until ctx is done, like a peer that
	// has stopped reading its stdin.
	stalled bool

	frameMu sync.Mutex
	frames  chan []byte
	ended   bool
	readErr chan error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		written: make([][]byte, 0, 10),
		frames:  make(chan []byte, 100),
		readErr: make(chan error, 1),
	}
}

func (m *mockTransport) ReadMessage() ([]byte, error) {
	select {
	case frame, ok := <-m.frames:
		if !ok {
			return nil, errors.ErrEndOfStream
		}

		return frame, nil
	case err := <-m.readErr:
		return nil, err
	}
}

func (m *mockTransport) WriteMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	stalled := m.stalled
	m.mu.Unlock()

	if stalled {
		<-ctx.Done()

		return ctx.Err()
	}

	m.mu.Lock()
	m.written = append(m.written, data)
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(m, data)
	}

	return nil
}

// push queues a frame for the reader loop. Wire messages are encoded with
// the SDK codec, anything else with encoding/json.
func (m *mockTransport) push(v any) {
	var (
		data []byte
		err  error
	)

	if msg, ok := v.(mcpjsonrpc.Message); ok {
		data, err = mcpjsonrpc.EncodeMessage(msg)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		panic(err)
	}

	m.pushRaw(string(data))
}

// pushRaw queues a frame unless the stream has already ended.
func (m *mockTransport) pushRaw(frame string) {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()

	if m.ended {
		return
	}

	m.frames <- []byte(frame)
}

// endStream simulates the peer closing stdout.
func (m *mockTransport) endStream() {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()

	if !m.ended {
		m.ended = true
		close(m.frames)
	}
}

func (m *mockTransport) setResponder(hook func(m *mockTransport, data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onWrite = hook
}

// sent returns every written message, decoded.
func (m *mockTransport) sent() []jsonrpc.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]jsonrpc.Message, 0, len(m.written))
	for _, data := range m.written {
		out = append(out, jsonrpc.Decode(data))
	}

	return out
}

// waitForRequest polls until a request for method has been written.
func (m *mockTransport) waitForRequest(t *testing.T, method string) *jsonrpc.Request {
	t.Helper()

	var found *jsonrpc.Request

	require.Eventually(t, func() bool {
		for _, msg := range m.sent() {
			if msg.Kind == jsonrpc.KindRequest && msg.Request.Method == method {
				found = msg.Request

				return true
			}
		}

		return false
	}, 2*time.Second, 5*time.Millisecond)

	return found
}

// echoResponder answers every request with its own params, or {} when absent.
func echoResponder(m *mockTransport, data []byte) {
	msg := jsonrpc.Decode(data)
	if msg.Kind != jsonrpc.KindRequest {
		return
	}

	result := msg.Request.Params
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}

	m.push(&jsonrpc.Response{ID: msg.Request.ID, Result: result})
}

type controllerHarness struct {
	ctrl      *Controller
	transport *mockTransport
	runErr    chan error
}

func startController(t *testing.T, transport *mockTransport, cfg Config) *controllerHarness {
	t.Helper()

	if cfg.IDGenerator == nil {
		cfg.IDGenerator = config.SequentialIDs()
	}

	ctrl := NewController(slog.Default(), transport, cfg)
	h := &controllerHarness{ctrl: ctrl, transport: transport, runErr: make(chan error, 1)}

	go func() {
		h.runErr <- ctrl.Run()
	}()

	t.Cleanup(func() {
		ctrl.Shutdown()
		transport.endStream()
		ctrl.Stop()
		<-ctrl.Done()
	})

	return h
}

func TestController_CallEcho(t *testing.T) {
	transport := newMockTransport()
	transport.onWrite = echoResponder

	h := startController(t, transport, Config{})

	result, err := h.ctrl.Call(context.Background(), "echo", map[string]any{"x": 1}, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(result))
	require.Equal(t, 0, h.ctrl.Pending().Len())

	req := transport.waitForRequest(t, "echo")
	require.Equal(t, jsonrpc.IntID(1), req.ID)
}

func TestController_CallWithoutParams(t *testing.T) {
	transport := newMockTransport()
	transport.onWrite = echoResponder

	h := startController(t, transport, Config{})

	_, err := h.ctrl.Call(context.Background(), "tools/list", nil, time.Second)
	require.NoError(t, err)

	transport.mu.Lock()
	raw := string(transport.written[0])
	transport.mu.Unlock()

	require.NotContains(t, raw, `"params"`)
	require.Contains(t, raw, `"jsonrpc":"2.0"`)
}

func TestController_OutOfOrderResponses(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	type result struct {
		raw json.RawMessage
		err error
	}

	first := make(chan result, 1)
	second := make(chan result, 1)

	go func() {
		raw, err := h.ctrl.Call(context.Background(), "first", nil, 0)
		first <- result{raw, err}
	}()

	reqFirst := transport.waitForRequest(t, "first")

	go func() {
		raw, err := h.ctrl.Call(context.Background(), "second", nil, 0)
		second <- result{raw, err}
	}()

	reqSecond := transport.waitForRequest(t, "second")

	// Answer in reverse order.
	transport.push(&jsonrpc.Response{ID: reqSecond.ID, Result: json.RawMessage(`"two"`)})
	transport.push(&jsonrpc.Response{ID: reqFirst.ID, Result: json.RawMessage(`"one"`)})

	r2 := <-second
	require.NoError(t, r2.err)
	require.JSONEq(t, `"two"`, string(r2.raw))

	r1 := <-first
	require.NoError(t, r1.err)
	require.JSONEq(t, `"one"`, string(r1.raw))
}

func TestController_RPCError(t *testing.T) {
	transport := newMockTransport()
	transport.onWrite = func(m *mockTransport, data []byte) {
		msg := jsonrpc.Decode(data)
		m.push(&jsonrpc.Response{
			ID:    msg.Request.ID,
			Error: &jsonrpc.Error{Code: -32602, Message: "bad params", Data: json.RawMessage(`{"field":"name"}`)},
		})
	}

	h := startController(t, transport, Config{})

	_, err := h.ctrl.Call(context.Background(), "tools/call", nil, time.Second)

	rpcErr, ok := stderrors.AsType[*errors.RPCError](err)
	require.True(t, ok)
	require.Equal(t, -32602, rpcErr.Code)
	require.Equal(t, "bad params", rpcErr.Message)
	require.Equal(t, map[string]any{"field": "name"}, rpcErr.Data)
}

func TestController_Timeout(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	start := time.Now()
	_, err := h.ctrl.Call(context.Background(), "slow", nil, 50*time.Millisecond)

	require.ErrorIs(t, err, errors.ErrRequestTimeout)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 0, h.ctrl.Pending().Len())

	// A late response is discarded and the session keeps working.
	req := transport.waitForRequest(t, "slow")
	transport.push(&jsonrpc.Response{ID: req.ID, Result: json.RawMessage(`{}`)})

	transport.setResponder(echoResponder)

	result, err := h.ctrl.Call(context.Background(), "echo", map[string]int{"n": 2}, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"n":2}`, string(result))
}

func TestController_TimeoutCoversBlockedWrite(t *testing.T) {
	transport := newMockTransport()
	transport.stalled = true

	h := startController(t, transport, Config{})

	start := time.Now()
	_, err := h.ctrl.Call(context.Background(), "tools/call", map[string]string{"blob": "x"}, 50*time.Millisecond)

	require.ErrorIs(t, err, errors.ErrRequestTimeout)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 0, h.ctrl.Pending().Len())
}

func TestController_ContextCancelled(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		_, err := h.ctrl.Call(ctx, "slow", nil, 0)
		errCh <- err
	}()

	transport.waitForRequest(t, "slow")
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Equal(t, 0, h.ctrl.Pending().Len())

	// Cancellation notices are off by default.
	for _, msg := range transport.sent() {
		require.NotEqual(t, jsonrpc.KindNotification, msg.Kind)
	}
}

func TestController_CancelNotification(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{CancelNotification: true})

	_, err := h.ctrl.Call(context.Background(), "slow", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, errors.ErrRequestTimeout)

	req := transport.waitForRequest(t, "slow")

	var notice *jsonrpc.Request

	for _, msg := range transport.sent() {
		if msg.Kind == jsonrpc.KindNotification {
			notice = msg.Request
		}
	}

	require.NotNil(t, notice)
	require.Equal(t, MethodCancelled, notice.Method)

	var params struct {
		RequestID json.RawMessage `json:"requestId"`
		Reason    string          `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(notice.Params, &params))
	require.Equal(t, "timeout", params.Reason)

	want, err := json.Marshal(req.ID.Raw())
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(params.RequestID))
}

func TestController_ConnectionClosed(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	errCh := make(chan error, 1)

	go func() {
		_, err := h.ctrl.Call(context.Background(), "slow", nil, 0)
		errCh <- err
	}()

	transport.waitForRequest(t, "slow")
	transport.endStream()

	err := <-errCh
	require.ErrorIs(t, err, errors.ErrConnectionClosed)
	require.ErrorIs(t, err, errors.ErrEndOfStream)

	select {
	case <-h.ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel should be closed")
	}

	require.ErrorIs(t, <-h.runErr, errors.ErrEndOfStream)

	// New calls fail immediately once the connection is gone.
	_, err = h.ctrl.Call(context.Background(), "ping", nil, 0)
	require.ErrorIs(t, err, errors.ErrConnectionClosed)

	err = h.ctrl.Notify(context.Background(), "notifications/x", nil)
	require.ErrorIs(t, err, errors.ErrConnectionClosed)
}

func TestController_ReadErrorIsFatal(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	readErr := &errors.TransportError{Op: "read", Err: stderrors.New("broken pipe")}
	transport.readErr <- readErr

	err := <-h.runErr
	require.ErrorIs(t, err, readErr)
	require.Equal(t, readErr, h.ctrl.FatalError())
}

func TestController_EndOfStreamAfterShutdown(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	h.ctrl.Shutdown()
	transport.endStream()

	require.NoError(t, <-h.runErr)
}

func TestController_ShutdownRejectsNewWork(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	h.ctrl.Shutdown()

	_, err := h.ctrl.Call(context.Background(), "ping", nil, 0)
	require.ErrorIs(t, err, errors.ErrClientClosed)

	err = h.ctrl.Notify(context.Background(), "notifications/initialized", nil)
	require.ErrorIs(t, err, errors.ErrClientClosed)
}

func TestController_Notify(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	err := h.ctrl.Notify(context.Background(), "notifications/initialized", nil)
	require.NoError(t, err)

	sent := transport.sent()
	require.Len(t, sent, 1)
	require.Equal(t, jsonrpc.KindNotification, sent[0].Kind)
	require.Equal(t, "notifications/initialized", sent[0].Request.Method)
}

func TestController_NotificationDispatch(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	var (
		mu    sync.Mutex
		order []string
	)

	record := func(tag string) NotificationHandler {
		return func(_ context.Context, method string, _ json.RawMessage) {
			mu.Lock()
			defer mu.Unlock()

			order = append(order, tag+":"+method)
		}
	}

	h.ctrl.OnAnyNotification(record("any"))
	h.ctrl.OnNotification("notifications/message", record("message"))

	transport.push(map[string]any{"jsonrpc": "2.0", "method": "notifications/message", "params": map[string]any{"data": "hi"}})
	transport.push(map[string]any{"jsonrpc": "2.0", "method": "notifications/other"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(order) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []string{
		"message:notifications/message",
		"any:notifications/message",
		"any:notifications/other",
	}, order)
}

func TestController_PeerRequestWithoutHandler(t *testing.T) {
	transport := newMockTransport()
	startController(t, transport, Config{})

	transport.push(map[string]any{"jsonrpc": "2.0", "id": "srv-1", "method": "roots/list"})

	require.Eventually(t, func() bool {
		for _, msg := range transport.sent() {
			if wireErr := jsonrpc.WireError(msg.Response); msg.Kind == jsonrpc.KindResponse && wireErr != nil {
				return msg.Response.ID == jsonrpc.StringID("srv-1") &&
					wireErr.Code == mcpjsonrpc.CodeMethodNotFound
			}
		}

		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_PeerRequestHandler(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	h.ctrl.HandleRequest("roots/list", func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		return map[string]any{"roots": []any{}}, nil
	})
	h.ctrl.HandleRequest("sampling/createMessage", func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		return nil, &errors.RPCError{Code: -32000, Message: "sampling disabled"}
	})

	transport.push(map[string]any{"jsonrpc": "2.0", "id": 10, "method": "roots/list"})
	transport.push(map[string]any{"jsonrpc": "2.0", "id": 11, "method": "sampling/createMessage"})

	var ok, failed *jsonrpc.Response

	require.Eventually(t, func() bool {
		for _, msg := range transport.sent() {
			if msg.Kind != jsonrpc.KindResponse {
				continue
			}

			switch msg.Response.ID {
			case jsonrpc.IntID(10):
				ok = msg.Response
			case jsonrpc.IntID(11):
				failed = msg.Response
			}
		}

		return ok != nil && failed != nil
	}, 2*time.Second, 5*time.Millisecond)

	require.JSONEq(t, `{"roots":[]}`, string(ok.Result))
	wireErr := jsonrpc.WireError(failed)
	require.NotNil(t, wireErr)
	require.EqualValues(t, -32000, wireErr.Code)
	require.Equal(t, "sampling disabled", wireErr.Message)
}

func TestController_MalformedFramesSkipped(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	errCh := make(chan error, 1)
	resultCh := make(chan json.RawMessage, 1)

	go func() {
		raw, err := h.ctrl.Call(context.Background(), "ping", nil, 2*time.Second)
		resultCh <- raw
		errCh <- err
	}()

	req := transport.waitForRequest(t, "ping")

	transport.pushRaw(`not json at all`)
	transport.pushRaw(`{"jsonrpc":"2.0","result":{}}`)
	transport.push(&jsonrpc.Response{ID: req.ID, Result: json.RawMessage(`{"ok":true}`)})

	require.NoError(t, <-errCh)
	require.JSONEq(t, `{"ok":true}`, string(<-resultCh))
}

func TestController_TooManyMalformedFrames(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{MaxConsecutiveMalformed: 2})

	errCh := make(chan error, 1)

	go func() {
		_, err := h.ctrl.Call(context.Background(), "ping", nil, 0)
		errCh <- err
	}()

	transport.waitForRequest(t, "ping")
	transport.pushRaw(`garbage`)
	transport.pushRaw(`more garbage`)

	runErr := <-h.runErr
	_, ok := stderrors.AsType[*errors.ProtocolError](runErr)
	require.True(t, ok)

	err := <-errCh
	require.ErrorIs(t, err, errors.ErrConnectionClosed)
}

func TestController_DuplicateIDIsFatal(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{
		IDGenerator: func() jsonrpc.ID { return jsonrpc.StringID("same") },
	})

	errCh := make(chan error, 1)

	go func() {
		_, err := h.ctrl.Call(context.Background(), "first", nil, 0)
		errCh <- err
	}()

	transport.waitForRequest(t, "first")

	_, err := h.ctrl.Call(context.Background(), "second", nil, 0)
	require.ErrorIs(t, err, errors.ErrDuplicateRequestID)

	require.ErrorIs(t, <-errCh, errors.ErrConnectionClosed)

	_, ok := stderrors.AsType[*errors.ProtocolError](h.ctrl.FatalError())
	require.True(t, ok)
}

func TestController_StopMultipleCalls(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	h.ctrl.Stop()
	h.ctrl.Stop()
}

func TestController_SetFatalError_MultipleCalls(t *testing.T) {
	transport := newMockTransport()
	h := startController(t, transport, Config{})

	h.ctrl.SetFatalError(stderrors.New("first error"))
	require.EqualError(t, h.ctrl.FatalError(), "first error")

	h.ctrl.SetFatalError(stderrors.New("second error"))
	require.EqualError(t, h.ctrl.FatalError(), "first error")
}

func TestController_ConcurrentCalls(t *testing.T) {
	// Many concurrent calls with immediate responses each get their own result.
	// Run with: go test -race -count=10 -run TestController_ConcurrentCalls
	transport := newMockTransport()
	transport.onWrite = echoResponder

	h := startController(t, transport, Config{IDGenerator: config.ULIDs()})

	const n = 50

	var wg sync.WaitGroup

	errs := make(chan error, n)

	for i := range n {
		wg.Go(func() {
			raw, err := h.ctrl.Call(context.Background(), "echo", map[string]int{"i": i}, 2*time.Second)
			if err != nil {
				errs <- err

				return
			}

			var got map[string]int
			if err := json.Unmarshal(raw, &got); err != nil {
				errs <- err

				return
			}

			if got["i"] != i {
				errs <- stderrors.New("result delivered to the wrong caller")
			}
		})
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 0, h.ctrl.Pending().Len())
}

func TestController_TimeoutResponseRace(t *testing.T) {
	// Responses that arrive while the call is timing out must not leak entries
	// or deliver twice.
	for range 100 {
		transport := newMockTransport()
		transport.onWrite = func(m *mockTransport, data []byte) {
			msg := jsonrpc.Decode(data)
			if msg.Kind != jsonrpc.KindRequest {
				return
			}

			go func() {
				time.Sleep(time.Millisecond)
				m.push(&jsonrpc.Response{ID: msg.Request.ID, Result: json.RawMessage(`{}`)})
			}()
		}

		h := startController(t, transport, Config{})

		_, err := h.ctrl.Call(context.Background(), "racy", nil, time.Millisecond)
		if err != nil {
			require.ErrorIs(t, err, errors.ErrRequestTimeout)
		}

		require.Equal(t, 0, h.ctrl.Pending().Len())
	}
}
