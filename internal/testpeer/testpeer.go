// Package testpeer is a scripted JSON-RPC peer used by the end-to-end tests.
//
// Test binaries call MaybeRun from TestMain. When the EnvScenario variable is
// set, the binary acts as the peer on its own stdio and exits; otherwise
// MaybeRun returns and the tests run normally. Tests spawn os.Args[0] with
// Env(scenario) to get a peer without building anything.
package testpeer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	mcpjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/wagiedev/mcp-client-go/internal/framing"
	"github.com/wagiedev/mcp-client-go/internal/jsonrpc"
)

const (
	// EnvScenario selects the peer behavior.
	EnvScenario = "MCPCLIENT_TEST_PEER"
	// EnvFraming selects the framing mode ("newline" or "content-length").
	EnvFraming = "MCPCLIENT_TEST_PEER_FRAMING"
)

// Scenarios understood by the peer.
const (
	// ScenarioFull answers the method table below.
	ScenarioFull = "full"
	// ScenarioEmpty is ScenarioFull with an empty tools/list.
	ScenarioEmpty = "empty"
	// ScenarioCrash writes to stderr and exits 2 without reading.
	ScenarioCrash = "crash"
	// ScenarioHang reads requests, never answers, and ignores end of input.
	ScenarioHang = "hang"
	// ScenarioDeaf never reads stdin, so large writes to it block.
	ScenarioDeaf = "deaf"
	// ScenarioBadTools answers tools/list with a result of the wrong shape.
	ScenarioBadTools = "bad-tools"
)

// Env returns the environment overrides that select a scenario.
func Env(scenario string) map[string]string {
	return map[string]string{EnvScenario: scenario}
}

// MaybeRun turns the current process into the peer when EnvScenario is set.
func MaybeRun() {
	scenario := os.Getenv(EnvScenario)
	if scenario == "" {
		return
	}

	mode, err := framing.ParseMode(os.Getenv(EnvFraming))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	os.Exit(Run(scenario, mode, os.Stdin, os.Stdout, os.Stderr))
}

// Tools served by ScenarioFull, split over two pages.
var toolPages = [][]map[string]any{
	{
		{
			"name":        "echo",
			"description": "Echo the text argument",
			"inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
				"required":   []string{"text"},
			},
		},
	},
	{
		{
			"name":        "fail",
			"description": "Always reports a tool error",
			"inputSchema": map[string]any{"type": "object"},
		},
	},
}

type peer struct {
	scenario string
	mode     framing.Mode
	out      io.Writer
	errOut   io.Writer

	writeMu sync.Mutex

	askMu   sync.Mutex
	askSeq  int
	askWait map[string]chan json.RawMessage

	wg sync.WaitGroup
}

// Run serves one session on in/out and returns the process exit code.
func Run(scenario string, mode framing.Mode, in io.Reader, out, errOut io.Writer) int {
	p := &peer{
		scenario: scenario,
		mode:     mode,
		out:      out,
		errOut:   errOut,
		askWait:  make(map[string]chan json.RawMessage),
	}

	if scenario == ScenarioCrash {
		fmt.Fprintln(errOut, "fatal: peer crashed on startup")

		return 2
	}

	if scenario == ScenarioDeaf {
		time.Sleep(time.Hour)

		return 0
	}

	reader := framing.NewReader(mode, in, 0)

	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			break
		}

		msg := jsonrpc.Decode(frame)

		switch msg.Kind {
		case jsonrpc.KindRequest:
			req := msg.Request
			p.wg.Go(func() {
				p.handle(req)
			})
		case jsonrpc.KindResponse:
			p.deliverAnswer(msg.Response, frame)
		case jsonrpc.KindNotification:
			fmt.Fprintf(errOut, "peer got notification %s\n", msg.Request.Method)
		default:
			fmt.Fprintf(errOut, "peer got malformed frame: %v\n", msg.Err)
		}
	}

	if scenario == ScenarioHang {
		time.Sleep(time.Hour)
	}

	p.wg.Wait()

	return 0
}

func (p *peer) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(p.errOut, "peer marshal: %v\n", err)

		return
	}

	p.writeRaw(data)
}

func (p *peer) writeRaw(data []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_, _ = p.out.Write(framing.Encode(p.mode, data))
}

func (p *peer) reply(id jsonrpc.ID, result any) {
	data, err := jsonrpc.EncodeResult(id, result)
	if err != nil {
		p.fail(id, mcpjsonrpc.CodeInternalError, err.Error())

		return
	}

	p.writeRaw(data)
}

func (p *peer) fail(id jsonrpc.ID, code int64, message string) {
	p.failWith(id, &jsonrpc.Error{Code: code, Message: message})
}

func (p *peer) failWith(id jsonrpc.ID, wireErr *jsonrpc.Error) {
	data, err := jsonrpc.EncodeError(id, wireErr)
	if err != nil {
		fmt.Fprintf(p.errOut, "peer encode: %v\n", err)

		return
	}

	p.writeRaw(data)
}

func (p *peer) handle(req *jsonrpc.Request) {
	if p.scenario == ScenarioHang {
		return
	}

	var params map[string]any
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}

	switch req.Method {
	case "initialize":
		p.reply(req.ID, map[string]any{
			"protocolVersion": "2025-06-18",
			"capabilities": map[string]any{
				"tools":   map[string]any{"listChanged": true},
				"logging": map[string]any{},
			},
			"serverInfo": map[string]any{"name": "test-peer", "version": "1.0.0"},
		})

	case "ping", "logging/setLevel":
		p.reply(req.ID, map[string]any{})

	case "tools/list":
		p.listTools(req.ID, params)

	case "tools/call":
		p.callTool(req.ID, params)

	case "resources/list":
		p.reply(req.ID, map[string]any{
			"resources": []any{map[string]any{"uri": "mem://greeting", "name": "greeting", "mimeType": "text/plain"}},
		})

	case "resources/read":
		p.reply(req.ID, map[string]any{
			"contents": []any{map[string]any{"uri": params["uri"], "mimeType": "text/plain", "text": "hello"}},
		})

	case "prompts/list":
		p.reply(req.ID, map[string]any{
			"prompts": []any{map[string]any{"name": "greet", "arguments": []any{map[string]any{"name": "who", "required": true}}}},
		})

	case "prompts/get":
		args, _ := params["arguments"].(map[string]any)
		p.reply(req.ID, map[string]any{
			"messages": []any{map[string]any{
				"role":    "user",
				"content": map[string]any{"type": "text", "text": fmt.Sprintf("hello %v", args["who"])},
			}},
		})

	case "echo":
		p.reply(req.ID, params)

	case "sleep":
		ms, _ := params["ms"].(float64)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		p.reply(req.ID, map[string]any{"slept": ms})

	case "error":
		p.failWith(req.ID, &jsonrpc.Error{Code: -32000, Message: "boom", Data: json.RawMessage(`{"detail":"requested"}`)})

	case "notify":
		p.write(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notifications/message",
			"params":  map[string]any{"level": "info", "logger": "test-peer", "data": "hello"},
		})
		p.write(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notifications/progress",
			"params":  map[string]any{"progressToken": "t1", "progress": 1, "total": 2},
		})
		p.reply(req.ID, map[string]any{})

	case "bogus":
		p.writeRaw([]byte(`this is not json`))
		p.write(map[string]any{"jsonrpc": "2.0", "id": "never-sent", "result": map[string]any{}})
		p.reply(req.ID, map[string]any{"ok": true})

	case "ask":
		p.ask(req.ID)

	case "exit":
		code, _ := params["code"].(float64)
		fmt.Fprintln(p.errOut, "peer exiting on request")
		os.Exit(int(code))

	default:
		p.fail(req.ID, mcpjsonrpc.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (p *peer) listTools(id jsonrpc.ID, params map[string]any) {
	if p.scenario == ScenarioEmpty {
		p.reply(id, map[string]any{"tools": []any{}})

		return
	}

	if p.scenario == ScenarioBadTools {
		p.reply(id, map[string]any{"tools": "not-a-list"})

		return
	}

	page := 0
	if cursor, ok := params["cursor"].(string); ok && cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n >= len(toolPages) {
			p.fail(id, mcpjsonrpc.CodeInvalidParams, "bad cursor")

			return
		}

		page = n
	}

	result := map[string]any{"tools": toolPages[page]}
	if page+1 < len(toolPages) {
		result["nextCursor"] = strconv.Itoa(page + 1)
	}

	p.reply(id, result)
}

func (p *peer) callTool(id jsonrpc.ID, params map[string]any) {
	args, _ := params["arguments"].(map[string]any)

	switch params["name"] {
	case "echo":
		p.reply(id, map[string]any{
			"content": []any{map[string]any{"type": "text", "text": fmt.Sprint(args["text"])}},
		})
	case "fail":
		p.reply(id, map[string]any{
			"content": []any{map[string]any{"type": "text", "text": "tool failed"}},
			"isError": true,
		})
	default:
		p.fail(id, mcpjsonrpc.CodeInvalidParams, fmt.Sprintf("unknown tool %v", params["name"]))
	}
}

// ask sends a request to the client and returns the client's answer as the
// result of the original call.
func (p *peer) ask(id jsonrpc.ID) {
	p.askMu.Lock()
	p.askSeq++
	askID := "peer-" + strconv.Itoa(p.askSeq)
	ch := make(chan json.RawMessage, 1)
	p.askWait[askID] = ch
	p.askMu.Unlock()

	p.write(map[string]any{"jsonrpc": "2.0", "id": askID, "method": "roots/list"})

	select {
	case answer := <-ch:
		p.reply(id, map[string]any{"answer": answer})
	case <-time.After(5 * time.Second):
		p.fail(id, mcpjsonrpc.CodeInternalError, "client never answered")
	}
}

// deliverAnswer hands the client's raw response frame to the waiting ask.
func (p *peer) deliverAnswer(resp *jsonrpc.Response, frame []byte) {
	key := jsonrpc.IDString(resp.ID)

	p.askMu.Lock()
	ch, ok := p.askWait[key]
	delete(p.askWait, key)
	p.askMu.Unlock()

	if !ok {
		return
	}

	ch <- json.RawMessage(append([]byte(nil), frame...))
}
