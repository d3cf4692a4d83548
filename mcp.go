package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/mcp-client-go/internal/config"
)

// ProtocolVersion is the MCP revision requested during Initialize.
const ProtocolVersion = "2025-06-18"

// MCP method names used by the typed helpers.
const (
	MethodInitialize       = "initialize"
	MethodInitialized      = "notifications/initialized"
	MethodPing             = "ping"
	MethodListTools        = "tools/list"
	MethodCallTool         = "tools/call"
	MethodListResources    = "resources/list"
	MethodReadResource     = "resources/read"
	MethodListPrompts      = "prompts/list"
	MethodGetPrompt        = "prompts/get"
	MethodSetLoggingLevel  = "logging/setLevel"
	MethodLogMessage       = "notifications/message"
	MethodProgress         = "notifications/progress"
	MethodToolsListChanged = "notifications/tools/list_changed"
)

// maxToolPages stops ListAllTools from following a cursor loop forever.
const maxToolPages = 1000

func (c *clientWrapper) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	name := c.options.ClientName
	if name == "" {
		name = config.DefaultClientName
	}

	version := c.options.ClientVersion
	if version == "" {
		version = config.DefaultClientVersion
	}

	params := &mcp.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      &mcp.Implementation{Name: name, Version: version},
		Capabilities:    &mcp.ClientCapabilities{},
	}

	var result mcp.InitializeResult
	if err := c.Call(ctx, MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	if err := c.Notify(ctx, MethodInitialized, &mcp.InitializedParams{}); err != nil {
		return nil, fmt.Errorf("send initialized: %w", err)
	}

	c.mu.Lock()
	c.initResult = &result
	c.mu.Unlock()

	c.log.Debug("Session initialized",
		"protocol_version", result.ProtocolVersion,
		"server", serverName(&result),
	)

	return &result, nil
}

func serverName(result *mcp.InitializeResult) string {
	if result.ServerInfo == nil {
		return ""
	}

	return result.ServerInfo.Name
}

func (c *clientWrapper) InitializeResult() *mcp.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.initResult
}

func (c *clientWrapper) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	var result mcp.ListToolsResult

	// A nil *mcp.ListToolsParams would marshal as null; omit params instead.
	var p any
	if params != nil {
		p = params
	}

	if err := c.Call(ctx, MethodListTools, p, &result); err != nil {
		return nil, err
	}

	if c.options.ValidateToolArguments {
		c.rememberSchemas(result.Tools)
	}

	return &result, nil
}

func (c *clientWrapper) ListAllTools(ctx context.Context) ([]*mcp.Tool, error) {
	var (
		tools  []*mcp.Tool
		cursor string
	)

	for range maxToolPages {
		var params *mcp.ListToolsParams
		if cursor != "" {
			params = &mcp.ListToolsParams{Cursor: cursor}
		}

		page, err := c.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}

		tools = append(tools, page.Tools...)

		if page.NextCursor == "" {
			return tools, nil
		}

		cursor = page.NextCursor
	}

	return nil, &ProtocolError{Reason: fmt.Sprintf("tools/list did not finish after %d pages", maxToolPages)}
}

func (c *clientWrapper) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil params", ErrInvalidToolArguments)
	}

	if c.options.ValidateToolArguments {
		if err := c.validateArguments(params); err != nil {
			return nil, err
		}
	}

	var result mcp.CallToolResult
	if err := c.Call(ctx, MethodCallTool, params, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// rememberSchemas resolves each tool's input schema for later validation.
// Tools whose schema cannot be resolved are called unchecked.
func (c *clientWrapper) rememberSchemas(tools []*mcp.Tool) {
	for _, tool := range tools {
		if tool == nil || tool.InputSchema == nil {
			continue
		}

		resolved, err := resolveSchema(tool.InputSchema)
		if err != nil {
			c.log.Warn("Ignoring unusable tool input schema", "tool", tool.Name, "error", err)

			continue
		}

		c.mu.Lock()
		c.schemas[tool.Name] = resolved
		c.mu.Unlock()
	}
}

// resolveSchema converts a decoded input schema into a resolved jsonschema.
func resolveSchema(raw any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	return schema.Resolve(nil)
}

func (c *clientWrapper) validateArguments(params *mcp.CallToolParams) error {
	c.mu.Lock()
	resolved, ok := c.schemas[params.Name]
	c.mu.Unlock()

	if !ok {
		return nil
	}

	// Validate the arguments as they will appear on the wire.
	instance := map[string]any{}

	if params.Arguments != nil {
		data, err := json.Marshal(params.Arguments)
		if err != nil {
			return fmt.Errorf("%w: tool %q: %w", ErrInvalidToolArguments, params.Name, err)
		}

		if err := json.Unmarshal(data, &instance); err != nil {
			return fmt.Errorf("%w: tool %q: arguments must be an object: %w", ErrInvalidToolArguments, params.Name, err)
		}
	}

	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: tool %q: %w", ErrInvalidToolArguments, params.Name, err)
	}

	return nil
}

func (c *clientWrapper) ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	var p any
	if params != nil {
		p = params
	}

	var result mcp.ListResourcesResult
	if err := c.Call(ctx, MethodListResources, p, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *clientWrapper) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	var result mcp.ReadResourceResult
	if err := c.Call(ctx, MethodReadResource, params, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *clientWrapper) ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	var p any
	if params != nil {
		p = params
	}

	var result mcp.ListPromptsResult
	if err := c.Call(ctx, MethodListPrompts, p, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *clientWrapper) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	var result mcp.GetPromptResult
	if err := c.Call(ctx, MethodGetPrompt, params, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *clientWrapper) Ping(ctx context.Context) error {
	return c.Call(ctx, MethodPing, nil, nil)
}

func (c *clientWrapper) SetLoggingLevel(ctx context.Context, level mcp.LoggingLevel) error {
	return c.Call(ctx, MethodSetLoggingLevel, &mcp.SetLoggingLevelParams{Level: level}, nil)
}

func (c *clientWrapper) OnLogMessage(handler func(ctx context.Context, params *mcp.LoggingMessageParams)) {
	c.OnNotification(MethodLogMessage, func(ctx context.Context, method string, raw json.RawMessage) {
		var params mcp.LoggingMessageParams
		if err := json.Unmarshal(raw, &params); err != nil {
			c.log.Warn("Dropping malformed notification", "method", method, "error", err)

			return
		}

		handler(ctx, &params)
	})
}

func (c *clientWrapper) OnProgress(handler func(ctx context.Context, params *mcp.ProgressNotificationParams)) {
	c.OnNotification(MethodProgress, func(ctx context.Context, method string, raw json.RawMessage) {
		var params mcp.ProgressNotificationParams
		if err := json.Unmarshal(raw, &params); err != nil {
			c.log.Warn("Dropping malformed notification", "method", method, "error", err)

			return
		}

		handler(ctx, &params)
	})
}

func (c *clientWrapper) OnToolsListChanged(handler func(ctx context.Context)) {
	c.OnNotification(MethodToolsListChanged, func(ctx context.Context, _ string, _ json.RawMessage) {
		handler(ctx)
	})
}
