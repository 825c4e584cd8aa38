// Package mcp proxies tools served by external MCP (Model Context Protocol)
// servers. Catalog entries address them with class-paths of the form
// "mcp:<server>/<tool>" and flow through the same dispatch pipeline as
// built-in tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/tools"
)

// ClassPathPrefix is registered with the tool registry.
const ClassPathPrefix = "mcp:"

var ErrToolError = errors.New("mcp tool reported an error")

// ClassPath returns the class-path addressing tool on server.
func ClassPath(server, tool string) string {
	return ClassPathPrefix + server + "/" + tool
}

// Output is the value returned by a proxied tool.
type Output struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
	Text   string `json:"text"`
	Items  int    `json:"items"`
}

// Tool adapts one MCP tool to tools.Tool.
type Tool struct {
	server string
	name   string
	client mcpclient.MCPClient
	logger *slog.Logger
}

func (t *Tool) Invoke(ctx context.Context, _ domain.ToolContext, args map[string]any) (any, error) {
	t.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", t.server),
		slog.String("tool", t.name),
	)

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %s/%s failed: %w", t.server, t.name, err)
	}
	text := tools.TruncateOutput(formatContent(res.Content), tools.MaxOutputBytes)
	if res.IsError {
		return nil, fmt.Errorf("%w: %s/%s: %s", ErrToolError, t.server, t.name, text)
	}
	return Output{Server: t.server, Tool: t.name, Text: text, Items: len(res.Content)}, nil
}

// formatContent joins text items; other content kinds are serialized as JSON.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
			continue
		}
		data, _ := json.Marshal(c)
		sb.Write(data)
	}
	return sb.String()
}

type attachedServer struct {
	client mcpclient.MCPClient
	tools  map[string]struct{}
}

// Bridge owns the MCP client connections and resolves mcp: class-paths.
type Bridge struct {
	mu      sync.RWMutex
	servers map[string]*attachedServer
	logger  *slog.Logger
}

func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bridge{servers: make(map[string]*attachedServer), logger: logger}
}

// Connect opens a client for cfg and attaches it.
func (b *Bridge) Connect(ctx context.Context, cfg config.MCPServerConfig) error {
	c, err := createClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}
	if err := b.Attach(ctx, cfg.Name, c); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Attach performs the initialize handshake on a started client and records
// the tools it serves.
func (b *Bridge) Attach(ctx context.Context, name string, c mcpclient.MCPClient) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid MCP server name %q", name)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "warden", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("MCP initialize for %q: %w", name, err)
	}

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("MCP list tools for %q: %w", name, err)
	}
	srv := &attachedServer{client: c, tools: make(map[string]struct{}, len(list.Tools))}
	for _, t := range list.Tools {
		srv.tools[t.Name] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.servers[name]; exists {
		return fmt.Errorf("MCP server %q already attached", name)
	}
	b.servers[name] = srv

	b.logger.Info("MCP server connected",
		slog.String("server", name),
		slog.Int("tools_discovered", len(srv.tools)),
	)
	return nil
}

// Resolve serves the registry prefix "mcp:".
func (b *Bridge) Resolve(classPath string) (any, error) {
	rest, ok := strings.CutPrefix(classPath, ClassPathPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tools.ErrNotRegistered, classPath)
	}
	serverName, toolName, ok := strings.Cut(rest, "/")
	if !ok || serverName == "" || toolName == "" {
		return nil, fmt.Errorf("%w: malformed MCP class-path %q", tools.ErrNotRegistered, classPath)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	srv, ok := b.servers[serverName]
	if !ok {
		return nil, fmt.Errorf("%w: MCP server %q not connected", tools.ErrNotRegistered, serverName)
	}
	if _, ok := srv.tools[toolName]; !ok {
		return nil, fmt.Errorf("%w: MCP server %q has no tool %q", tools.ErrNotRegistered, serverName, toolName)
	}
	return &Tool{server: serverName, name: toolName, client: srv.client, logger: b.logger}, nil
}

// ClassPaths lists every discovered tool, sorted.
func (b *Bridge) ClassPaths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for name, srv := range b.servers {
		for tool := range srv.tools {
			out = append(out, ClassPath(name, tool))
		}
	}
	slices.Sort(out)
	return out
}

// Close shuts down all MCP client connections.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			b.logger.Error("closing MCP client", slog.String("server", name), slog.String("error", err.Error()))
		}
	}
	clear(b.servers)
}

func createClient(ctx context.Context, cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio", "":
		// The stdio client starts its subprocess on construction.
		return mcpclient.NewStdioMCPClient(cfg.Command, expandEnvList(cfg.Env), cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandEnv(cfg.Headers)))
		}
		c, err := mcpclient.NewSSEMCPClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		return c, c.Start(ctx)

	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandEnv(cfg.Headers)))
		}
		c, err := mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		return c, c.Start(ctx)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

func expandEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

func expandEnv(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
