package mcp

import (
	"context"
	"errors"
	"testing"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/tools"
)

func testBridge(t *testing.T) *Bridge {
	t.Helper()
	srv := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	srv.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("echoes text"),
		mcp.WithString("text", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, _ := req.GetArguments()["text"].(string)
		return mcp.NewToolResultText(text), nil
	})
	srv.AddTool(mcp.NewTool("fail"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("backend unavailable"), nil
	})

	c, err := mcpclient.NewInProcessClient(srv)
	if err != nil {
		t.Fatalf("NewInProcessClient: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b := NewBridge(nil)
	if err := b.Attach(ctx, "local", c); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestBridge_ResolveAndInvoke(t *testing.T) {
	b := testBridge(t)

	impl, err := b.Resolve(ClassPath("local", "echo"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	tool, ok := impl.(tools.Tool)
	if !ok {
		t.Fatalf("resolved %T, want tools.Tool", impl)
	}
	out, err := tool.Invoke(context.Background(), domain.ToolContext{}, map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	got := out.(Output)
	if got.Text != "hello" || got.Server != "local" || got.Items != 1 {
		t.Errorf("output = %+v", got)
	}
}

func TestBridge_ToolError(t *testing.T) {
	b := testBridge(t)
	impl, err := b.Resolve(ClassPath("local", "fail"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	_, err = impl.(tools.Tool).Invoke(context.Background(), domain.ToolContext{}, nil)
	if !errors.Is(err, ErrToolError) {
		t.Fatalf("expected ErrToolError, got %v", err)
	}
}

func TestBridge_ResolveUnknown(t *testing.T) {
	b := testBridge(t)
	for _, cp := range []string{
		"mcp:local/missing",
		"mcp:other/echo",
		"mcp:local",
		"mcp:/echo",
		"warden.tools.shell.Exec",
	} {
		if _, err := b.Resolve(cp); !errors.Is(err, tools.ErrNotRegistered) {
			t.Errorf("Resolve(%q) = %v, want ErrNotRegistered", cp, err)
		}
	}
}

func TestBridge_RegistryPrefix(t *testing.T) {
	b := testBridge(t)
	reg := tools.NewRegistry()
	reg.RegisterPrefix(ClassPathPrefix, b.Resolve)

	if _, err := reg.Resolve("mcp:local/echo"); err != nil {
		t.Fatalf("registry Resolve: %v", err)
	}
	if got := b.ClassPaths(); len(got) != 2 || got[0] != "mcp:local/echo" {
		t.Errorf("ClassPaths = %v", got)
	}
}
