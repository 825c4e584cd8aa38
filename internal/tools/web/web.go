// Package web implements an HTTP fetch tool with SSRF protection.
//
// Security:
//   - Domain allowlist enforced before every request and on every redirect
//   - Private/internal IPs blocked at DNS time and again at dial time
//   - Response body capped
//   - Only GET and HEAD methods allowed
package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/tools"
)

// ClassPath is the catalog class-path served by this tool.
const ClassPath = "warden.tools.web.Fetch"

// HTTPClientService is the ToolContext service name of an *http.Client
// used instead of the tool's guarded client.
const HTTPClientService = "http_client"

const (
	defaultMaxResponseBytes = 5 << 20 // 5 MB
	defaultTimeout          = 10 * time.Second
	maxRedirects            = 5
)

// Config configures the web fetch tool restrictions.
type Config struct {
	AllowedDomains   []string // Empty = deny all.
	MaxResponseBytes int64
	Timeout          time.Duration
	// AllowPrivateNetworks disables the SSRF address checks (tests, internal deployments).
	AllowPrivateNetworks bool
}

// Output is the tool's result value.
type Output struct {
	StatusCode  int    `json:"statusCode"`
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Tool fetches URLs within the configured allowlist.
type Tool struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewTool creates a web fetch tool restricted to the given domains.
func NewTool(cfg Config, logger *slog.Logger) *Tool {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t := &Tool{config: cfg, logger: logger}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	if !cfg.AllowPrivateNetworks {
		dialer.Control = guardedDialControl
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil
	t.client = &http.Client{Transport: transport, CheckRedirect: t.checkRedirect}
	return t
}

// Invoke fetches args["url"]. args["method"] may be GET (default) or HEAD.
func (t *Tool) Invoke(ctx context.Context, tc domain.ToolContext, args map[string]any) (any, error) {
	rawURL, err := tools.StringArg(args, "url")
	if err != nil {
		return nil, err
	}
	parsed, method, err := t.validate(rawURL, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tools.ErrInvalidArgument, err)
	}
	if !t.config.AllowPrivateNetworks {
		if err := CheckSSRF(ctx, parsed.Hostname()); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Warden/1.0")

	t.logger.InfoContext(ctx, "web fetch executing",
		slog.String("method", method),
		slog.String("url", parsed.String()),
	)

	resp, err := t.httpClient(tc).Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	out := Output{
		StatusCode:  resp.StatusCode,
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if int64(len(body)) > t.config.MaxResponseBytes {
		body = body[:t.config.MaxResponseBytes]
		out.Truncated = true
	}
	out.Body = tools.TruncateOutput(string(body), tools.MaxOutputBytes)
	return out, nil
}

func (t *Tool) validate(rawURL string, args map[string]any) (*url.URL, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("only http/https schemes allowed, got %q", parsed.Scheme)
	}
	if !IsDomainAllowed(parsed.Hostname(), t.config.AllowedDomains) {
		return nil, "", fmt.Errorf("domain %q is not in the allowlist", parsed.Hostname())
	}
	method := http.MethodGet
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, "", fmt.Errorf("only GET and HEAD methods allowed, got %q", method)
	}
	return parsed, method, nil
}

func (t *Tool) httpClient(tc domain.ToolContext) *http.Client {
	if svc, ok := tc.Service(HTTPClientService); ok {
		if c, ok := svc.(*http.Client); ok && c != nil {
			return c
		}
	}
	return t.client
}

// checkRedirect validates that redirect targets are also allowed.
func (t *Tool) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("too many redirects (max %d)", maxRedirects)
	}
	host := req.URL.Hostname()
	if !IsDomainAllowed(host, t.config.AllowedDomains) {
		return fmt.Errorf("redirect to disallowed domain %q blocked", host)
	}
	if t.config.AllowPrivateNetworks {
		return nil
	}
	return CheckSSRF(req.Context(), host)
}
