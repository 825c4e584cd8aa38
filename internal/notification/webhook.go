package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookConfig configures a WebhookSender.
type WebhookConfig struct {
	Timeout time.Duration

	// AllowPrivateNetworks disables the private/loopback address check,
	// for receivers inside the cluster.
	AllowPrivateNetworks bool
}

// WebhookSender POSTs JSON payloads. Redirects are never followed and, unless
// configured otherwise, private and loopback targets are refused.
type WebhookSender struct {
	httpClient   *http.Client
	allowPrivate bool
	logger       *slog.Logger
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(cfg WebhookConfig, logger *slog.Logger) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebhookSender{
		httpClient: &http.Client{
			Timeout: timeout,
			// A redirect could point at an internal host.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		allowPrivate: cfg.AllowPrivateNetworks,
		logger:       logger,
	}
}

// Post sends payload as a JSON body. Any non-2xx response is an error.
func (s *WebhookSender) Post(ctx context.Context, webhookURL string, payload any) error {
	if webhookURL == "" {
		return fmt.Errorf("%w: empty URL", ErrURLRejected)
	}
	if err := validateWebhookURL(webhookURL, s.allowPrivate); err != nil {
		return fmt.Errorf("%w: %w", ErrURLRejected, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Warden-Webhook/1.0")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	s.logger.DebugContext(ctx, "webhook delivered",
		slog.String("host", req.URL.Host),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// validateWebhookURL checks the scheme and, unless allowPrivate is set, that
// the host resolves only to public addresses.
func validateWebhookURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("missing host")
	}
	if allowPrivate {
		return nil
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1" || hostname == "0.0.0.0" {
		return fmt.Errorf("loopback addresses not allowed")
	}

	ips, err := net.LookupHost(hostname)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for %q: %w", hostname, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP %s not allowed", ipStr)
		}
	}
	return nil
}
