// Package assetsdownloader assembles the asset download adapter from
// environment configuration: structured logging, telemetry, the
// impersonating transport session, and the credential-health reporter.
package assetsdownloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/reversegrok/assets_downloader/internal/config"
	"github.com/reversegrok/assets_downloader/internal/envelope"
	"github.com/reversegrok/assets_downloader/internal/logctx"
	"github.com/reversegrok/assets_downloader/internal/reverse"
	"github.com/reversegrok/assets_downloader/internal/telemetry"
	"github.com/reversegrok/assets_downloader/internal/token"
	"github.com/reversegrok/assets_downloader/internal/transport"
)

// Client is the assembled download adapter.
type Client struct {
	cfg     *config.Config
	logger  *slog.Logger
	tel     *telemetry.Telemetry
	service *reverse.AssetsDownload
}

// New loads configuration from the environment and wires the full download
// pipeline. Call Shutdown when done to flush telemetry.
func New(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return NewWithConfig(ctx, cfg)
}

// NewWithConfig wires the download pipeline around an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	tel, err := telemetry.New(telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	logger := slog.New(logctx.NewHandler(os.Stdout, cfg.SlogLevel()))

	session, err := transport.NewSession(cfg.Proxy.Browser, cfg.Asset.DownloadTimeout, cfg.ProxyURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create transport session: %w", err)
	}

	var reporter token.Reporter
	if cfg.Token.HealthWebhookURL != "" {
		reporter = &token.WebhookReporter{
			WebhookURL: cfg.Token.HealthWebhookURL,
			Client:     http.DefaultClient,
		}
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		tel:     tel,
		service: reverse.NewAssetsDownload(session, cfg, reporter, tel),
	}, nil
}

// Download fetches a single asset from the authenticated CDN and returns a
// streaming envelope. The caller owns the envelope and must Close it.
func (c *Client) Download(ctx context.Context, ssoToken, filePath string) (*envelope.Envelope, error) {
	return c.service.Download(c.withLogger(ctx), ssoToken, filePath)
}

// DownloadMany fetches several assets with bounded parallelism.
func (c *Client) DownloadMany(ctx context.Context, ssoToken string, paths []string) ([]*envelope.Envelope, error) {
	return c.service.DownloadMany(c.withLogger(ctx), ssoToken, paths)
}

// MetricsHandler exposes the Prometheus scrape endpoint, or nil when
// telemetry is disabled.
func (c *Client) MetricsHandler() http.Handler {
	return c.tel.Handler()
}

// Logger returns the configured structured logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Shutdown flushes telemetry.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.tel.Shutdown(ctx)
}

func (c *Client) withLogger(ctx context.Context) context.Context {
	if logctx.HasLogger(ctx) {
		return ctx
	}

	return logctx.WithLogger(ctx, c.logger)
}
