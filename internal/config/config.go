package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
//
// Proxy and impersonation settings are optional: when empty the download
// pipeline degrades to direct, un-impersonated requests.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	Asset struct {
		// DownloadTimeout applies per attempt, not across the retry cascade.
		DownloadTimeout time.Duration `split_words:"true" default:"30s"`
		ChunkSize       int           `split_words:"true" default:"65536"`
		MaxParallel     int           `split_words:"true" default:"5"`
	}

	Proxy struct {
		BaseProxyURL  string `split_words:"true"`
		AssetProxyURL string `split_words:"true"`
		// Browser selects the TLS/HTTP impersonation profile (e.g. "chrome_133").
		// Empty disables impersonation.
		Browser string
	}

	Retry struct {
		MaxAttempts int           `split_words:"true" default:"2"`
		Backoff     time.Duration `default:"500ms"`
		MaxBackoff  time.Duration `split_words:"true" default:"10s"`
		Statuses    []int         `default:"429,502,503,504"`
	}

	Token struct {
		HealthWebhookURL string `split_words:"true"`
	}

	Telemetry struct {
		Enabled        bool   `default:"false"`
		ServiceName    string `split_words:"true" default:"assets_downloader"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// ProxyURL resolves the effective proxy with asset-specific precedence over
// the base proxy. Empty means no proxy.
func (c *Config) ProxyURL() string {
	if p := strings.TrimSpace(c.Proxy.AssetProxyURL); p != "" {
		return p
	}

	return strings.TrimSpace(c.Proxy.BaseProxyURL)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
