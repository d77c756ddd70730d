// Package reverse is the public entry point of the asset download adapter.
// It impersonates a real browser's request fingerprint against the
// authenticated asset CDN, cascades through fallback transports, retries
// transient upstream statuses, and reports authentication failures to the
// credential-health service.
package reverse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/reversegrok/assets_downloader/internal/config"
	"github.com/reversegrok/assets_downloader/internal/envelope"
	"github.com/reversegrok/assets_downloader/internal/headers"
	"github.com/reversegrok/assets_downloader/internal/logctx"
	"github.com/reversegrok/assets_downloader/internal/retry"
	"github.com/reversegrok/assets_downloader/internal/telemetry"
	"github.com/reversegrok/assets_downloader/internal/token"
	"github.com/reversegrok/assets_downloader/internal/transport"
	"github.com/reversegrok/assets_downloader/internal/upstream"
	"golang.org/x/sync/errgroup"
)

// DownloadAPI is the authenticated asset endpoint.
const DownloadAPI = "https://assets.grok.com"

const refererURL = "https://grok.com/"

// contentTypes is the closed extension mapping used to shape outgoing
// headers. It never validates the downloaded bytes.
var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// AssetsDownload orchestrates asset downloads: build the request target and
// headers, run the retry-wrapped transport cascade, classify the outcome.
type AssetsDownload struct {
	cfg      *config.Config
	cascade  *transport.Tiered
	policy   *retry.Policy
	reporter token.Reporter
	tel      *telemetry.Telemetry
	baseURL  string
}

// NewAssetsDownload wires the download pipeline around an impersonating
// session. reporter may be nil when no credential-health service is
// configured; tel may be nil to disable instrumentation.
func NewAssetsDownload(session *transport.Session, cfg *config.Config, reporter token.Reporter, tel *telemetry.Telemetry) *AssetsDownload {
	return &AssetsDownload{
		cfg:      cfg,
		cascade:  transport.NewTiered(session, cfg.Asset.DownloadTimeout, cfg.Asset.ChunkSize, tel),
		policy:   retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.Backoff, cfg.Retry.MaxBackoff, cfg.Retry.Statuses, tel),
		reporter: reporter,
		tel:      tel,
		baseURL:  DownloadAPI,
	}
}

// Download fetches one asset and returns its streaming envelope. On terminal
// failure the returned error is always a classified *upstream.Error; a 401
// additionally fires a fire-and-forget credential-health notification.
func (s *AssetsDownload) Download(ctx context.Context, ssoToken, filePath string) (*envelope.Envelope, error) {
	start := time.Now()

	s.tel.IncrementActiveDownloads()
	defer s.tel.DecrementActiveDownloads()

	var env *envelope.Envelope

	err := s.tel.InstrumentOperation(ctx, "assets_download", "reverse", func(ctx context.Context) error {
		var err error
		env, err = s.download(ctx, ssoToken, filePath)

		return err
	})
	if err != nil {
		s.tel.RecordDownload("error", time.Since(start))

		return nil, s.classify(ctx, ssoToken, err)
	}

	s.tel.RecordDownload("success", time.Since(start))

	return env, nil
}

// DownloadMany fetches several assets with bounded parallelism. The returned
// slice is index-aligned with paths; a failed sibling cancels the remaining
// downloads and the first failure is returned.
func (s *AssetsDownload) DownloadMany(ctx context.Context, ssoToken string, paths []string) ([]*envelope.Envelope, error) {
	results := make([]*envelope.Envelope, len(paths))

	maxParallel := s.cfg.Asset.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	wg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxParallel)

	for i := range paths {
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			env, err := s.Download(ctx, ssoToken, paths[i])
			if err != nil {
				return err
			}

			results[i] = env

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return results, fmt.Errorf("failed to download assets: %w", err)
	}

	return results, nil
}

func (s *AssetsDownload) download(ctx context.Context, ssoToken, filePath string) (*envelope.Envelope, error) {
	// Normalize path
	if !strings.HasPrefix(filePath, "/") {
		filePath = "/" + filePath
	}

	contentType := contentTypes[extensionOf(filePath)]

	hdrs := headers.Build(ssoToken, contentType, s.baseURL, refererURL)
	// Align with browser download navigation headers.
	hdrs.Set("Cache-Control", "no-cache")
	hdrs.Set("Pragma", "no-cache")
	hdrs.Set("Priority", "u=0, i")
	hdrs.Set("Sec-Fetch-Mode", "navigate")
	hdrs.Set("Sec-Fetch-User", "?1")
	hdrs.Set("Upgrade-Insecure-Requests", "1")

	req := &transport.Request{
		URL:     s.baseURL + filePath,
		Headers: hdrs,
	}

	return s.policy.Do(ctx, func(ctx context.Context) (*envelope.Envelope, error) {
		return s.cascade.Do(ctx, req)
	})
}

// classify guarantees the caller sees a classified upstream failure and
// fires the credential feedback side channel on authentication failures.
func (s *AssetsDownload) classify(ctx context.Context, ssoToken string, err error) error {
	logger := logctx.LoggerFromContext(ctx)

	var ue *upstream.Error

	wasClassified := errors.As(err, &ue)

	classified := upstream.Classify(err)
	if !wasClassified {
		logger.Error("assets download failed", "err", err)
	}

	if classified.Status == 401 {
		s.reportAuthFailure(ctx, ssoToken, classified.Status)
	}

	return classified
}

// reportAuthFailure dispatches the credential-health notification as a
// detached task. Its outcome never reaches the caller: errors and panics
// are recorded as metrics and debug logs only.
func (s *AssetsDownload) reportAuthFailure(ctx context.Context, ssoToken string, status int) {
	if s.reporter == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.tel.RecordCredentialReport("failed")
				logger.Debug("credential feedback panicked", "panic", r)
			}
		}()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := s.reporter.RecordFailure(rctx, ssoToken, status, token.ReasonAuthFailed); err != nil {
			s.tel.RecordCredentialReport("failed")
			logger.Debug("credential feedback failed", "err", err)

			return
		}

		s.tel.RecordCredentialReport("sent")
	}()
}

// extensionOf extracts the lowercase file extension, ignoring any query
// component of the path.
func extensionOf(filePath string) string {
	p := filePath
	if u, err := url.Parse(filePath); err == nil {
		p = u.Path
	}

	return strings.ToLower(path.Ext(p))
}
