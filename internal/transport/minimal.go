package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/reversegrok/assets_downloader/internal/envelope"
	"github.com/reversegrok/assets_downloader/internal/logctx"
)

// minimalClient is the last-resort tier: a plain HTTP/1.1 GET that bypasses
// the impersonating TLS stack entirely. The blocking call runs on its own
// goroutine so a stalled fallback cannot hold up the caller; on cancellation
// the in-flight call runs to completion and its result is discarded.
type minimalClient struct {
	client    *http.Client
	chunkSize int
}

func newMinimalClient(timeout time.Duration, chunkSize int) *minimalClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &minimalClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             nil,
				ForceAttemptHTTP2: false,
				DisableKeepAlives: true,
			},
			Timeout: timeout,
		},
		chunkSize: chunkSize,
	}
}

type minimalResult struct {
	env *envelope.Envelope
	err error
}

// get performs the blocking fallback GET off the calling goroutine and
// adapts the fully buffered body into an envelope whose chunk producer
// slices it on demand.
func (m *minimalClient) get(ctx context.Context, r *Request) (*envelope.Envelope, error) {
	logger := logctx.LoggerFromContext(ctx)

	results := make(chan minimalResult, 1)

	go func() {
		results <- m.blockingGet(logger, r)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		return res.env, res.err
	}
}

func (m *minimalClient) blockingGet(logger *slog.Logger, r *Request) minimalResult {
	// Deliberately not bound to the caller's context: once dispatched, the
	// fallback call is allowed to finish and is abandoned via the channel.
	req, err := http.NewRequest(http.MethodGet, r.URL, nil)
	if err != nil {
		return minimalResult{err: err}
	}

	setStdlibHeaders(req, r)

	resp, err := m.client.Do(req)
	if err != nil {
		return minimalResult{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return minimalResult{err: err}
	}

	logger.Debug("fallback body buffered",
		"status", resp.StatusCode,
		"size", humanize.Bytes(uint64(len(body))))

	return minimalResult{
		env: envelope.NewBuffered(resp.StatusCode, envelope.NormalizeHeaders(resp.Header), body, m.chunkSize),
	}
}
