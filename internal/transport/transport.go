// Package transport executes the tiered download cascade against the asset
// endpoint: a browser-impersonating proxied client first, a direct client
// second, and a minimal fallback client last. A non-200 status is treated
// exactly like a transport failure for escalation purposes; only the final
// tier's failure is terminal.
package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/reversegrok/assets_downloader/internal/envelope"
	"github.com/reversegrok/assets_downloader/internal/logctx"
	"github.com/reversegrok/assets_downloader/internal/telemetry"
	"github.com/reversegrok/assets_downloader/internal/upstream"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Tiered runs the three-strategy cascade. It holds one client per strategy;
// per-download state lives entirely in the Request descriptor, so a single
// Tiered is shared across concurrent downloads.
type Tiered struct {
	session   *Session
	direct    *http.Client
	minimal   *minimalClient
	tel       *telemetry.Telemetry
	chunkSize int
	tiers     []Tier
}

// NewTiered builds the cascade. The timeout applies per attempt on every
// tier; chunkSize shapes the envelopes' chunk producers.
func NewTiered(session *Session, timeout time.Duration, chunkSize int, tel *telemetry.Telemetry) *Tiered {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	directTransport := &http.Transport{
		Proxy:               nil,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Tiered{
		session: session,
		direct: &http.Client{
			Transport: otelhttp.NewTransport(directTransport),
			Timeout:   timeout,
		},
		minimal:   newMinimalClient(timeout, chunkSize),
		tel:       tel,
		chunkSize: chunkSize,
		tiers:     Cascade(),
	}
}

// Do attempts the request tier by tier and returns the first 200 response
// untouched. Every other outcome escalates with a warning until the last
// tier, whose classified failure is returned to the caller.
func (t *Tiered) Do(ctx context.Context, r *Request) (*envelope.Envelope, error) {
	logger := logctx.LoggerFromContext(ctx)

	var lastErr error

	for i, tier := range t.tiers {
		t.tel.RecordTierAttempt(tier.Name)

		env, err := t.attempt(ctx, tier, r)
		if err == nil {
			return env, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, upstream.NewTransportError(ctx.Err())
		}

		if i < len(t.tiers)-1 {
			logger.Warn("tier failed, escalating",
				"tier", tier.Name,
				"next", t.tiers[i+1].Name,
				"err", err)
			t.tel.RecordTierEscalation(tier.Name)
		}
	}

	return nil, lastErr
}

// attempt is the shared execution routine: round-trip via the tier's client,
// then apply the uniform success rule (status == 200).
func (t *Tiered) attempt(ctx context.Context, tier Tier, r *Request) (*envelope.Envelope, error) {
	env, err := t.roundTrip(ctx, tier, r)
	if err != nil {
		return nil, upstream.NewTransportError(err)
	}

	if env.Status != http.StatusOK {
		status := env.Status
		env.Close()

		return nil, upstream.NewStatusError(status)
	}

	return env, nil
}

func (t *Tiered) roundTrip(ctx context.Context, tier Tier, r *Request) (*envelope.Envelope, error) {
	switch {
	case tier.Minimal:
		return t.minimal.get(ctx, r)
	case tier.Impersonate:
		return t.impersonatedGet(ctx, r)
	default:
		return t.directGet(ctx, r)
	}
}

func (t *Tiered) impersonatedGet(ctx context.Context, r *Request) (*envelope.Envelope, error) {
	req, err := newImpersonatedRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	resp, err := t.session.client.Do(req)
	if err != nil {
		return nil, err
	}

	return envelope.New(resp.StatusCode, resp.Header, resp.Body, t.chunkSize), nil
}

func (t *Tiered) directGet(ctx context.Context, r *Request) (*envelope.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}

	setStdlibHeaders(req, r)

	resp, err := t.direct.Do(req)
	if err != nil {
		return nil, err
	}

	return envelope.New(resp.StatusCode, resp.Header, resp.Body, t.chunkSize), nil
}

// setStdlibHeaders copies the browser header set onto a net/http request.
// Accept-Encoding is left out: setting it explicitly disables the
// transport's transparent gzip decoding, and the impersonating tier
// already decompresses, so the envelope content must stay plain bytes on
// every tier.
func setStdlibHeaders(req *http.Request, r *Request) {
	for _, k := range r.Headers.Order() {
		if http.CanonicalHeaderKey(k) == "Accept-Encoding" {
			continue
		}
		req.Header.Set(k, r.Headers.Get(k))
	}
}
