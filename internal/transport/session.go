package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

const defaultTimeout = 30 * time.Second

// pseudoHeaderOrder matches Chrome's HTTP/2 pseudo-header ordering. Sent
// alongside the regular header order so the h2 fingerprint stays coherent
// with the TLS one.
var pseudoHeaderOrder = []string{":method", ":authority", ":scheme", ":path"}

// Session owns the fingerprint-impersonating HTTP client used by the first
// cascade tier. One session is shared across downloads; the underlying
// client is safe for concurrent use.
type Session struct {
	client tls_client.HttpClient
}

// NewSession builds an impersonating client for the named browser profile.
// Unknown or empty profile names degrade to the library's default profile,
// and an empty proxyURL degrades to a direct connection.
func NewSession(profileName string, timeout time.Duration, proxyURL string) (*Session, error) {
	secs := int(timeout / time.Second)
	if secs <= 0 {
		secs = int(defaultTimeout / time.Second)
	}

	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(secs),
		tls_client.WithClientProfile(resolveProfile(profileName)),
	}

	if proxyURL != "" {
		opts = append(opts, tls_client.WithProxyUrl(proxyURL))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build impersonating client: %w", err)
	}

	return &Session{client: client}, nil
}

func resolveProfile(name string) profiles.ClientProfile {
	if name == "" {
		return profiles.DefaultClientProfile
	}

	if p, ok := profiles.MappedTLSClients[strings.ToLower(name)]; ok {
		return p
	}

	return profiles.DefaultClientProfile
}

// newImpersonatedRequest builds the fhttp request for the impersonating
// tier, carrying the caller's header order through to the wire.
func newImpersonatedRequest(ctx context.Context, r *Request) (*fhttp.Request, error) {
	req, err := fhttp.NewRequest(fhttp.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}

	req = req.WithContext(ctx)
	req.Header = fhttpHeader(r.Headers.Order(), r.Headers.Map())

	return req, nil
}

// fhttpHeader converts an ordered header set into an fhttp header with the
// order keys the impersonating client uses to replay browser header order.
func fhttpHeader(order []string, values map[string]string) fhttp.Header {
	hdr := make(fhttp.Header, len(values)+2)
	for k, v := range values {
		hdr[k] = []string{v}
	}

	hdr[fhttp.HeaderOrderKey] = order
	hdr[fhttp.PHeaderOrderKey] = pseudoHeaderOrder

	return hdr
}
