package transport

import (
	"github.com/reversegrok/assets_downloader/internal/headers"
)

// Request describes one download target: the URL and the ordered browser
// header set. It is built once per download and never mutated afterwards;
// every tier attempt and every retry pass reads the same descriptor.
// Timeout, proxy, and impersonation profile are deliberately absent: they
// are fixed on the Session and tier clients at construction, so a value
// set here could never take effect.
type Request struct {
	URL     string
	Headers *headers.Headers
}
