// Package headers builds browser-realistic request header sets for the
// upstream asset endpoint. Header order matters for fingerprint-based
// access control, so the set preserves insertion order alongside values.
package headers

import "strings"

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/133.0.0.0 Safari/537.36"
	secChUa = `"Not(A:Brand";v="99", "Google Chrome";v="133", "Chromium";v="133"`
)

// Headers is an ordered header mapping. Keys keep their canonical casing;
// Set on an existing key overrides the value in place without reordering.
type Headers struct {
	values map[string]string
	order  []string
}

// NewHeaders returns an empty ordered header set.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

// Set stores a header value, appending the key to the order on first use.
func (h *Headers) Set(key, value string) {
	if _, ok := h.values[key]; !ok {
		h.order = append(h.order, key)
	}
	h.values[key] = value
}

// Get returns the value for key, or "".
func (h *Headers) Get(key string) string {
	return h.values[key]
}

// Order returns the header keys in insertion order.
func (h *Headers) Order() []string {
	return h.order
}

// Map returns a flat copy of the header values.
func (h *Headers) Map() map[string]string {
	m := make(map[string]string, len(h.values))
	for k, v := range h.values {
		m[k] = v
	}

	return m
}

// Build constructs the browser-shaped header set for an authenticated asset
// request. contentType is the hint inferred from the file extension and
// shapes Accept and Sec-Fetch-Dest; empty falls back to a document
// navigation pattern. The returned set is mutated in place by the caller
// for request-specific overrides.
func Build(token, contentType, origin, referer string) *Headers {
	h := NewHeaders()

	h.Set("User-Agent", userAgent)
	h.Set("Accept", acceptFor(contentType))
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Set("Sec-Ch-Ua", secChUa)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", fetchDestFor(contentType))
	h.Set("Sec-Fetch-Mode", "no-cors")
	h.Set("Sec-Fetch-Site", "same-site")
	h.Set("Origin", origin)
	h.Set("Referer", referer)
	h.Set("Cookie", "sso="+token+"; sso-rw="+token)

	return h
}

func acceptFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	case strings.HasPrefix(contentType, "video/"):
		return "video/webm,video/ogg,video/*;q=0.9,application/ogg;q=0.7,audio/*;q=0.6,*/*;q=0.5"
	default:
		return "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"
	}
}

func fetchDestFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "document"
	}
}
