package transport

// Tier is one transport strategy in the fallback cascade. Tiers are plain
// configuration records consumed by a single execution routine; the
// escalation order is fixed and a tier is never re-tried within one pass.
// Proxy use is a property of the clients, not of the tier record: the
// impersonating session is built with the configured proxy, the direct and
// minimal clients are built without one.
type Tier struct {
	Name        string
	Impersonate bool
	Minimal     bool
}

// Cascade returns the ordered strategies: the fingerprint-impersonating
// proxied client, the direct unproxied client, and the minimal fallback
// client that bypasses the primary TLS stack entirely.
func Cascade() []Tier {
	return []Tier{
		{Name: "impersonated_proxied", Impersonate: true},
		{Name: "direct"},
		{Name: "minimal_fallback", Minimal: true},
	}
}
