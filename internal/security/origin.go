package security

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may call the operator API and
// open its event socket. Loopback origins are always allowed; others must
// match an allowed entry exactly or a "*.example.com" wildcard.
type OriginPolicy struct {
	allowed []string
}

// NewOriginPolicy creates a policy allowing loopback plus allowed.
func NewOriginPolicy(allowed []string) *OriginPolicy {
	return &OriginPolicy{allowed: allowed}
}

// Allowed reports whether origin may be served. An empty origin means the
// caller is not a browser and is allowed.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if isLoopback(u.Hostname()) {
		return true
	}

	for _, allowed := range p.allowed {
		if matchOrigin(origin, u.Hostname(), allowed) {
			return true
		}
	}
	return false
}

// CheckRequest checks the request's Origin header. It fits
// websocket.Upgrader.CheckOrigin.
func (p *OriginPolicy) CheckRequest(r *http.Request) bool {
	return p.Allowed(r.Header.Get("Origin"))
}

func isLoopback(host string) bool {
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasSuffix(host, ".localhost")
}

func matchOrigin(origin, host, allowed string) bool {
	if origin == allowed {
		return true
	}
	if domain, ok := strings.CutPrefix(allowed, "*."); ok {
		return host == domain || strings.HasSuffix(host, "."+domain)
	}
	return false
}
