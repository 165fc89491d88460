package reconcile

import (
	"net"
	"net/http"
	"strings"

	"github.com/yunogate/yunogate/internal/config"
)

// Assertions is the per-request set of identity claims extracted from the proxy-injected
// headers and cookies. Ephemeral: rebuilt on every request, never persisted.
type Assertions struct {
	// RemoteUser is the primary assertion from the trusted proxy header.
	// Empty means anonymous, which is not an error.
	RemoteUser string

	// PortalToken is the signed JWT from the portal cookie, when present.
	PortalToken string

	// LegacyUser is the plain username from the legacy cookie, when present.
	LegacyUser string

	// AuthUser is the mirrored username header injected by the same proxy.
	AuthUser string

	// Authorization is the raw Authorization header (Basic credential expected).
	Authorization string

	// Email and Name are optional profile hints, only consumed during provisioning.
	Email string
	Name  string

	// Origin is the client address used as the lockout key.
	Origin string

	// Path is kept for the lockout ledger.
	Path string
}

// FromRequest extracts the request's identity assertions using the configured
// header and cookie names.
func FromRequest(r *http.Request, cfg config.SSOConfig) Assertions {
	a := Assertions{
		RemoteUser:    r.Header.Get(cfg.RemoteUserHeader),
		AuthUser:      r.Header.Get(cfg.AuthUserHeader),
		Authorization: r.Header.Get("Authorization"),
		Email:         r.Header.Get(cfg.EmailHeader),
		Name:          r.Header.Get(cfg.NameHeader),
		Origin:        clientIP(r),
		Path:          r.URL.Path,
	}

	if c, err := r.Cookie(cfg.PortalCookie); err == nil {
		a.PortalToken = c.Value
	}
	if c, err := r.Cookie(cfg.LegacyCookie); err == nil {
		a.LegacyUser = c.Value
	}

	return a
}

// clientIP strips the port from RemoteAddr. The service only ever sees connections
// from the reverse proxy, so RemoteAddr is the proxy-forwarded peer address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
