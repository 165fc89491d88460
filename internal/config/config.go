package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN)
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// Enable debug logging
	Debug bool

	// SSO trust bridge configuration
	SSO SSOConfig

	// Lockout configuration for rejected authentication attempts
	Lockout LockoutConfig

	// Observability configuration (optional OTLP tracing)
	Observability ObservabilityConfig
}

// SSOConfig describes the trust boundary between the SSO reverse proxy and this service.
//
// The proxy (SSOwat/nginx) is the sole writer of the remote-user header on this network
// segment. Every other channel (portal JWT cookie, legacy cookie, mirrored header,
// Basic Auth username) is a redundant assertion that must agree with it; any single
// disagreeing channel rejects the request.
type SSOConfig struct {
	// RemoteUserHeader is the primary trusted header set by the proxy.
	RemoteUserHeader string

	// AuthUserHeader mirrors the authenticated username, injected by the same proxy.
	AuthUserHeader string

	// EmailHeader / NameHeader carry optional profile hints used during provisioning.
	EmailHeader string
	NameHeader  string

	// PortalCookie is the cookie carrying the signed portal JWT.
	PortalCookie string

	// LegacyCookie is the plain-username cookie used by installations without
	// signed portal tokens.
	LegacyCookie string

	// JWTSecret is the pre-shared key used to verify portal JWT signatures.
	// Required unless AllowUnverifiedCookie is set.
	JWTSecret string

	// AllowUnverifiedCookie tolerates a missing portal/legacy cookie. Intended for
	// local development where the test client cannot set proxy cookies. This is an
	// explicit flag on purpose: it must never be inferred from Debug.
	AllowUnverifiedCookie bool

	// SessionCookie is the cookie this service sets to bind a verified login to a
	// browser. Distinct from the proxy-owned cookies above.
	SessionCookie string

	// AdminUser names the administrator identity. A freshly provisioned user whose
	// username matches is granted staff and superuser flags.
	AdminUser string

	// SessionTTL bounds the lifetime of a bound session.
	SessionTTL time.Duration
}

// LockoutConfig tunes the access-attempt tracker fed by authentication rejections.
type LockoutConfig struct {
	// FailureLimit is the number of rejections from one origin before it is blocked.
	FailureLimit int

	// CoolOff is the window after which an origin's failure count resets.
	CoolOff time.Duration
}

// ObservabilityConfig holds OpenTelemetry exporter settings.
// Tracing is disabled when OTLPEndpoint is empty.
type ObservabilityConfig struct {
	OTLPEndpoint string
	OTLPProtocol string
	OTLPInsecure bool
	ServiceName  string
}

// Load reads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", "file:yunogate.db"),
		ServerAddr:  getEnv("SERVER_ADDR", "localhost:8000"),
		Debug:       getEnvBool("DEBUG", false),
		SSO: SSOConfig{
			RemoteUserHeader:      getEnv("SSO_REMOTE_USER_HEADER", "Remote-User"),
			AuthUserHeader:        getEnv("SSO_AUTH_USER_HEADER", "Auth-User"),
			EmailHeader:           getEnv("SSO_EMAIL_HEADER", "Email"),
			NameHeader:            getEnv("SSO_NAME_HEADER", "Name"),
			PortalCookie:          getEnv("SSO_PORTAL_COOKIE", "yunohost.portal"),
			LegacyCookie:          getEnv("SSO_LEGACY_COOKIE", "SSOwAuthUser"),
			JWTSecret:             getEnv("SSO_JWT_SECRET", ""),
			AllowUnverifiedCookie: getEnvBool("SSO_ALLOW_UNVERIFIED_COOKIE", false),
			SessionCookie:         getEnv("SSO_SESSION_COOKIE", "yunogate.session"),
			AdminUser:             getEnv("SSO_ADMIN_USER", ""),
			SessionTTL:            getEnvDuration("SSO_SESSION_TTL", 12*time.Hour),
		},
		Lockout: LockoutConfig{
			FailureLimit: getEnvInt("LOCKOUT_FAILURE_LIMIT", 5),
			CoolOff:      getEnvDuration("LOCKOUT_COOLOFF", 10*time.Minute),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPProtocol: getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf"),
			OTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "yunogate"),
		},
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SSO.JWTSecret == "" && !cfg.SSO.AllowUnverifiedCookie {
		return nil, fmt.Errorf("SSO_JWT_SECRET is required unless SSO_ALLOW_UNVERIFIED_COOKIE is set")
	}

	if cfg.Lockout.FailureLimit <= 0 {
		return nil, fmt.Errorf("LOCKOUT_FAILURE_LIMIT must be positive")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
