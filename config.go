package oauth

import (
	"log/slog"
	"time"

	"github.com/coladapo/purmemo-auth/server"
)

// Config holds the full authorization-server configuration, composed by
// concern. The binary fills it from the environment; embedders fill it
// directly.
type Config struct {
	// Issuer is the server's issuer identifier (base URL, HTTPS outside
	// localhost).
	Issuer string

	// LoginURL is the base URL of the login UI collaborator.
	LoginURL string

	// SupportedScopes lists the scopes clients may request. Empty allows all.
	SupportedScopes []string

	// Flow holds the protocol TTLs.
	Flow FlowConfig

	// RateLimit holds per-IP rate limiting configuration.
	RateLimit RateLimitConfig

	// Security holds security settings (secure by default).
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger
}

// FlowConfig holds the protocol lifetimes.
type FlowConfig struct {
	// SessionTTL is how long an authorization session waits for login.
	// Default: 10 minutes.
	SessionTTL time.Duration

	// AuthorizationCodeTTL is how long codes are valid. Default: 10 minutes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid. Default: 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens are valid. Default: 90 days.
	RefreshTokenTTL time.Duration
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// MaxEntries caps the number of tracked IPs. Zero uses the default.
	MaxEntries int
}

// SecurityConfig holds OAuth security settings (secure by default).
type SecurityConfig struct {
	// AllowPublicClientRegistration permits unauthenticated client
	// registration. Can enable DoS via mass registration.
	AllowPublicClientRegistration bool

	// RegistrationAccessToken is required for client registration when
	// AllowPublicClientRegistration is false.
	RegistrationAccessToken string

	// MaxClientsPerIP limits registrations per IP. Default: 10.
	MaxClientsPerIP int

	// AllowInsecureHTTP permits an http:// issuer outside localhost.
	AllowInsecureHTTP bool

	// EnableAuditLogging enables the security audit trail (sensitive data
	// hashed).
	EnableAuditLogging bool
}

// ServerConfig derives the protocol-core configuration.
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Issuer:                        c.Issuer,
		LoginURL:                      c.LoginURL,
		SessionTTL:                    int64(c.Flow.SessionTTL.Seconds()),
		AuthorizationCodeTTL:          int64(c.Flow.AuthorizationCodeTTL.Seconds()),
		AccessTokenTTL:                int64(c.Flow.AccessTokenTTL.Seconds()),
		RefreshTokenTTL:               int64(c.Flow.RefreshTokenTTL.Seconds()),
		SupportedScopes:               c.SupportedScopes,
		MaxClientsPerIP:               c.Security.MaxClientsPerIP,
		AllowPublicClientRegistration: c.Security.AllowPublicClientRegistration,
		RegistrationAccessToken:       c.Security.RegistrationAccessToken,
		AllowInsecureHTTP:             c.Security.AllowInsecureHTTP,
	}
}
