package server

import (
	"log/slog"
	"time"
)

// Config holds the authorization server configuration.
type Config struct {
	// Issuer is the server's issuer identifier (base URL).
	Issuer string

	// LoginURL is the base URL of the login UI collaborator. Authorization
	// requests are redirected here carrying the session ID.
	LoginURL string

	// SessionTTL is how long an authorization session may wait for the login
	// UI before it dies.
	SessionTTL int64 // seconds, default: 600 (10 minutes)

	// AuthorizationCodeTTL is how long authorization codes are valid.
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid.
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid.
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// SupportedScopes lists the scopes clients may request. Empty allows all.
	SupportedScopes []string

	// MaxClientsPerIP limits dynamic client registrations per IP address.
	// Default: 10
	MaxClientsPerIP int

	// MinStateLength is the minimum accepted length of the client state
	// parameter. Short state values weaken CSRF protection.
	// Default: 8
	MinStateLength int

	// ClockSkewGracePeriod is the leeway for token expiration checks.
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds

	// AllowPublicClientRegistration allows unauthenticated dynamic client
	// registration. When false, registration requires RegistrationAccessToken.
	// Default: false
	AllowPublicClientRegistration bool

	// RegistrationAccessToken is the bearer token required for dynamic client
	// registration when AllowPublicClientRegistration is false.
	RegistrationAccessToken string

	// AllowInsecureHTTP permits an http:// issuer outside localhost.
	// Default: false
	AllowInsecureHTTP bool
}

// SessionLifetime returns SessionTTL as a duration.
func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.SessionTTL) * time.Second
}

// CodeLifetime returns AuthorizationCodeTTL as a duration.
func (c *Config) CodeLifetime() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

// AccessTokenLifetime returns AccessTokenTTL as a duration.
func (c *Config) AccessTokenLifetime() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// RefreshTokenLifetime returns RefreshTokenTTL as a duration.
func (c *Config) RefreshTokenLifetime() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

// applySecureDefaults fills zero values with secure defaults and warns about
// explicitly insecure settings.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	logSecurityWarnings(config, logger)
	return config
}

func applyTimeDefaults(config *Config) {
	if config.SessionTTL == 0 {
		config.SessionTTL = 600 // 10 minutes
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = 10
	}
	if config.MinStateLength == 0 {
		config.MinStateLength = 8
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowPublicClientRegistration {
		logger.Warn("Public client registration is enabled",
			"risk", "DoS via unlimited client registration",
			"recommendation", "Set AllowPublicClientRegistration=false and use RegistrationAccessToken")
	}
	if !config.AllowPublicClientRegistration && config.RegistrationAccessToken == "" {
		logger.Warn("RegistrationAccessToken not configured",
			"impact", "Dynamic client registration will be rejected",
			"recommendation", "Set RegistrationAccessToken or enable AllowPublicClientRegistration")
	}
	if config.AllowInsecureHTTP {
		logger.Warn("Insecure HTTP issuer is allowed",
			"risk", "Tokens and credentials exposed to interception",
			"recommendation", "Use HTTPS for all non-localhost deployments")
	}
}
