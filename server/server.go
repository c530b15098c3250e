// Package server implements the OAuth 2.1 authorization server core: the
// authorization and token grant flows, PKCE enforcement, client registration,
// and the revocation semantics. HTTP plumbing lives in the root package; this
// package is transport-agnostic.
package server

import (
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/coladapo/purmemo-auth/instrumentation"
	"github.com/coladapo/purmemo-auth/security"
	"github.com/coladapo/purmemo-auth/storage"
	"github.com/coladapo/purmemo-auth/token"
)

// safeTruncate truncates a string to maxLen characters without panicking.
// Used when logging token and code prefixes.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server coordinates the OAuth 2.1 flows over the injected storage backends
// and token issuer.
type Server struct {
	clientStore storage.ClientStore
	flowStore   storage.FlowStore
	tokenStore  storage.RefreshTokenStore
	issuer      *token.Issuer

	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter
	Metrics     *instrumentation.Metrics
	Logger      *slog.Logger
	Config      *Config
}

// New creates an authorization server.
func New(
	store storage.Store,
	issuer *token.Issuer,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		clientStore: store,
		flowStore:   store,
		tokenStore:  store,
		issuer:      issuer,
		Config:      config,
		Logger:      logger,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}
	if config.LoginURL == "" {
		return nil, fmt.Errorf("login URL is required")
	}

	return srv, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the per-IP rate limiter used by the HTTP layer.
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetMetrics sets the flow metrics.
func (s *Server) SetMetrics(m *instrumentation.Metrics) {
	s.Metrics = m
}

// Issuer exposes the token issuer (for JWKS publication).
func (s *Server) Issuer() *token.Issuer {
	return s.issuer
}

// generateRandomToken generates a cryptographically secure random token.
// Alias for oauth2.GenerateVerifier, which produces a URL-safe base64 random
// string. Used for session IDs, authorization codes, client IDs, and secrets.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
