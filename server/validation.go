package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/coladapo/purmemo-auth/storage"
)

// PKCE constants (RFC 7636).
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
)

// dangerousSchemes lists redirect URI schemes that are never allowed.
var dangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

const oauth21SecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-13#section-7"

// validateHTTPSEnforcement ensures the issuer runs over HTTPS outside
// localhost. OAuth over plain HTTP exposes codes, tokens, and client
// credentials to interception.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return nil
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
		hostname := issuerURL.Hostname()
		if isLocalhostHostname(hostname) {
			s.Logger.Warn("Running over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"recommendation", "Use HTTPS even in development",
				"learn_more", oauth21SecurityBestPracticesURL)
			return nil
		}
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf(
				"issuer must use HTTPS in production (got http://%s); set AllowInsecureHTTP=true only for controlled environments",
				hostname)
		}
		s.Logger.Error("Running over HTTP on a non-localhost issuer",
			"issuer", s.Config.Issuer,
			"risk", "Tokens and credentials exposed to network interception",
			"learn_more", oauth21SecurityBestPracticesURL)
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// isLocalhostHostname reports whether a hostname refers to the local
// machine: localhost, 0.0.0.0, the whole 127.0.0.0/8 range, and ::1.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}

	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// validateRedirectURI checks that the presented URI is an exact string match
// against the client's registered set. No normalization: trailing slashes,
// case differences, and extra query parameters all fail the match. Scheme
// safety is enforced at registration time, not here.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}
	return fmt.Errorf("redirect URI not registered for client")
}

// validateScopes checks requested scopes against the server's supported set.
// An empty SupportedScopes config allows everything.
func (s *Server) validateScopes(scope string) error {
	if len(s.Config.SupportedScopes) == 0 || scope == "" {
		return nil
	}

	for _, reqScope := range strings.Fields(scope) {
		found := false
		for _, supported := range s.Config.SupportedScopes {
			if reqScope == supported {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unsupported scope: %s", reqScope)
		}
	}
	return nil
}

// validateClientScopes checks requested scopes against the client's allowed
// set. Empty client scopes means no restriction.
func (s *Server) validateClientScopes(requestedScope string, clientScopes []string) error {
	if len(clientScopes) == 0 || requestedScope == "" {
		return nil
	}

	for _, reqScope := range strings.Fields(requestedScope) {
		found := false
		for _, allowed := range clientScopes {
			if reqScope == allowed {
				found = true
				break
			}
		}
		if !found {
			// Generic text: naming the offending scope would let clients
			// enumerate each other's grants.
			return fmt.Errorf("client is not authorized for one or more requested scopes")
		}
	}
	return nil
}

// validateCodeChallengeFormat checks that a code_challenge looks like a
// base64url-encoded SHA-256 digest per RFC 7636.
func validateCodeChallengeFormat(challenge string) error {
	if len(challenge) < MinCodeVerifierLength || len(challenge) > MaxCodeVerifierLength {
		return fmt.Errorf("code_challenge must be %d-%d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
	}
	if !isRFC7636Charset(challenge) {
		return fmt.Errorf("code_challenge contains invalid characters (must be [A-Za-z0-9-._~])")
	}
	return nil
}

// verifyPKCE validates the code verifier against the stored S256 challenge
// per RFC 7636: base64url(sha256(verifier)) must equal the challenge.
func (s *Server) verifyPKCE(challenge, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters", MaxCodeVerifierLength)
	}
	if !isRFC7636Charset(verifier) {
		return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// isRFC7636Charset reports whether the string uses only the unreserved
// characters RFC 7636 permits for verifiers and challenges.
func isRFC7636Charset(s string) bool {
	for _, ch := range s {
		ok := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !ok {
			return false
		}
	}
	return true
}

// validateRedirectURIForRegistration performs the scheme-safety checks that
// run once, when a client registers. The per-request check is pure string
// equality against the set accepted here.
func validateRedirectURIForRegistration(redirectURI, serverIssuer string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}

	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain a fragment")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("redirect_uri must be absolute")
	}

	for _, dangerous := range dangerousSchemes {
		if scheme == dangerous {
			return fmt.Errorf("redirect_uri scheme %q is not allowed", scheme)
		}
	}

	if scheme == "http" || scheme == "https" {
		hostname := strings.ToLower(parsed.Hostname())
		if hostname == "" {
			return fmt.Errorf("redirect_uri must have a host")
		}

		// Plain HTTP is only acceptable on loopback (native-app pattern).
		// If the issuer itself is HTTPS, require HTTPS elsewhere.
		if scheme == "http" && !isLocalhostHostname(hostname) {
			if serverParsed, err := url.Parse(serverIssuer); err == nil && serverParsed.Scheme == "https" {
				return fmt.Errorf("redirect_uri must use HTTPS outside loopback")
			}
		}
		return nil
	}

	// Custom scheme (native/mobile apps): require RFC 3986 shape.
	for i, ch := range scheme {
		ok := (ch >= 'a' && ch <= 'z') || (i > 0 && ((ch >= '0' && ch <= '9') || ch == '+' || ch == '-' || ch == '.'))
		if !ok {
			return fmt.Errorf("redirect_uri scheme %q is not RFC 3986 compliant", scheme)
		}
	}
	return nil
}
