package oauth

// AuthorizationServerMetadata is the OAuth 2.0 Authorization Server Metadata
// document (RFC 8414) served at /.well-known/oauth-authorization-server.
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// RevocationEndpoint is the URL of the RFC 7009 revocation endpoint
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// RegistrationEndpoint is the URL of the RFC 7591 registration endpoint
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// JWKSURI is the URL of the JSON Web Key Set document
	JWKSURI string `json:"jwks_uri,omitempty"`

	// ScopesSupported lists the OAuth scopes supported
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// GrantTypesSupported lists the OAuth grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication
	// methods supported at the token endpoint
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// TokenResponse is an OAuth 2.0 token response.
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token (always "Bearer")
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the scope of the access token
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse is an OAuth error response body.
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// RevocationResponse is the body of a revocation response. Revoked is always
// true: RFC 7009 forbids revealing whether the token existed.
type RevocationResponse struct {
	Revoked bool `json:"revoked"`
}

// ClientRegistrationRequest is a dynamic client registration request
// (RFC 7591, trimmed to the fields this server honors).
type ClientRegistrationRequest struct {
	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name,omitempty"`

	// ClientType is "public" or "confidential" (default confidential)
	ClientType string `json:"client_type,omitempty"`

	// RedirectURIs is the closed set of redirection URIs
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// Scopes lists the scopes the client may request
	Scopes []string `json:"scopes,omitempty"`
}

// ClientRegistrationResponse is a dynamic client registration response.
// ClientSecret is present exactly once, for confidential clients.
type ClientRegistrationResponse struct {
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt int64    `json:"client_id_issued_at,omitempty"`
	ClientName       string   `json:"client_name,omitempty"`
	ClientType       string   `json:"client_type,omitempty"`
	RedirectURIs     []string `json:"redirect_uris,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
}

// LoginCompletionRequest is the internal request the login UI posts after
// authenticating a user for a session.
type LoginCompletionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// LoginCompletionResponse carries the client redirect URL (code + state) the
// login UI sends the browser to.
type LoginCompletionResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// JSONWebKeySet is the JWKS document published for access-token verification.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JSONWebKey is a single public key in JWK form (RFC 7517). Only EC keys are
// published here.
type JSONWebKey struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}
