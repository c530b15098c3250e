// Package oauth is the HTTP surface of the purmemo authorization server:
// thin handlers over the server package's protocol core, plus the wire types
// and OAuth error taxonomy.
package oauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/coladapo/purmemo-auth/instrumentation"
	"github.com/coladapo/purmemo-auth/server"
)

const tokenTypeBearer = "Bearer"

// Handler is a thin HTTP adapter for the OAuth server. It parses requests,
// authenticates clients, and delegates to the server for the protocol logic.
type Handler struct {
	server  *server.Server
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// NewHandler creates an HTTP handler over the protocol core.
func NewHandler(srv *server.Server, inst *instrumentation.Instrumentation, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}
	if inst != nil {
		h.tracer = inst.Tracer("http")
		h.metrics = inst.Metrics()
	}
	return h
}

// Routes returns the public mux: authorization, token, revocation,
// registration, and the discovery documents.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", h.ServeAuthorization)
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/revoke", h.ServeTokenRevocation)
	mux.HandleFunc("/register", h.ServeClientRegistration)
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
	mux.HandleFunc("/.well-known/jwks.json", h.ServeJWKS)
	return mux
}

// InternalRoutes returns the mux for the trusted listener. Only the login UI
// collaborator may reach it; it must never be exposed publicly.
func (h *Handler) InternalRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/login/complete", h.ServeLoginCompletion)
	return mux
}

// ServeAuthorization handles GET /authorize. A valid request creates an
// authorization session and redirects the browser to the login UI.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
		instrumentation.SetSpanAttributes(span,
			attribute.String(instrumentation.AttrEndpoint, "authorize"),
		)
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if !h.allowRequest(w, ctx, clientIP, "authorize") {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusTooManyRequests, startTime)
		instrumentation.SetSpanError(span, "rate limited")
		return
	}

	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	scope := q.Get("scope")
	state := q.Get("state")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")

	if q.Get("response_type") != "code" {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "unsupported response_type")
		h.writeError(w, ErrorCodeInvalidRequest, "response_type must be 'code'", http.StatusBadRequest)
		return
	}
	if clientID == "" {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "client_id missing")
		h.writeError(w, ErrorCodeInvalidRequest, "client_id is required", http.StatusBadRequest)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
	)

	loginURL, err := h.server.StartAuthorizationFlow(ctx, clientID, redirectURI, scope, state, codeChallenge, codeChallengeMethod)
	if err != nil {
		oauthErr := mapServerError(err)
		h.logger.Warn("Authorization request rejected",
			"client_id", clientID,
			"ip", clientIP,
			"error", err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "authorization rejected")
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	http.Redirect(w, r, loginURL, http.StatusFound)
}

// ServeToken handles POST /token and dispatches on grant_type.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if !h.allowRequest(w, ctx, clientIP, "token") {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	grantType := r.FormValue("grant_type")

	switch grantType {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r, clientIP, startTime)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r, clientIP, startTime)
	default:
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeUnsupportedGrantType,
			"Supported grant types: authorization_code, refresh_token", http.StatusBadRequest)
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, clientIP string, startTime time.Time) {
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")

	if code == "" {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'code' missing", http.StatusBadRequest)
		return
	}

	clientID, err := h.authenticateClient(ctx, r, clientIP)
	if err != nil {
		oauthErr := mapServerError(err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrGrantType, "authorization_code"),
	)

	grant, err := h.server.ExchangeAuthorizationCode(ctx, code, clientID, redirectURI, codeVerifier)
	if err != nil {
		h.logger.Warn("Code exchange failed", "client_id", clientID, "ip", clientIP, "error", err)
		oauthErr := mapServerError(err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "code exchange failed")
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", clientID, "ip", clientIP)
	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, grant)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, clientIP string, startTime time.Time) {
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	refreshToken := r.FormValue("refresh_token")
	if refreshToken == "" {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "refresh_token missing")
		h.writeError(w, ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	clientID, err := h.authenticateClient(ctx, r, clientIP)
	if err != nil {
		oauthErr := mapServerError(err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrGrantType, "refresh_token"),
	)

	grant, err := h.server.RefreshAccessToken(ctx, refreshToken, clientID)
	if err != nil {
		h.logger.Warn("Token refresh failed", "client_id", clientID, "ip", clientIP, "error", err)
		oauthErr := mapServerError(err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "token refresh failed")
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, grant)
}

// ServeTokenRevocation handles POST /revoke (RFC 7009). Authenticated
// callers always receive 200 with {"revoked": true}; the response never
// reveals whether the token existed, was expired, or belonged to someone
// else.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_revocation")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	tokenValue := r.FormValue("token")
	if tokenValue == "" {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "token missing")
		h.writeError(w, ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}

	clientID, err := h.authenticateClient(ctx, r, clientIP)
	if err != nil {
		oauthErr := mapServerError(err)
		h.recordHTTPMetrics(ctx, "revoke", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	if err := h.server.RevokeToken(ctx, tokenValue, clientID, clientIP); err != nil {
		// Never surfaces to the caller.
		h.logger.Error("Revocation processing error", "client_id", clientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
	}

	h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, RevocationResponse{Revoked: true})
}

// ServeAuthorizationServerMetadata handles the RFC 8414 discovery document.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := strings.TrimSuffix(h.server.Config.Issuer, "/")
	metadata := AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/authorize",
		TokenEndpoint:                     issuer + "/token",
		RevocationEndpoint:                issuer + "/revoke",
		JWKSURI:                           issuer + "/.well-known/jwks.json",
		ScopesSupported:                   h.server.Config.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
	if h.registrationAvailable() {
		metadata.RegistrationEndpoint = issuer + "/register"
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	h.writeJSON(w, http.StatusOK, metadata)
}

func (h *Handler) registrationAvailable() bool {
	return h.server.Config.AllowPublicClientRegistration ||
		h.server.Config.RegistrationAccessToken != ""
}

// ServeJWKS publishes the access-token verification key set.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signer := h.server.Issuer().Signer()
	pub, ok := signer.PublicKey().(*ecdsa.PublicKey)
	if !ok {
		h.logger.Error("Signing key is not an ECDSA key; cannot publish JWKS")
		h.writeError(w, ErrorCodeServerError, "Key set unavailable", http.StatusInternalServerError)
		return
	}

	byteLen := (pub.Curve.Params().BitSize + 7) / 8
	x := make([]byte, byteLen)
	y := make([]byte, byteLen)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	jwks := JSONWebKeySet{
		Keys: []JSONWebKey{{
			Kty: "EC",
			Crv: pub.Curve.Params().Name,
			X:   base64.RawURLEncoding.EncodeToString(x),
			Y:   base64.RawURLEncoding.EncodeToString(y),
			Use: "sig",
			Alg: signer.Algorithm(),
			Kid: signer.KeyID(),
		}},
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	h.writeJSON(w, http.StatusOK, jwks)
}

// ServeClientRegistration handles POST /register (RFC 7591).
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_registration")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if !h.allowRequest(w, ctx, clientIP, "register") {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if !h.authorizeRegistration(r, clientIP) {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusUnauthorized, startTime)
		instrumentation.SetSpanError(span, "registration not authorized")
		h.writeError(w, ErrorCodeInvalidClient,
			"Registration requires a valid registration access token", http.StatusUnauthorized)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	client, clientSecret, err := h.server.RegisterClient(ctx, req.ClientName, req.ClientType, req.RedirectURIs, req.Scopes, clientIP)
	if err != nil {
		oauthErr := mapServerError(err)
		h.logger.Warn("Client registration failed", "ip", clientIP, "error", err)
		h.recordHTTPMetrics(ctx, "register", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "registration failed")
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType),
	)
	h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusCreated, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:         client.ClientID,
		ClientSecret:     clientSecret,
		ClientIDIssuedAt: client.CreatedAt.Unix(),
		ClientName:       client.ClientName,
		ClientType:       client.ClientType,
		RedirectURIs:     client.RedirectURIs,
		Scopes:           client.Scopes,
	})
}

// authorizeRegistration checks whether a registration request may proceed:
// either public registration is enabled, or the Bearer token matches the
// configured registration access token (constant-time).
func (h *Handler) authorizeRegistration(r *http.Request, clientIP string) bool {
	if h.server.Config.AllowPublicClientRegistration {
		h.logger.Warn("Unauthenticated client registration", "client_ip", clientIP)
		return true
	}

	configured := h.server.Config.RegistrationAccessToken
	if configured == "" {
		return false
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(configured)) == 1
}

// ServeLoginCompletion handles the trusted login UI callback. It consumes
// the session, mints the authorization code, and returns the client redirect
// URL for the login UI to send the browser to.
func (h *Handler) ServeLoginCompletion(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.login_completion")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "login_complete", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics(ctx, "login_complete", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.UserID == "" {
		h.recordHTTPMetrics(ctx, "login_complete", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "session_id and user_id are required", http.StatusBadRequest)
		return
	}

	redirectURL, err := h.server.CompleteLogin(ctx, req.SessionID, req.UserID)
	if err != nil {
		h.logger.Warn("Login completion failed", "error", err)
		h.recordHTTPMetrics(ctx, "login_complete", r.Method, http.StatusBadRequest, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "login completion failed")
		h.writeError(w, ErrorCodeInvalidRequest, "Session not found or expired", http.StatusBadRequest)
		return
	}

	h.recordHTTPMetrics(ctx, "login_complete", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, LoginCompletionResponse{RedirectURL: redirectURL})
}

// Helper methods

// authenticateClient resolves the caller's client_id from Basic auth or form
// parameters and validates its credentials. Public clients authenticate by
// PKCE alone; confidential clients must present their secret.
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request, clientIP string) (string, error) {
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")

	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		clientID = basicID
		clientSecret = basicSecret
	}

	if clientID == "" {
		return "", &server.Error{Code: server.ErrorCodeInvalidRequest, Description: "client_id is required"}
	}

	if err := h.server.ValidateClientCredentials(ctx, clientID, clientSecret); err != nil {
		h.logger.Warn("Client authentication failed", "client_id", clientID, "ip", clientIP)
		h.server.Auditor.LogAuthFailure("", clientID, clientIP, "client_authentication_failed")
		return "", err
	}

	return clientID, nil
}

// clientIP extracts the peer IP from the direct connection. Proxy headers
// are deliberately not trusted.
func (h *Handler) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allowRequest applies the per-IP rate limit. On rejection it writes the
// 429 response with a Retry-After header and returns false.
func (h *Handler) allowRequest(w http.ResponseWriter, ctx context.Context, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil {
		return true
	}
	if h.server.RateLimiter.Allow(clientIP) {
		return true
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
	h.server.Metrics.RecordRateLimitExceeded(ctx, endpoint)

	w.Header().Set("Retry-After", "1")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Too many requests, slow down", http.StatusTooManyRequests)
	return false
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, grant *server.Grant) {
	tokenType := grant.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	// RFC 6749 Section 5.1: token responses must not be cached.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  grant.AccessToken,
		TokenType:    tokenType,
		ExpiresIn:    grant.ExpiresIn,
		RefreshToken: grant.RefreshToken,
		Scope:        grant.Scope,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}
	h.writeJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response body", "error", err)
	}
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordHTTPRequest(ctx, method, endpoint, status, time.Since(startTime).Seconds())
}

// mapServerError translates protocol-core errors into the HTTP error
// taxonomy. Anything that is not a recognized OAuth error becomes a generic
// server_error with no internal detail.
func mapServerError(err error) *OAuthError {
	var srvErr *server.Error
	if !errors.As(err, &srvErr) {
		return ErrServerError("Internal server error")
	}

	switch srvErr.Code {
	case server.ErrorCodeInvalidClient:
		return NewOAuthError(ErrorCodeInvalidClient, srvErr.Description, http.StatusUnauthorized)
	case server.ErrorCodeInvalidGrant:
		return NewOAuthError(ErrorCodeInvalidGrant, srvErr.Description, http.StatusBadRequest)
	case server.ErrorCodeInvalidScope:
		return NewOAuthError(ErrorCodeInvalidScope, srvErr.Description, http.StatusBadRequest)
	case server.ErrorCodeInvalidRedirectURI:
		return NewOAuthError(ErrorCodeInvalidRedirectURI, srvErr.Description, http.StatusBadRequest)
	case server.ErrorCodeUnsupportedGrantType:
		return NewOAuthError(ErrorCodeUnsupportedGrantType, srvErr.Description, http.StatusBadRequest)
	default:
		return NewOAuthError(ErrorCodeInvalidRequest, srvErr.Description, http.StatusBadRequest)
	}
}
