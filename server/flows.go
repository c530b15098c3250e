package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/coladapo/purmemo-auth/security"
	"github.com/coladapo/purmemo-auth/storage"
	"github.com/coladapo/purmemo-auth/token"
)

// Grant is the result of a successful token-endpoint exchange.
type Grant struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
}

// StartAuthorizationFlow validates an authorization request, persists a
// session for the login UI, and returns the login redirect URL.
//
// state is required for CSRF protection. code_challenge is mandatory and the
// method must be S256; an empty method defaults to S256, anything else
// (including "plain") is rejected.
func (s *Server) StartAuthorizationFlow(ctx context.Context, clientID, redirectURI, scope, state, codeChallenge, codeChallengeMethod string) (string, error) {
	if state == "" {
		s.Auditor.LogAuthFailure("", clientID, "", "missing_state_parameter")
		return "", invalidRequest("state parameter is required for CSRF protection")
	}
	if len(state) < s.Config.MinStateLength {
		s.Auditor.LogAuthFailure("", clientID, "", "state_too_short")
		return "", invalidRequest("state parameter must be at least %d characters", s.Config.MinStateLength)
	}

	if codeChallenge == "" {
		s.Auditor.LogAuthFailure("", clientID, "", "missing_pkce_parameters")
		return "", invalidRequest("code_challenge is required: PKCE is mandatory for all clients")
	}
	if codeChallengeMethod == "" {
		codeChallengeMethod = PKCEMethodS256
	}
	if codeChallengeMethod != PKCEMethodS256 {
		s.Auditor.LogAuthFailure("", clientID, "", fmt.Sprintf("unsupported_pkce_method: %s", codeChallengeMethod))
		return "", invalidRequest("unsupported code_challenge_method: %s (only S256 is supported)", codeChallengeMethod)
	}
	if err := validateCodeChallengeFormat(codeChallenge); err != nil {
		s.Auditor.LogAuthFailure("", clientID, "", "malformed_code_challenge")
		return "", invalidRequest("%s", err.Error())
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		s.Auditor.LogAuthFailure("", clientID, "", ErrorCodeInvalidClient)
		return "", invalidClient("unknown client")
	}

	if err := s.validateRedirectURI(client, redirectURI); err != nil {
		s.Auditor.LogAuthFailure("", clientID, "", ErrorCodeInvalidRedirectURI)
		return "", invalidRequest("%s", err.Error())
	}

	if err := s.validateScopes(scope); err != nil {
		s.Auditor.LogAuthFailure("", clientID, "", fmt.Sprintf("%s: %v", ErrorCodeInvalidScope, err))
		return "", invalidScope("%s", err.Error())
	}
	if err := s.validateClientScopes(scope, client.Scopes); err != nil {
		s.Auditor.LogAuthFailure("", clientID, "", fmt.Sprintf("%s: %v", ErrorCodeInvalidScope, err))
		return "", invalidScope("%s", err.Error())
	}

	now := time.Now()
	session := &storage.Session{
		SessionID:           generateRandomToken(),
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		State:               state,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.SessionLifetime()),
	}
	if err := s.flowStore.SaveSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to save authorization session: %w", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:     "authorization_flow_started",
		ClientID: clientID,
		Details: map[string]any{
			"redirect_uri": redirectURI,
			"scope":        scope,
		},
	})
	s.Metrics.RecordAuthorizationStarted(ctx, clientID)

	loginURL, err := url.Parse(s.Config.LoginURL)
	if err != nil {
		return "", fmt.Errorf("invalid login URL: %w", err)
	}
	q := loginURL.Query()
	q.Set("session_id", session.SessionID)
	q.Set("client_name", client.ClientName)
	loginURL.RawQuery = q.Encode()

	return loginURL.String(), nil
}

// CompleteLogin is called by the trusted login UI after it has authenticated
// a user for the given session. It consumes the session, mints the
// authorization code bound to the session's challenge and redirect URI, and
// returns the client redirect URL carrying the code and the original state.
//
// This operation must never be reachable from the public listener.
func (s *Server) CompleteLogin(ctx context.Context, sessionID, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID is required")
	}

	session, err := s.flowStore.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			s.Auditor.LogAuthFailure(userID, "", "", "session_not_found_or_expired")
			return "", fmt.Errorf("authorization session not found or expired")
		}
		return "", fmt.Errorf("failed to load session: %w", err)
	}

	// One-time use: the session dies whether or not code minting succeeds.
	if err := s.flowStore.DeleteSession(ctx, sessionID); err != nil {
		s.Logger.Warn("Failed to delete completed session", "error", err)
	}

	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:          generateRandomToken(),
		SessionID:     session.SessionID,
		ClientID:      session.ClientID,
		UserID:        userID,
		RedirectURI:   session.RedirectURI,
		Scope:         session.Scope,
		CodeChallenge: session.CodeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.Config.CodeLifetime()),
	}
	if err := s.flowStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Auditor.LogSessionCompleted(userID, session.ClientID)
	s.Metrics.RecordSessionCompleted(ctx, session.ClientID)

	redirect, err := url.Parse(session.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid stored redirect URI: %w", err)
	}
	q := redirect.Query()
	q.Set("code", authCode.Code)
	q.Set("state", session.State)
	redirect.RawQuery = q.Encode()

	return redirect.String(), nil
}

// ExchangeAuthorizationCode exchanges an authorization code for an access
// token and the head of a new refresh-token chain.
//
// The code is consumed atomically: of N concurrent exchanges exactly one
// succeeds. A consumed-code replay revokes every refresh token issued to the
// user+client pair.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*Grant, error) {
	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeConsumed) && authCode != nil {
			s.handleCodeReuse(ctx, authCode, clientID)
			return nil, invalidGrant()
		}

		s.Logger.Debug("Authorization code validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		s.Auditor.LogAuthFailure("", clientID, "", "invalid_authorization_code")
		return nil, invalidGrant()
	}

	if authCode.ClientID != clientID {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"expected_client_id", authCode.ClientID,
			"provided_client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		s.Auditor.LogAuthFailure("", clientID, "", "client_id_mismatch")
		return nil, invalidGrant()
	}

	if authCode.RedirectURI != redirectURI {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		s.Auditor.LogAuthFailure("", clientID, "", "redirect_uri_mismatch")
		return nil, invalidGrant()
	}

	if err := s.verifyPKCE(authCode.CodeChallenge, codeVerifier); err != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     "pkce_validation_failed",
			UserID:   authCode.UserID,
			ClientID: clientID,
			Details:  map[string]any{"reason": err.Error()},
		})
		s.Metrics.RecordPKCEFailure(ctx, clientID)
		return nil, invalidGrant()
	}

	accessToken, expiresIn, err := s.issuer.IssueAccessToken(authCode.UserID, clientID, authCode.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	now := time.Now()
	refresh := &storage.RefreshToken{
		Token:      token.NewRefreshToken(),
		UserID:     authCode.UserID,
		ClientID:   clientID,
		Scope:      authCode.Scope,
		FamilyID:   generateRandomToken(),
		Generation: 0,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.Config.RefreshTokenLifetime()),
	}
	if err := s.tokenStore.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.Logger.Debug("Created new refresh token family",
		"user_id", authCode.UserID,
		"family_id", safeTruncate(refresh.FamilyID, 8))
	s.Auditor.LogTokenIssued(authCode.UserID, clientID, "", authCode.Scope)
	s.Metrics.RecordCodeExchanged(ctx, clientID)

	return &Grant{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refresh.Token,
		Scope:        authCode.Scope,
	}, nil
}

// handleCodeReuse reacts to an exchange attempt for an already consumed code.
// The code is treated as stolen and every refresh token issued to the
// user+client pair is revoked.
func (s *Server) handleCodeReuse(ctx context.Context, authCode *storage.AuthorizationCode, clientID string) {
	s.Logger.Error("Authorization code reuse detected, revoking user+client tokens",
		"user_id", authCode.UserID,
		"client_id", clientID)

	revoked, err := s.tokenStore.RevokeAllForUserClient(ctx, authCode.UserID, authCode.ClientID)
	if err != nil {
		s.Logger.Error("Failed to revoke tokens after code reuse detection", "error", err)
	} else {
		s.Logger.Warn("Revoked refresh tokens after code reuse",
			"user_id", authCode.UserID,
			"client_id", authCode.ClientID,
			"tokens_revoked", revoked)
	}

	s.Auditor.LogCodeReuse(authCode.UserID, clientID)
	s.Metrics.RecordCodeReuse(ctx, clientID)

	_ = s.flowStore.DeleteAuthorizationCode(ctx, authCode.Code)
}

// RefreshAccessToken rotates a refresh token and mints a fresh access token.
//
// Rotation is a single atomic store operation; of N concurrent requests with
// the same token exactly one receives the successor. Replay of a token that
// was already rotated away revokes its entire family.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID string) (*Grant, error) {
	now := time.Now()
	successor := &storage.RefreshToken{
		Token:     token.NewRefreshToken(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.Config.RefreshTokenLifetime()),
	}

	rotated, err := s.tokenStore.RotateRefreshToken(ctx, refreshToken, successor)
	if err != nil {
		if errors.Is(err, storage.ErrTokenRotated) {
			s.handleRefreshTokenReuse(ctx, refreshToken, clientID)
			return nil, invalidGrant()
		}

		s.Logger.Debug("Refresh token validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"token_prefix", safeTruncate(refreshToken, 8))
		s.Auditor.LogAuthFailure("", clientID, "", "invalid_refresh_token")
		return nil, invalidGrant()
	}

	if rotated.ClientID != clientID {
		// Presented by a client the chain was never issued to. Kill the
		// successor that the rotation just minted.
		if err := s.tokenStore.ExpireRefreshToken(ctx, rotated.Token); err != nil {
			s.Logger.Warn("Failed to expire successor after client mismatch", "error", err)
		}
		s.Auditor.LogAuthFailure("", clientID, "", "refresh_token_client_mismatch")
		return nil, invalidGrant()
	}

	accessToken, expiresIn, err := s.issuer.IssueAccessToken(rotated.UserID, rotated.ClientID, rotated.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.Logger.Info("Refresh token rotated",
		"user_id", rotated.UserID,
		"generation", rotated.Generation,
		"family_id", safeTruncate(rotated.FamilyID, 8))
	s.Auditor.LogTokenRotated(rotated.UserID, clientID, rotated.Generation)
	s.Metrics.RecordTokenRefreshed(ctx, clientID)

	return &Grant{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: rotated.Token,
		Scope:        rotated.Scope,
	}, nil
}

// handleRefreshTokenReuse reacts to replay of a rotated token: somebody is
// holding a superseded credential, so the whole chain is revoked.
func (s *Server) handleRefreshTokenReuse(ctx context.Context, refreshToken, clientID string) {
	old, err := s.tokenStore.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		s.Logger.Error("Rotated token replayed but row not loadable", "error", err)
		s.Auditor.LogAuthFailure("", clientID, "", "refresh_token_reuse")
		return
	}

	s.Logger.Error("Refresh token reuse detected, revoking family",
		"user_id", old.UserID,
		"client_id", clientID,
		"family_id", safeTruncate(old.FamilyID, 8),
		"generation", old.Generation)

	revoked, err := s.tokenStore.RevokeRefreshTokenFamily(ctx, old.FamilyID)
	if err != nil {
		s.Logger.Error("Failed to revoke token family", "error", err)
	} else {
		s.Logger.Warn("Revoked refresh token family after reuse",
			"family_id", safeTruncate(old.FamilyID, 8),
			"tokens_revoked", revoked)
	}

	s.Auditor.LogTokenReuse(old.UserID, clientID, old.FamilyID)
	s.Metrics.RecordTokenReuse(ctx, clientID)
}

// RevokeToken revokes a refresh token on behalf of the client that owns it.
// Always succeeds from the caller's perspective (RFC 7009): unknown tokens,
// expired tokens, and tokens owned by other clients are silently ignored so
// that revocation cannot be used as a validity oracle.
func (s *Server) RevokeToken(ctx context.Context, tokenValue, clientID, clientIP string) error {
	row, err := s.tokenStore.GetRefreshToken(ctx, tokenValue)
	if err == nil && row.ClientID == clientID {
		if err := s.tokenStore.ExpireRefreshToken(ctx, tokenValue); err != nil {
			s.Logger.Warn("Failed to expire refresh token on revocation", "error", err)
		}
	}

	s.Auditor.LogTokenRevoked(clientID, clientIP)
	s.Metrics.RecordTokenRevoked(ctx, clientID)
	s.Logger.Info("Token revocation processed", "client_id", clientID, "ip", clientIP)
	return nil
}
