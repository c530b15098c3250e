package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coladapo/purmemo-auth/internal/testutil"
	"github.com/coladapo/purmemo-auth/storage/memory"
	"github.com/coladapo/purmemo-auth/token"
)

const testState = "test-state-value"

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.NewWithInterval(time.Hour)
	t.Cleanup(store.Stop)

	signer, err := token.GenerateES256Signer()
	if err != nil {
		t.Fatalf("failed to generate signer: %v", err)
	}
	issuer, err := token.NewIssuer(signer, "https://auth.example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	srv, err := New(store, issuer, &Config{
		Issuer:   "https://auth.example.com",
		LoginURL: "https://auth.example.com/login",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ctx := context.Background()
	if err := store.SaveClient(ctx, testutil.GenerateTestClient()); err != nil {
		t.Fatalf("failed to save test client: %v", err)
	}
	if err := store.SaveClient(ctx, testutil.GenerateTestPublicClient()); err != nil {
		t.Fatalf("failed to save public test client: %v", err)
	}

	return srv, store
}

func queryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse URL %q: %v", rawURL, err)
	}
	return u.Query().Get(key)
}

func assertErrorCode(t *testing.T, err error, wantCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", wantCode)
	}
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if oauthErr.Code != wantCode {
		t.Fatalf("expected error code %s, got %s (%s)", wantCode, oauthErr.Code, oauthErr.Description)
	}
}

// runAuthorizationFlow drives authorize, login completion, and code exchange
// and returns the resulting grant plus the PKCE verifier.
func runAuthorizationFlow(t *testing.T, srv *Server) (*Grant, string) {
	t.Helper()
	ctx := context.Background()

	challenge, verifier := testutil.GeneratePKCEPair()
	loginURL, err := srv.StartAuthorizationFlow(ctx,
		testutil.TestClientID, testutil.TestRedirectURI, testutil.TestScope,
		testState, challenge, "S256")
	testutil.AssertNoError(t, err)

	sessionID := queryParam(t, loginURL, "session_id")
	redirectURL, err := srv.CompleteLogin(ctx, sessionID, testutil.TestUserID)
	testutil.AssertNoError(t, err)

	code := queryParam(t, redirectURL, "code")
	grant, err := srv.ExchangeAuthorizationCode(ctx, code, testutil.TestClientID, testutil.TestRedirectURI, verifier)
	testutil.AssertNoError(t, err)

	return grant, verifier
}

func TestStartAuthorizationFlow(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name          string
		clientID      string
		redirectURI   string
		scope         string
		state         string
		challenge     string
		method        string
		wantErrorCode string
	}{
		{
			name:        "valid request",
			clientID:    testutil.TestClientID,
			redirectURI: testutil.TestRedirectURI,
			scope:       testutil.TestScope,
			state:       testState,
			challenge:   challenge,
			method:      "S256",
		},
		{
			name:        "empty method defaults to S256",
			clientID:    testutil.TestClientID,
			redirectURI: testutil.TestRedirectURI,
			scope:       testutil.TestScope,
			state:       testState,
			challenge:   challenge,
			method:      "",
		},
		{
			name:          "missing state",
			clientID:      testutil.TestClientID,
			redirectURI:   testutil.TestRedirectURI,
			scope:         testutil.TestScope,
			state:         "",
			challenge:     challenge,
			method:        "S256",
			wantErrorCode: ErrorCodeInvalidRequest,
		},
		{
			name:          "state too short",
			clientID:      testutil.TestClientID,
			redirectURI:   testutil.TestRedirectURI,
			scope:         testutil.TestScope,
			state:         "abc",
			challenge:     challenge,
			method:        "S256",
			wantErrorCode: ErrorCodeInvalidRequest,
		},
		{
			name:          "missing code challenge",
			clientID:      testutil.TestClientID,
			redirectURI:   testutil.TestRedirectURI,
			scope:         testutil.TestScope,
			state:         testState,
			challenge:     "",
			method:        "S256",
			wantErrorCode: ErrorCodeInvalidRequest,
		},
		{
			name:          "plain method rejected",
			clientID:      testutil.TestClientID,
			redirectURI:   testutil.TestRedirectURI,
			scope:         testutil.TestScope,
			state:         testState,
			challenge:     challenge,
			method:        "plain",
			wantErrorCode: ErrorCodeInvalidRequest,
		},
		{
			name:          "malformed challenge",
			clientID:      testutil.TestClientID,
			redirectURI:   testutil.TestRedirectURI,
			scope:         testutil.TestScope,
			state:         testState,
			challenge:     "too-short",
			method:        "S256",
			wantErrorCode: ErrorCodeInvalidRequest,
		},
		{
			name:          "unknown client",
			clientID:      "no-such-client",
			redirectURI:   testutil.TestRedirectURI,
			scope:         testutil.TestScope,
			state:         testState,
			challenge:     challenge,
			method:        "S256",
			wantErrorCode: ErrorCodeInvalidClient,
		},
		{
			name:          "unregistered redirect URI",
			clientID:      testutil.TestClientID,
			redirectURI:   testutil.TestRedirectURI + "/",
			scope:         testutil.TestScope,
			state:         testState,
			challenge:     challenge,
			method:        "S256",
			wantErrorCode: ErrorCodeInvalidRequest,
		},
		{
			name:          "scope not granted to client",
			clientID:      testutil.TestClientID,
			redirectURI:   testutil.TestRedirectURI,
			scope:         "admin:everything",
			state:         testState,
			challenge:     challenge,
			method:        "S256",
			wantErrorCode: ErrorCodeInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)

			loginURL, err := srv.StartAuthorizationFlow(context.Background(),
				tt.clientID, tt.redirectURI, tt.scope, tt.state, tt.challenge, tt.method)

			if tt.wantErrorCode != "" {
				assertErrorCode(t, err, tt.wantErrorCode)
				return
			}

			testutil.AssertNoError(t, err)
			if !strings.HasPrefix(loginURL, "https://auth.example.com/login?") {
				t.Errorf("login URL %q does not point at the login UI", loginURL)
			}
			if queryParam(t, loginURL, "session_id") == "" {
				t.Error("login URL is missing session_id")
			}
			if got := queryParam(t, loginURL, "client_name"); got != "Test Client" {
				t.Errorf("login URL client_name = %q, want %q", got, "Test Client")
			}
		})
	}
}

func TestCompleteLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	challenge, _ := testutil.GeneratePKCEPair()
	loginURL, err := srv.StartAuthorizationFlow(ctx,
		testutil.TestClientID, testutil.TestRedirectURI, testutil.TestScope,
		testState, challenge, "S256")
	testutil.AssertNoError(t, err)
	sessionID := queryParam(t, loginURL, "session_id")

	redirectURL, err := srv.CompleteLogin(ctx, sessionID, testutil.TestUserID)
	testutil.AssertNoError(t, err)

	if !strings.HasPrefix(redirectURL, testutil.TestRedirectURI+"?") {
		t.Errorf("redirect URL %q does not target the registered redirect URI", redirectURL)
	}
	if queryParam(t, redirectURL, "code") == "" {
		t.Error("redirect URL is missing the authorization code")
	}
	if got := queryParam(t, redirectURL, "state"); got != testState {
		t.Errorf("redirect URL state = %q, want %q", got, testState)
	}

	// Sessions are single use.
	if _, err := srv.CompleteLogin(ctx, sessionID, testutil.TestUserID); err == nil {
		t.Error("expected error completing an already-consumed session")
	}
}

func TestCompleteLoginErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := srv.CompleteLogin(ctx, "no-such-session", testutil.TestUserID); err == nil {
		t.Error("expected error for unknown session")
	}
	if _, err := srv.CompleteLogin(ctx, "whatever", ""); err == nil {
		t.Error("expected error for missing user ID")
	}
}

func TestExchangeAuthorizationCode(t *testing.T) {
	srv, _ := newTestServer(t)

	grant, _ := runAuthorizationFlow(t, srv)

	if grant.AccessToken == "" {
		t.Error("grant is missing the access token")
	}
	if grant.RefreshToken == "" {
		t.Error("grant is missing the refresh token")
	}
	testutil.AssertEqual(t, grant.TokenType, "Bearer")
	testutil.AssertEqual(t, grant.Scope, testutil.TestScope)
	if grant.ExpiresIn <= 0 {
		t.Errorf("grant ExpiresIn = %d, want > 0", grant.ExpiresIn)
	}

	// The access token must verify against the published key.
	verifier := token.NewVerifier(srv.Issuer().Signer().PublicKey(), "https://auth.example.com", 0)
	claims, err := verifier.Verify(grant.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, claims.Subject, testutil.TestUserID)
	testutil.AssertEqual(t, claims.ClientID, testutil.TestClientID)
	testutil.AssertTrue(t, claims.HasScope("memories:read"), "access token carries memories:read")
}

func TestExchangeAuthorizationCodeRejections(t *testing.T) {
	ctx := context.Background()

	start := func(t *testing.T, srv *Server) (code, verifier string) {
		t.Helper()
		challenge, verifier := testutil.GeneratePKCEPair()
		loginURL, err := srv.StartAuthorizationFlow(ctx,
			testutil.TestClientID, testutil.TestRedirectURI, testutil.TestScope,
			testState, challenge, "S256")
		testutil.AssertNoError(t, err)
		redirectURL, err := srv.CompleteLogin(ctx, queryParam(t, loginURL, "session_id"), testutil.TestUserID)
		testutil.AssertNoError(t, err)
		return queryParam(t, redirectURL, "code"), verifier
	}

	t.Run("unknown code", func(t *testing.T) {
		srv, _ := newTestServer(t)
		_, verifier := start(t, srv)
		_, err := srv.ExchangeAuthorizationCode(ctx, "no-such-code", testutil.TestClientID, testutil.TestRedirectURI, verifier)
		assertErrorCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("client mismatch", func(t *testing.T) {
		srv, _ := newTestServer(t)
		code, verifier := start(t, srv)
		_, err := srv.ExchangeAuthorizationCode(ctx, code, testutil.TestPublicClient, testutil.TestRedirectURI, verifier)
		assertErrorCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("redirect URI mismatch", func(t *testing.T) {
		srv, _ := newTestServer(t)
		code, verifier := start(t, srv)
		_, err := srv.ExchangeAuthorizationCode(ctx, code, testutil.TestClientID, testutil.TestRedirectURI+"/", verifier)
		assertErrorCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("wrong PKCE verifier", func(t *testing.T) {
		srv, _ := newTestServer(t)
		code, _ := start(t, srv)
		_, wrongVerifier := testutil.GeneratePKCEPair()
		_, err := srv.ExchangeAuthorizationCode(ctx, code, testutil.TestClientID, testutil.TestRedirectURI, wrongVerifier)
		assertErrorCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("expired code", func(t *testing.T) {
		srv, store := newTestServer(t)
		challenge, verifier := testutil.GeneratePKCEPair()
		authCode := testutil.GenerateTestAuthorizationCode(challenge)
		authCode.ExpiresAt = time.Now().Add(-time.Minute)
		testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, authCode))

		_, err := srv.ExchangeAuthorizationCode(ctx, authCode.Code, testutil.TestClientID, testutil.TestRedirectURI, verifier)
		assertErrorCode(t, err, ErrorCodeInvalidGrant)
	})
}

func TestAuthorizationCodeReplayRevokesTokens(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	challenge, verifier := testutil.GeneratePKCEPair()
	loginURL, err := srv.StartAuthorizationFlow(ctx,
		testutil.TestClientID, testutil.TestRedirectURI, testutil.TestScope,
		testState, challenge, "S256")
	testutil.AssertNoError(t, err)
	redirectURL, err := srv.CompleteLogin(ctx, queryParam(t, loginURL, "session_id"), testutil.TestUserID)
	testutil.AssertNoError(t, err)
	code := queryParam(t, redirectURL, "code")

	grant, err := srv.ExchangeAuthorizationCode(ctx, code, testutil.TestClientID, testutil.TestRedirectURI, verifier)
	testutil.AssertNoError(t, err)

	// Replaying the consumed code fails and revokes the tokens it produced.
	_, err = srv.ExchangeAuthorizationCode(ctx, code, testutil.TestClientID, testutil.TestRedirectURI, verifier)
	assertErrorCode(t, err, ErrorCodeInvalidGrant)

	row, err := store.GetRefreshToken(ctx, grant.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, row.Active(time.Now()), "refresh token revoked after code replay")

	_, err = srv.RefreshAccessToken(ctx, grant.RefreshToken, testutil.TestClientID)
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestConcurrentCodeExchangeSingleWinner(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	challenge, verifier := testutil.GeneratePKCEPair()
	loginURL, err := srv.StartAuthorizationFlow(ctx,
		testutil.TestClientID, testutil.TestRedirectURI, testutil.TestScope,
		testState, challenge, "S256")
	testutil.AssertNoError(t, err)
	redirectURL, err := srv.CompleteLogin(ctx, queryParam(t, loginURL, "session_id"), testutil.TestUserID)
	testutil.AssertNoError(t, err)
	code := queryParam(t, redirectURL, "code")

	const workers = 20
	var wg sync.WaitGroup
	successes := make(chan *Grant, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if grant, err := srv.ExchangeAuthorizationCode(ctx, code, testutil.TestClientID, testutil.TestRedirectURI, verifier); err == nil {
				successes <- grant
			}
		}()
	}
	wg.Wait()
	close(successes)

	if got := len(successes); got != 1 {
		t.Fatalf("expected exactly 1 successful exchange, got %d", got)
	}
}

func TestRefreshAccessToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	grant, _ := runAuthorizationFlow(t, srv)

	refreshed, err := srv.RefreshAccessToken(ctx, grant.RefreshToken, testutil.TestClientID)
	testutil.AssertNoError(t, err)

	testutil.AssertNotEqual(t, refreshed.RefreshToken, grant.RefreshToken)
	testutil.AssertEqual(t, refreshed.Scope, grant.Scope)
	if refreshed.AccessToken == "" {
		t.Error("refreshed grant is missing the access token")
	}

	// The successor stays usable.
	again, err := srv.RefreshAccessToken(ctx, refreshed.RefreshToken, testutil.TestClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertNotEqual(t, again.RefreshToken, refreshed.RefreshToken)
}

func TestRefreshTokenReplayRevokesFamily(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	grant, _ := runAuthorizationFlow(t, srv)

	refreshed, err := srv.RefreshAccessToken(ctx, grant.RefreshToken, testutil.TestClientID)
	testutil.AssertNoError(t, err)

	// Replaying the rotated-away token kills the whole chain.
	_, err = srv.RefreshAccessToken(ctx, grant.RefreshToken, testutil.TestClientID)
	assertErrorCode(t, err, ErrorCodeInvalidGrant)

	// The previously valid successor is dead too.
	_, err = srv.RefreshAccessToken(ctx, refreshed.RefreshToken, testutil.TestClientID)
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshTokenClientMismatch(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	grant, _ := runAuthorizationFlow(t, srv)

	_, err := srv.RefreshAccessToken(ctx, grant.RefreshToken, testutil.TestPublicClient)
	assertErrorCode(t, err, ErrorCodeInvalidGrant)

	// The rotation consumed the presented token and its freshly minted
	// successor was expired, so the holder is left with nothing usable.
	_, err = srv.RefreshAccessToken(ctx, grant.RefreshToken, testutil.TestClientID)
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshExpiredToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	row := testutil.GenerateTestRefreshToken()
	row.ExpiresAt = time.Now().Add(-time.Minute)
	testutil.AssertNoError(t, store.SaveRefreshToken(ctx, row))

	_, err := srv.RefreshAccessToken(ctx, row.Token, testutil.TestClientID)
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	grant, _ := runAuthorizationFlow(t, srv)

	const workers = 20
	var wg sync.WaitGroup
	successes := make(chan *Grant, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g, err := srv.RefreshAccessToken(ctx, grant.RefreshToken, testutil.TestClientID); err == nil {
				successes <- g
			}
		}()
	}
	wg.Wait()
	close(successes)

	if got := len(successes); got != 1 {
		t.Fatalf("expected exactly 1 successful rotation, got %d", got)
	}
}

func TestRevokeToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	grant, _ := runAuthorizationFlow(t, srv)

	// Revocation by the owning client kills the token.
	testutil.AssertNoError(t, srv.RevokeToken(ctx, grant.RefreshToken, testutil.TestClientID, "203.0.113.9"))
	row, err := store.GetRefreshToken(ctx, grant.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, row.Active(time.Now()), "token inactive after revocation")

	// Unknown tokens and foreign tokens succeed silently.
	testutil.AssertNoError(t, srv.RevokeToken(ctx, "no-such-token", testutil.TestClientID, "203.0.113.9"))

	second := testutil.GenerateTestRefreshToken()
	testutil.AssertNoError(t, store.SaveRefreshToken(ctx, second))
	testutil.AssertNoError(t, srv.RevokeToken(ctx, second.Token, testutil.TestPublicClient, "203.0.113.9"))
	row, err = store.GetRefreshToken(ctx, second.Token)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, row.Active(time.Now()), "foreign client revocation must not touch the token")
}

func TestRotationChainMetadata(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	grant, _ := runAuthorizationFlow(t, srv)

	head, err := store.GetRefreshToken(ctx, grant.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, head.Generation, 0)
	if head.FamilyID == "" {
		t.Error("head of chain is missing a family ID")
	}

	refreshed, err := srv.RefreshAccessToken(ctx, grant.RefreshToken, testutil.TestClientID)
	testutil.AssertNoError(t, err)

	succ, err := store.GetRefreshToken(ctx, refreshed.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, succ.Generation, 1)
	testutil.AssertEqual(t, succ.FamilyID, head.FamilyID)
	testutil.AssertEqual(t, succ.RotatedFrom, head.Token)
	testutil.AssertEqual(t, succ.UserID, head.UserID)
	testutil.AssertEqual(t, succ.Scope, head.Scope)
}
