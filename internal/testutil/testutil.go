// Package testutil provides testing fixtures and assertion helpers for the
// purmemo-auth packages.
package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/coladapo/purmemo-auth/storage"
)

// Fixture identifiers shared across package tests.
const (
	TestClientID     = "test-client-id"
	TestPublicClient = "test-public-client"
	TestUserID       = "test-user-123"
	TestRedirectURI  = "https://example.com/callback"
	TestScope        = "memories:read memories:write"

	// TestClientSecret is the plaintext behind TestClientSecretHash.
	TestClientSecret = "secret"

	// TestClientSecretHash is a bcrypt hash of "secret".
	TestClientSecretHash = "$2a$10$nRPXooZ5zxZJyQYha40DA.TaBNir9bzRRtur4wXv3YHIRCXeUp9ee"
)

// GenerateTestClient creates a confidential test client.
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:         TestClientID,
		ClientSecretHash: TestClientSecretHash,
		ClientType:       "confidential",
		RedirectURIs:     []string{TestRedirectURI},
		Scopes:           []string{"memories:read", "memories:write"},
		ClientName:       "Test Client",
		CreatedAt:        time.Now(),
	}
}

// GenerateTestPublicClient creates a public (secretless) test client.
func GenerateTestPublicClient() *storage.Client {
	return &storage.Client{
		ClientID:     TestPublicClient,
		ClientType:   "public",
		RedirectURIs: []string{TestRedirectURI},
		Scopes:       []string{"memories:read"},
		ClientName:   "Test Public Client",
		CreatedAt:    time.Now(),
	}
}

// GenerateTestSession creates an unexpired authorization session.
func GenerateTestSession(challenge string) *storage.Session {
	return &storage.Session{
		SessionID:           GenerateRandomString(32),
		ClientID:            TestClientID,
		RedirectURI:         TestRedirectURI,
		Scope:               TestScope,
		State:               GenerateRandomString(16),
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
}

// GenerateTestAuthorizationCode creates an unexpired, unused code.
func GenerateTestAuthorizationCode(challenge string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:          GenerateRandomString(32),
		SessionID:     GenerateRandomString(32),
		ClientID:      TestClientID,
		UserID:        TestUserID,
		RedirectURI:   TestRedirectURI,
		Scope:         TestScope,
		CodeChallenge: challenge,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(10 * time.Minute),
	}
}

// GenerateTestRefreshToken creates the head of a fresh rotation chain.
func GenerateTestRefreshToken() *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:      GenerateRandomString(43),
		UserID:     TestUserID,
		ClientID:   TestClientID,
		Scope:      TestScope,
		FamilyID:   GenerateRandomString(32),
		Generation: 0,
		IssuedAt:   time.Now(),
		ExpiresAt:  time.Now().Add(90 * 24 * time.Hour),
	}
}

// GenerateRandomString generates a random base64-encoded string.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE pair for tests. Returns
// (challenge, verifier) where challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotEqual fails the test if got == want
func AssertNotEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got == want {
		t.Errorf("got %v, want different value", got)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	found := false
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}
