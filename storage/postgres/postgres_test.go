package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coladapo/purmemo-auth/internal/testutil"
	"github.com/coladapo/purmemo-auth/storage"
)

// newTestStore connects to the database named by TEST_POSTGRES_URL, applies
// the schema, and truncates all tables. Tests are skipped when the variable
// is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set, skipping postgres integration tests")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	_, err = s.pool.Exec(ctx,
		`TRUNCATE clients, client_registrations_by_ip, sessions, codes, refresh_tokens`)
	require.NoError(t, err)

	return s
}

func TestPostgresClientRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	require.NoError(t, s.SaveClient(ctx, client))

	got, err := s.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, got.ClientID)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.Scopes, got.Scopes)

	// Upsert replaces mutable fields.
	client.ClientName = "Renamed"
	require.NoError(t, s.SaveClient(ctx, client))
	got, err = s.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.ClientName)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)

	assert.NoError(t, s.ValidateClientSecret(ctx, client.ClientID, testutil.TestClientSecret))
	assert.ErrorIs(t, s.ValidateClientSecret(ctx, client.ClientID, "wrong"), storage.ErrInvalidSecret)
}

func TestPostgresCheckIPLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CheckIPLimit(ctx, "203.0.113.5", 3))
	}
	assert.ErrorIs(t, s.CheckIPLimit(ctx, "203.0.113.5", 3), storage.ErrRegistrationLimit)
	assert.NoError(t, s.CheckIPLimit(ctx, "198.51.100.7", 3))
	assert.NoError(t, s.CheckIPLimit(ctx, "203.0.113.5", 0))
}

func TestPostgresSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	challenge, _ := testutil.GeneratePKCEPair()
	session := testutil.GenerateTestSession(challenge)
	require.NoError(t, s.SaveSession(ctx, session))

	got, err := s.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.ClientID, got.ClientID)
	assert.Equal(t, session.CodeChallenge, got.CodeChallenge)

	require.NoError(t, s.DeleteSession(ctx, session.SessionID))
	_, err = s.GetSession(ctx, session.SessionID)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	expired := testutil.GenerateTestSession(challenge)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.SaveSession(ctx, expired))
	_, err = s.GetSession(ctx, expired.SessionID)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestPostgresConsumeAuthorizationCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	challenge, _ := testutil.GeneratePKCEPair()
	code := testutil.GenerateTestAuthorizationCode(challenge)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	got, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.Equal(t, code.UserID, got.UserID)

	replayed, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrCodeConsumed)
	require.NotNil(t, replayed)
	assert.Equal(t, code.UserID, replayed.UserID)

	_, err = s.ConsumeAuthorizationCode(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrCodeNotFound)

	expired := testutil.GenerateTestAuthorizationCode(challenge)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.SaveAuthorizationCode(ctx, expired))
	_, err = s.ConsumeAuthorizationCode(ctx, expired.Code)
	assert.ErrorIs(t, err, storage.ErrCodeExpired)
}

func TestPostgresConsumeAuthorizationCodeConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	challenge, _ := testutil.GeneratePKCEPair()
	code := testutil.GenerateTestAuthorizationCode(challenge)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeAuthorizationCode(ctx, code.Code); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestPostgresRotateRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	head := testutil.GenerateTestRefreshToken()
	require.NoError(t, s.SaveRefreshToken(ctx, head))

	successor := &storage.RefreshToken{
		Token:     testutil.GenerateRandomString(43),
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	rotated, err := s.RotateRefreshToken(ctx, head.Token, successor)
	require.NoError(t, err)

	assert.Equal(t, head.UserID, rotated.UserID)
	assert.Equal(t, head.ClientID, rotated.ClientID)
	assert.Equal(t, head.FamilyID, rotated.FamilyID)
	assert.Equal(t, head.Generation+1, rotated.Generation)
	assert.Equal(t, head.Token, rotated.RotatedFrom)

	old, err := s.GetRefreshToken(ctx, head.Token)
	require.NoError(t, err)
	assert.False(t, old.RotatedAt.IsZero())
	assert.False(t, old.Active(time.Now().Add(time.Second)))

	_, err = s.RotateRefreshToken(ctx, head.Token, successor)
	assert.ErrorIs(t, err, storage.ErrTokenRotated)

	_, err = s.RotateRefreshToken(ctx, "missing", successor)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	expired := testutil.GenerateTestRefreshToken()
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.SaveRefreshToken(ctx, expired))
	_, err = s.RotateRefreshToken(ctx, expired.Token, successor)
	assert.ErrorIs(t, err, storage.ErrTokenExpired)
}

func TestPostgresRotateRefreshTokenConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	head := testutil.GenerateTestRefreshToken()
	require.NoError(t, s.SaveRefreshToken(ctx, head))

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successor := &storage.RefreshToken{
				Token:     testutil.GenerateRandomString(43),
				IssuedAt:  time.Now(),
				ExpiresAt: time.Now().Add(time.Hour),
			}
			if _, err := s.RotateRefreshToken(ctx, head.Token, successor); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestPostgresFamilyRevocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	family := testutil.GenerateRandomString(32)
	for i := 0; i < 3; i++ {
		row := testutil.GenerateTestRefreshToken()
		row.FamilyID = family
		row.Generation = i
		require.NoError(t, s.SaveRefreshToken(ctx, row))
	}
	other := testutil.GenerateTestRefreshToken()
	require.NoError(t, s.SaveRefreshToken(ctx, other))

	revoked, err := s.RevokeRefreshTokenFamily(ctx, family)
	require.NoError(t, err)
	assert.Equal(t, 3, revoked)

	got, err := s.GetRefreshToken(ctx, other.Token)
	require.NoError(t, err)
	assert.True(t, got.Active(time.Now()))

	revoked, err = s.RevokeRefreshTokenFamily(ctx, family)
	require.NoError(t, err)
	assert.Zero(t, revoked)
}

func TestPostgresRevokeAllForUserClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.SaveRefreshToken(ctx, testutil.GenerateTestRefreshToken()))
	}
	foreign := testutil.GenerateTestRefreshToken()
	foreign.ClientID = "other-client"
	require.NoError(t, s.SaveRefreshToken(ctx, foreign))

	revoked, err := s.RevokeAllForUserClient(ctx, testutil.TestUserID, testutil.TestClientID)
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)

	got, err := s.GetRefreshToken(ctx, foreign.Token)
	require.NoError(t, err)
	assert.True(t, got.Active(time.Now()))
}

func TestPostgresExpireRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := testutil.GenerateTestRefreshToken()
	require.NoError(t, s.SaveRefreshToken(ctx, row))

	require.NoError(t, s.ExpireRefreshToken(ctx, row.Token))
	got, err := s.GetRefreshToken(ctx, row.Token)
	require.NoError(t, err)
	assert.False(t, got.Active(time.Now().Add(time.Second)))

	assert.NoError(t, s.ExpireRefreshToken(ctx, "missing"))
}
