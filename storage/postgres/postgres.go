// Package postgres provides the durable, shared storage backend. All
// protocol state lives in four tables (clients, sessions, codes,
// refresh_tokens); the refresh_tokens table carries a self-referencing
// rotated_from column forming the rotation chain.
//
// The two operations with hard atomicity requirements, code consumption and
// refresh-token rotation, are expressed as conditional UPDATE ... RETURNING
// statements so that exactly one concurrent caller can win.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/coladapo/purmemo-auth/storage"
)

// Compile-time interface assertion.
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store and verifies connectivity.
func New(ctx context.Context, connString string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// NewFromPool wraps an existing pool (used by tests).
func NewFromPool(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ==================== ClientStore ====================

// SaveClient upserts a registered client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clients (client_id, client_secret_hash, client_type, redirect_uris, scopes, client_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id) DO UPDATE SET
			client_secret_hash = EXCLUDED.client_secret_hash,
			client_type = EXCLUDED.client_type,
			redirect_uris = EXCLUDED.redirect_uris,
			scopes = EXCLUDED.scopes,
			client_name = EXCLUDED.client_name`,
		client.ClientID, client.ClientSecretHash, client.ClientType,
		client.RedirectURIs, client.Scopes, client.ClientName, client.CreatedAt)
	if err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var c storage.Client
	err := s.pool.QueryRow(ctx, `
		SELECT client_id, client_secret_hash, client_type, redirect_uris, scopes, client_name, created_at
		FROM clients WHERE client_id = $1`, clientID).
		Scan(&c.ClientID, &c.ClientSecretHash, &c.ClientType, &c.RedirectURIs, &c.Scopes, &c.ClientName, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

// ValidateClientSecret compares a presented secret against the stored bcrypt
// hash. bcrypt comparison is constant-time with respect to the secret.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if client.ClientSecretHash == "" {
		return storage.ErrInvalidSecret
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return storage.ErrInvalidSecret
	}
	return nil
}

// ListClients returns all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT client_id, client_secret_hash, client_type, redirect_uris, scopes, client_name, created_at
		FROM clients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []*storage.Client
	for rows.Next() {
		var c storage.Client
		if err := rows.Scan(&c.ClientID, &c.ClientSecretHash, &c.ClientType, &c.RedirectURIs, &c.Scopes, &c.ClientName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, &c)
	}
	return clients, rows.Err()
}

// CheckIPLimit enforces the per-IP registration cap with a conditional
// upsert; the guarded UPDATE makes check-and-increment a single statement.
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 {
		return nil
	}

	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO client_registrations_by_ip (ip, registrations)
		VALUES ($1, 1)
		ON CONFLICT (ip) DO UPDATE
			SET registrations = client_registrations_by_ip.registrations + 1
			WHERE client_registrations_by_ip.registrations < $2
		RETURNING registrations`, ip, maxClientsPerIP).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrRegistrationLimit
	}
	if err != nil {
		return fmt.Errorf("check ip limit: %w", err)
	}
	return nil
}

// ==================== FlowStore ====================

// SaveSession persists an in-flight authorization session.
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, client_id, redirect_uri, scope, state, code_challenge, code_challenge_method, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.SessionID, session.ClientID, session.RedirectURI, session.Scope, session.State,
		session.CodeChallenge, session.CodeChallengeMethod, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves an unexpired session; the expires_at predicate keeps
// expired rows invisible without a sweeper.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	var sess storage.Session
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, client_id, redirect_uri, scope, state, code_challenge, code_challenge_method, created_at, expires_at
		FROM sessions WHERE session_id = $1 AND expires_at > now()`, sessionID).
		Scan(&sess.SessionID, &sess.ClientID, &sess.RedirectURI, &sess.Scope, &sess.State,
			&sess.CodeChallenge, &sess.CodeChallengeMethod, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveAuthorizationCode persists a freshly minted code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO codes (code, session_id, client_id, user_id, redirect_uri, scope, code_challenge, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		code.Code, code.SessionID, code.ClientID, code.UserID, code.RedirectURI,
		code.Scope, code.CodeChallenge, code.CreatedAt, code.ExpiresAt, code.Used)
	if err != nil {
		return fmt.Errorf("save authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode marks the code used with a conditional update.
// Only one concurrent transaction can match used = false; everyone else
// falls through to the classification query.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var c storage.AuthorizationCode
	err := s.pool.QueryRow(ctx, `
		UPDATE codes SET used = true
		WHERE code = $1 AND used = false AND expires_at > now()
		RETURNING code, session_id, client_id, user_id, redirect_uri, scope, code_challenge, created_at, expires_at, used`, code).
		Scan(&c.Code, &c.SessionID, &c.ClientID, &c.UserID, &c.RedirectURI,
			&c.Scope, &c.CodeChallenge, &c.CreatedAt, &c.ExpiresAt, &c.Used)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	// Classify the failure: reused, expired, or unknown.
	err = s.pool.QueryRow(ctx, `
		SELECT code, session_id, client_id, user_id, redirect_uri, scope, code_challenge, created_at, expires_at, used
		FROM codes WHERE code = $1`, code).
		Scan(&c.Code, &c.SessionID, &c.ClientID, &c.UserID, &c.RedirectURI,
			&c.Scope, &c.CodeChallenge, &c.CreatedAt, &c.ExpiresAt, &c.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("classify authorization code: %w", err)
	}
	if c.Used {
		return &c, storage.ErrCodeConsumed
	}
	return nil, storage.ErrCodeExpired
}

// DeleteAuthorizationCode removes a code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM codes WHERE code = $1`, code); err != nil {
		return fmt.Errorf("delete authorization code: %w", err)
	}
	return nil
}

// ==================== RefreshTokenStore ====================

// SaveRefreshToken persists the head of a new rotation chain.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (token, user_id, client_id, scope, family_id, generation, rotated_from, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8)`,
		token.Token, token.UserID, token.ClientID, token.Scope, token.FamilyID,
		token.Generation, token.IssuedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken retrieves a token row, including expired and rotated rows.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	var (
		t           storage.RefreshToken
		rotatedFrom *string
		rotatedAt   *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT token, user_id, client_id, scope, family_id, generation, rotated_from, issued_at, expires_at, rotated_at
		FROM refresh_tokens WHERE token = $1`, token).
		Scan(&t.Token, &t.UserID, &t.ClientID, &t.Scope, &t.FamilyID, &t.Generation,
			&rotatedFrom, &t.IssuedAt, &t.ExpiresAt, &rotatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	if rotatedFrom != nil {
		t.RotatedFrom = *rotatedFrom
	}
	if rotatedAt != nil {
		t.RotatedAt = *rotatedAt
	}
	return &t, nil
}

// RotateRefreshToken expires the predecessor and inserts the successor in
// one transaction. The conditional UPDATE is the synchronization point:
// concurrent rotations of the same token race on rotated_at IS NULL and only
// one matches.
func (s *Store) RotateRefreshToken(ctx context.Context, oldToken string, successor *storage.RefreshToken) (*storage.RefreshToken, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var (
		userID, clientID, scope, familyID string
		generation                        int
	)
	err = tx.QueryRow(ctx, `
		UPDATE refresh_tokens SET rotated_at = now(), expires_at = now()
		WHERE token = $1 AND rotated_at IS NULL AND expires_at > now()
		RETURNING user_id, client_id, scope, family_id, generation`, oldToken).
		Scan(&userID, &clientID, &scope, &familyID, &generation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyRotationFailure(ctx, oldToken)
	}
	if err != nil {
		return nil, fmt.Errorf("expire predecessor: %w", err)
	}

	succ := *successor
	succ.UserID = userID
	succ.ClientID = clientID
	succ.Scope = scope
	succ.FamilyID = familyID
	succ.Generation = generation + 1
	succ.RotatedFrom = oldToken

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (token, user_id, client_id, scope, family_id, generation, rotated_from, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		succ.Token, succ.UserID, succ.ClientID, succ.Scope, succ.FamilyID,
		succ.Generation, succ.RotatedFrom, succ.IssuedAt, succ.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert successor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return &succ, nil
}

// classifyRotationFailure distinguishes replay of a rotated token from plain
// expiry or an unknown token.
func (s *Store) classifyRotationFailure(ctx context.Context, token string) error {
	var rotatedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT rotated_at FROM refresh_tokens WHERE token = $1`, token).Scan(&rotatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("classify rotation failure: %w", err)
	}
	if rotatedAt != nil {
		return storage.ErrTokenRotated
	}
	return storage.ErrTokenExpired
}

// ExpireRefreshToken sets a token's active window to the past. Unknown
// tokens succeed silently.
func (s *Store) ExpireRefreshToken(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET expires_at = now() WHERE token = $1 AND expires_at > now()`, token)
	if err != nil {
		return fmt.Errorf("expire refresh token: %w", err)
	}
	return nil
}

// RevokeRefreshTokenFamily expires every live token in a chain.
func (s *Store) RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET expires_at = now() WHERE family_id = $1 AND expires_at > now()`, familyID)
	if err != nil {
		return 0, fmt.Errorf("revoke token family: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RevokeAllForUserClient expires every live refresh token for a user+client
// pair.
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET expires_at = now() WHERE user_id = $1 AND client_id = $2 AND expires_at > now()`,
		userID, clientID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
