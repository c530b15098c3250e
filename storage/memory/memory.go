// Package memory provides an in-memory implementation of the storage
// contracts. It is intended for development and tests; protocol state kept
// here is lost on restart and invisible to other instances, so production
// deployments use the postgres backend.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coladapo/purmemo-auth/storage"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCleanupInterval is how often the hygiene sweep runs.
const DefaultCleanupInterval = time.Minute

// Store is a mutex-guarded in-memory store implementing storage.Store.
//
// Every read excludes expired rows; the background sweep only reclaims
// memory, it is not load-bearing for correctness.
type Store struct {
	mu sync.Mutex

	clients       map[string]*storage.Client
	clientsPerIP  map[string]int
	sessions      map[string]*storage.Session
	codes         map[string]*storage.AuthorizationCode
	refreshTokens map[string]*storage.RefreshToken

	logger *slog.Logger

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// New creates a memory store with the default cleanup interval.
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a memory store with a custom cleanup interval.
// Tests use short intervals to exercise the sweep.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientsPerIP:    make(map[string]int),
		sessions:        make(map[string]*storage.Session),
		codes:           make(map[string]*storage.AuthorizationCode),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		logger:          slog.Default(),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ==================== ClientStore ====================

// SaveClient persists a registered client.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	s.clients[client.ClientID] = &c
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	c := *client
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
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		c := *client
		clients = append(clients, &c)
	}
	return clients, nil
}

// CheckIPLimit enforces the per-IP registration cap and records the
// registration attempt.
func (s *Store) CheckIPLimit(_ context.Context, ip string, maxClientsPerIP int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxClientsPerIP > 0 && s.clientsPerIP[ip] >= maxClientsPerIP {
		return storage.ErrRegistrationLimit
	}
	s.clientsPerIP[ip]++
	return nil
}

// ==================== FlowStore ====================

// SaveSession persists an in-flight authorization session.
func (s *Store) SaveSession(_ context.Context, session *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := *session
	s.sessions[session.SessionID] = &sess
	return nil
}

// GetSession retrieves an unexpired session.
func (s *Store) GetSession(_ context.Context, sessionID string) (*storage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || !session.ExpiresAt.After(time.Now()) {
		return nil, storage.ErrSessionNotFound
	}
	sess := *session
	return &sess, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// SaveAuthorizationCode persists a freshly minted code.
func (s *Store) SaveAuthorizationCode(_ context.Context, code *storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	s.codes[code.Code] = &c
	return nil
}

// ConsumeAuthorizationCode atomically checks the code is live and marks it
// used. The single mutex makes the check-and-mark one operation; exactly one
// concurrent caller observes Used=false.
func (s *Store) ConsumeAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	if authCode.Used {
		c := *authCode
		return &c, storage.ErrCodeConsumed
	}
	if !authCode.ExpiresAt.After(time.Now()) {
		return nil, storage.ErrCodeExpired
	}

	// Keep the row, marked used, until TTL so reuse can be detected.
	authCode.Used = true
	c := *authCode
	return &c, nil
}

// DeleteAuthorizationCode removes a code.
func (s *Store) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, code)
	return nil
}

// ==================== RefreshTokenStore ====================

// SaveRefreshToken persists the head of a new rotation chain.
func (s *Store) SaveRefreshToken(_ context.Context, token *storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.refreshTokens[token.Token] = &t
	return nil
}

// GetRefreshToken retrieves a token row, including expired and rotated rows.
func (s *Store) GetRefreshToken(_ context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	t := *row
	return &t, nil
}

// RotateRefreshToken expires the old token and inserts its successor under a
// single lock acquisition, so exactly one concurrent rotation wins.
func (s *Store) RotateRefreshToken(_ context.Context, oldToken string, successor *storage.RefreshToken) (*storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	old, ok := s.refreshTokens[oldToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if !old.RotatedAt.IsZero() {
		return nil, storage.ErrTokenRotated
	}
	if !old.ExpiresAt.After(now) {
		return nil, storage.ErrTokenExpired
	}

	old.RotatedAt = now
	old.ExpiresAt = now

	succ := *successor
	succ.UserID = old.UserID
	succ.ClientID = old.ClientID
	succ.Scope = old.Scope
	succ.FamilyID = old.FamilyID
	succ.Generation = old.Generation + 1
	succ.RotatedFrom = old.Token
	s.refreshTokens[succ.Token] = &succ

	out := succ
	return &out, nil
}

// ExpireRefreshToken sets a token's active window to the past. Unknown
// tokens succeed silently.
func (s *Store) ExpireRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.refreshTokens[token]; ok {
		row.ExpiresAt = time.Now()
	}
	return nil
}

// RevokeRefreshTokenFamily expires every token in a chain.
func (s *Store) RevokeRefreshTokenFamily(_ context.Context, familyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	revoked := 0
	for _, row := range s.refreshTokens {
		if row.FamilyID == familyID && row.ExpiresAt.After(now) {
			row.ExpiresAt = now
			revoked++
		}
	}
	return revoked, nil
}

// RevokeAllForUserClient expires every refresh token for a user+client pair.
func (s *Store) RevokeAllForUserClient(_ context.Context, userID, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	revoked := 0
	for _, row := range s.refreshTokens {
		if row.UserID == userID && row.ClientID == clientID && row.ExpiresAt.After(now) {
			row.ExpiresAt = now
			revoked++
		}
	}
	return revoked, nil
}

// ==================== cleanup ====================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup reclaims memory held by expired sessions, codes, and long-dead
// refresh tokens. Rotated/expired refresh rows are retained for a grace
// period so reuse of a rotated token can still be detected.
func (s *Store) cleanup() {
	const deadTokenRetention = 24 * time.Hour

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	for id, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	for code, authCode := range s.codes {
		if !authCode.ExpiresAt.After(now) {
			delete(s.codes, code)
			removed++
		}
	}
	for token, row := range s.refreshTokens {
		if !row.ExpiresAt.After(now) && now.Sub(row.ExpiresAt) > deadTokenRetention {
			delete(s.refreshTokens, token)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"removed", removed,
			"sessions", len(s.sessions),
			"codes", len(s.codes),
			"refresh_tokens", len(s.refreshTokens))
	}
}
