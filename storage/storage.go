// Package storage defines the persistence contracts for the authorization
// server: registered clients, in-flight authorization sessions, one-time
// authorization codes, and refresh-token rotation chains. Backends must be
// shared across server instances; no protocol invariant may rely on
// process-local memory.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by stores. Handlers map these onto OAuth error
// codes; the distinction between "not found", "expired", and "already
// consumed/rotated" matters for reuse detection but must never leak to
// clients.
var (
	ErrClientNotFound    = errors.New("client not found")
	ErrSessionNotFound   = errors.New("session not found or expired")
	ErrCodeNotFound      = errors.New("authorization code not found")
	ErrCodeExpired       = errors.New("authorization code expired")
	ErrCodeConsumed      = errors.New("authorization code already consumed")
	ErrTokenNotFound     = errors.New("refresh token not found")
	ErrTokenExpired      = errors.New("refresh token expired")
	ErrTokenRotated      = errors.New("refresh token already rotated")
	ErrInvalidSecret     = errors.New("invalid client secret")
	ErrRegistrationLimit = errors.New("client registration limit reached for IP")
)

// Client is a registered OAuth client.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash; empty for public clients
	ClientType       string // "public" or "confidential"
	RedirectURIs     []string
	Scopes           []string
	ClientName       string
	CreatedAt        time.Time
}

// Session is an in-flight authorization request, created when /authorize
// validates the request and destroyed when the login UI completes it or the
// TTL elapses.
type Session struct {
	SessionID           string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string // client CSRF state, echoed back on completion
	CodeChallenge       string
	CodeChallengeMethod string // always "S256"
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AuthorizationCode is a single-use code minted when the login UI reports an
// authenticated user for a session. Consumed rows are kept (marked Used)
// until their TTL so that reuse attempts can be detected.
type AuthorizationCode struct {
	Code          string
	SessionID     string
	ClientID      string
	UserID        string
	RedirectURI   string
	Scope         string
	CodeChallenge string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Used          bool
}

// RefreshToken is one link in a rotation chain. RotatedFrom points at the
// predecessor token value; FamilyID ties the whole chain together so it can
// be revoked as a unit when a rotated-away token is replayed.
type RefreshToken struct {
	Token       string
	UserID      string
	ClientID    string
	Scope       string
	FamilyID    string
	Generation  int
	RotatedFrom string // empty at the head of a chain
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RotatedAt   time.Time // zero until the token is rotated away
}

// Active reports whether the token is usable at the given instant.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RotatedAt.IsZero() && t.ExpiresAt.After(now)
}

// ClientStore manages registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient persists a registered client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID, or ErrClientNotFound.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret checks a confidential client's secret against its
	// stored bcrypt hash. Returns ErrInvalidSecret on mismatch.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (admin surface).
	ListClients(ctx context.Context) ([]*Client, error)

	// CheckIPLimit returns an error if the IP has reached the dynamic
	// registration cap.
	CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error
}

// FlowStore manages authorization sessions and one-time codes.
//
// Expired rows are excluded by every read; backends are not required to
// sweep them on a schedule (the memory backend does, as hygiene).
type FlowStore interface {
	// SaveSession persists an in-flight authorization session.
	SaveSession(ctx context.Context, session *Session) error

	// GetSession retrieves an unexpired session, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// DeleteSession removes a session. Deleting a missing session is not an
	// error.
	DeleteSession(ctx context.Context, sessionID string) error

	// SaveAuthorizationCode persists a freshly minted code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically checks that the code is unexpired
	// and unused and marks it used. Of N concurrent calls for the same code,
	// exactly one succeeds.
	//
	// On success the code is returned with Used already set. A second
	// consumption returns the code together with ErrCodeConsumed so the
	// caller can react to the reuse (revoke the user+client tokens). Expired
	// and unknown codes return ErrCodeExpired / ErrCodeNotFound with a nil
	// code.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code regardless of state.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// RefreshTokenStore manages refresh-token rotation chains.
type RefreshTokenStore interface {
	// SaveRefreshToken persists the head of a new chain (generation 0).
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a token row if present, including expired
	// and rotated rows; callers decide what staleness means. Missing rows
	// return ErrTokenNotFound.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RotateRefreshToken atomically expires the old token and inserts its
	// successor. The successor's FamilyID, Generation, and RotatedFrom are
	// filled in from the predecessor by the store.
	//
	// Exactly one of N concurrent rotations of the same token succeeds.
	// Losers observe the token as no longer active and receive
	// ErrTokenRotated (a reuse signal), ErrTokenExpired, or ErrTokenNotFound.
	RotateRefreshToken(ctx context.Context, oldToken string, successor *RefreshToken) (*RefreshToken, error)

	// ExpireRefreshToken sets a token's active window to the past. Missing
	// tokens are not an error (revocation must not be a validity oracle).
	ExpireRefreshToken(ctx context.Context, token string) error

	// RevokeRefreshTokenFamily expires every token in a chain and returns
	// the number of rows touched.
	RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int, error)

	// RevokeAllForUserClient expires every refresh token issued to a
	// user+client pair. Used when code reuse is detected.
	RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error)
}

// Store combines the three contracts; both backends implement all of them.
type Store interface {
	ClientStore
	FlowStore
	RefreshTokenStore
}
