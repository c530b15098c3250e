package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// AccessTokenClaims is the claim set carried by issued access tokens.
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Scopes splits the scope claim into individual scope values.
func (c *AccessTokenClaims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasScope reports whether the token carries the given scope.
func (c *AccessTokenClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// Issuer mints access and refresh tokens.
//
// Access-token issuance is pure signing: no storage, no locks, safe to run
// fully in parallel. Refresh tokens minted here are just opaque values;
// persisting the chain row is the caller's job.
type Issuer struct {
	signer    Signer
	issuerURL string
	accessTTL time.Duration
}

// NewIssuer creates an Issuer.
func NewIssuer(signer Signer, issuerURL string, accessTTL time.Duration) (*Issuer, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if issuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &Issuer{signer: signer, issuerURL: issuerURL, accessTTL: accessTTL}, nil
}

// IssueAccessToken signs a short-lived access token for the user+client+scope
// and returns the compact JWT together with its lifetime in seconds.
func (i *Issuer) IssueAccessToken(userID, clientID, scope string) (string, int64, error) {
	now := time.Now()
	claims := &AccessTokenClaims{
		ClientID: clientID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuerURL,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}

	signed, err := i.signer.SignClaims(claims)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.accessTTL.Seconds()), nil
}

// AccessTokenTTL returns the configured access-token lifetime.
func (i *Issuer) AccessTokenTTL() time.Duration { return i.accessTTL }

// Signer exposes the injected signing capability (for JWKS publication).
func (i *Issuer) Signer() Signer { return i.signer }

// NewRefreshToken returns fresh opaque refresh-token material:
// cryptographically random, URL-safe, unguessable. Same generator the server
// uses for authorization codes and session IDs.
func NewRefreshToken() string {
	return oauth2.GenerateVerifier()
}
