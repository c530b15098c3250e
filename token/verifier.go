package token

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when an otherwise valid token is past its
// expiry.
var ErrTokenExpired = errors.New("access token expired")

// allowedAlgorithms whitelists signing algorithms to prevent algorithm
// confusion attacks (e.g. an attacker re-signing with "none" or HMAC).
var allowedAlgorithms = map[string]bool{
	"ES256": true,
	"ES384": true,
	"ES512": true,
}

// Verifier validates access tokens the way a resource server would:
// signature, expiry, and issuer, using only the public key.
type Verifier struct {
	publicKey crypto.PublicKey
	issuerURL string
	clockSkew time.Duration
}

// NewVerifier creates a Verifier for tokens minted by the given issuer.
func NewVerifier(publicKey crypto.PublicKey, issuerURL string, clockSkew time.Duration) *Verifier {
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &Verifier{publicKey: publicKey, issuerURL: issuerURL, clockSkew: clockSkew}
}

// Verify parses and validates a compact JWT and returns its claims.
func (v *Verifier) Verify(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if !allowedAlgorithms[t.Method.Alg()] {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return v.publicKey, nil
	},
		jwt.WithLeeway(v.clockSkew),
		jwt.WithIssuer(v.issuerURL),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid access token")
	}
	return claims, nil
}
