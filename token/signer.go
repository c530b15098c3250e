// Package token mints and verifies the server's tokens: short-lived signed
// JWT access tokens and opaque refresh-token values. Access tokens are
// self-contained; resource servers verify signature, expiry, and scope with
// the published key and never call back into this server.
package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is the narrowly-scoped signing capability injected into the Issuer.
// Keeping the key behind this interface (instead of ambient process state)
// keeps issuance testable and leaves room for key rotation.
type Signer interface {
	// SignClaims signs a claim set and returns the compact JWT.
	SignClaims(claims jwt.Claims) (string, error)

	// KeyID identifies the signing key; it is placed in the token header so
	// verifiers can select the right key.
	KeyID() string

	// Algorithm names the JOSE signing algorithm (e.g. "ES256").
	Algorithm() string

	// PublicKey returns the verification key for this signer.
	PublicKey() crypto.PublicKey
}

// ES256Signer signs with an ECDSA P-256 key.
type ES256Signer struct {
	key   *ecdsa.PrivateKey
	keyID string
}

// NewES256Signer wraps an existing private key. The key ID is derived from
// the public key so it is stable across restarts.
func NewES256Signer(key *ecdsa.PrivateKey) (*ES256Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("ES256 requires a P-256 key, got %s", key.Curve.Params().Name)
	}
	return &ES256Signer{key: key, keyID: deriveKeyID(&key.PublicKey)}, nil
}

// GenerateES256Signer creates a signer with a fresh P-256 key. Useful for
// development and tests; production loads a persisted key.
func GenerateES256Signer() (*ES256Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return NewES256Signer(key)
}

// SignClaims signs a claim set and returns the compact JWT.
func (s *ES256Signer) SignClaims(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = s.keyID
	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// KeyID returns the derived key identifier.
func (s *ES256Signer) KeyID() string { return s.keyID }

// Algorithm returns "ES256".
func (s *ES256Signer) Algorithm() string { return jwt.SigningMethodES256.Alg() }

// PublicKey returns the ECDSA public key for verification.
func (s *ES256Signer) PublicKey() crypto.PublicKey { return &s.key.PublicKey }

// deriveKeyID hashes the public key coordinates into a short stable ID.
func deriveKeyID(pub *ecdsa.PublicKey) string {
	h := sha256.New()
	h.Write(pub.X.Bytes())
	h.Write(pub.Y.Bytes())
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))[:16]
}
