package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/coladapo/purmemo-auth/security"
	"github.com/coladapo/purmemo-auth/storage"
)

// Client type constants.
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// RegisterClient registers a new OAuth client with per-IP DoS protection.
// Redirect URIs get their one-time scheme-safety validation here; afterwards
// the authorization endpoint only ever does exact string matching against the
// set accepted now.
//
// For confidential clients the plaintext secret is returned exactly once;
// only the bcrypt hash is stored.
func (s *Server) RegisterClient(ctx context.Context, clientName, clientType string, redirectURIs []string, scopes []string, clientIP string) (*storage.Client, string, error) {
	if err := s.clientStore.CheckIPLimit(ctx, clientIP, s.Config.MaxClientsPerIP); err != nil {
		if errors.Is(err, storage.ErrRegistrationLimit) {
			s.Logger.Warn("Client registration rejected: IP limit reached", "client_ip", clientIP)
			return nil, "", invalidRequest("client registration limit reached")
		}
		return nil, "", fmt.Errorf("failed to check registration limit: %w", err)
	}

	if len(redirectURIs) == 0 {
		return nil, "", invalidRequest("at least one redirect_uri is required")
	}
	for _, uri := range redirectURIs {
		if err := validateRedirectURIForRegistration(uri, s.Config.Issuer); err != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      "client_registration_rejected",
				IPAddress: clientIP,
				Details: map[string]any{
					"reason": "redirect_uri_validation_failed",
					"error":  err.Error(),
				},
			})
			s.Logger.Warn("Client registration rejected: redirect URI validation failed",
				"error", err.Error(),
				"client_ip", clientIP)
			return nil, "", &Error{Code: ErrorCodeInvalidRedirectURI, Description: err.Error()}
		}
	}

	for _, scope := range scopes {
		if err := s.validateScopes(scope); err != nil {
			return nil, "", invalidScope("%s", err.Error())
		}
	}

	switch clientType {
	case "":
		clientType = ClientTypeConfidential
	case ClientTypeConfidential, ClientTypePublic:
	default:
		return nil, "", invalidRequest("unsupported client type: %s", clientType)
	}

	clientSecret, clientSecretHash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, "", err
	}

	client := &storage.Client{
		ClientID:         generateRandomToken(),
		ClientSecretHash: clientSecretHash,
		ClientType:       clientType,
		RedirectURIs:     redirectURIs,
		Scopes:           scopes,
		ClientName:       clientName,
		CreatedAt:        time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Auditor.LogClientRegistered(client.ClientID, client.ClientType, clientIP)
	s.Metrics.RecordClientRegistered(ctx, client.ClientType)
	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType,
		"client_ip", clientIP)

	return client, clientSecret, nil
}

// generateClientSecret generates and hashes a secret for confidential
// clients. Public clients get no secret.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// ValidateClientCredentials authenticates a client at the token endpoint.
// Public clients must present no secret; confidential clients must present
// the right one.
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		return invalidClient("unknown client")
	}

	if client.ClientType == ClientTypePublic {
		if clientSecret != "" {
			return invalidClient("public clients must not present a secret")
		}
		return nil
	}

	if clientSecret == "" {
		return invalidClient("client authentication required")
	}
	if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		return invalidClient("invalid client credentials")
	}
	return nil
}

// GetClient retrieves a client by ID for the HTTP layer.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}
