package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes the security audit trail through slog with hashed PII.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event is a security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event. User IDs are hashed before logging.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthFailure logs a failed authorization or token request.
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogSessionCompleted logs the login UI completing an authorization session.
func (a *Auditor) LogSessionCompleted(userID, clientID string) {
	a.LogEvent(Event{
		Type:     "session_completed",
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogTokenIssued logs issuance of an access/refresh token pair.
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scope": scope},
	})
}

// LogTokenRotated logs a successful refresh-token rotation.
func (a *Auditor) LogTokenRotated(userID, clientID string, generation int) {
	a.LogEvent(Event{
		Type:     "token_rotated",
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"generation": generation},
	})
}

// LogTokenReuse logs replay of an already-rotated refresh token. This is the
// signal that a token was stolen and the chain has been revoked.
func (a *Auditor) LogTokenReuse(userID, clientID, familyID string) {
	a.LogEvent(Event{
		Type:     "refresh_token_reuse_detected",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"severity":  "critical",
			"family_id": hashForLogging(familyID),
			"action":    "family_revoked",
		},
	})
}

// LogCodeReuse logs a second exchange attempt for a consumed code.
func (a *Auditor) LogCodeReuse(userID, clientID string) {
	a.LogEvent(Event{
		Type:     "authorization_code_reuse_detected",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"severity": "critical",
			"action":   "user_client_tokens_revoked",
		},
	})
}

// LogTokenRevoked logs an explicit revocation request.
func (a *Auditor) LogTokenRevoked(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "token_revoked",
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
		Details:   map[string]any{"endpoint": endpoint},
	})
}

// LogClientRegistered logs dynamic registration of a new client.
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      "client_registered",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"client_type": clientType},
	})
}

// hashForLogging hashes sensitive identifiers so the audit trail carries no
// raw PII.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
