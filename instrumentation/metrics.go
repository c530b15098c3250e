package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments for the authorization server.
type Metrics struct {
	// HTTP layer.
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// OAuth flow counters.
	authorizationsStarted metric.Int64Counter
	sessionsCompleted     metric.Int64Counter
	codesExchanged        metric.Int64Counter
	tokensRefreshed       metric.Int64Counter
	tokensRevoked         metric.Int64Counter
	clientsRegistered     metric.Int64Counter

	// Security signals.
	pkceFailures       metric.Int64Counter
	codeReuseDetected  metric.Int64Counter
	tokenReuseDetected metric.Int64Counter
	rateLimitExceeded  metric.Int64Counter
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")

	m := &Metrics{}
	var err error

	m.httpRequestsTotal, err = httpMeter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total HTTP requests processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.httpRequestDuration, err = httpMeter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration_seconds: %w", err)
	}

	m.authorizationsStarted, err = serverMeter.Int64Counter(
		"oauth_authorizations_started_total",
		metric.WithDescription("Authorization requests that created a session"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_authorizations_started_total: %w", err)
	}

	m.sessionsCompleted, err = serverMeter.Int64Counter(
		"oauth_sessions_completed_total",
		metric.WithDescription("Sessions completed by the login collaborator"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_sessions_completed_total: %w", err)
	}

	m.codesExchanged, err = serverMeter.Int64Counter(
		"oauth_codes_exchanged_total",
		metric.WithDescription("Authorization codes exchanged for tokens"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_codes_exchanged_total: %w", err)
	}

	m.tokensRefreshed, err = serverMeter.Int64Counter(
		"oauth_tokens_refreshed_total",
		metric.WithDescription("Successful refresh-token rotations"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_tokens_refreshed_total: %w", err)
	}

	m.tokensRevoked, err = serverMeter.Int64Counter(
		"oauth_tokens_revoked_total",
		metric.WithDescription("Tokens revoked through the revocation endpoint"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_tokens_revoked_total: %w", err)
	}

	m.clientsRegistered, err = serverMeter.Int64Counter(
		"oauth_clients_registered_total",
		metric.WithDescription("Clients registered dynamically"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_clients_registered_total: %w", err)
	}

	m.pkceFailures, err = serverMeter.Int64Counter(
		"oauth_pkce_failures_total",
		metric.WithDescription("Token exchanges rejected by PKCE verification"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_pkce_failures_total: %w", err)
	}

	m.codeReuseDetected, err = serverMeter.Int64Counter(
		"oauth_code_reuse_detected_total",
		metric.WithDescription("Replays of consumed authorization codes"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_code_reuse_detected_total: %w", err)
	}

	m.tokenReuseDetected, err = serverMeter.Int64Counter(
		"oauth_token_reuse_detected_total",
		metric.WithDescription("Replays of rotated refresh tokens"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_token_reuse_detected_total: %w", err)
	}

	m.rateLimitExceeded, err = serverMeter.Int64Counter(
		"oauth_rate_limit_exceeded_total",
		metric.WithDescription("Requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oauth_rate_limit_exceeded_total: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSeconds, attrs)
}

// RecordAuthorizationStarted records a new authorization session.
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.authorizationsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordSessionCompleted records a login completion.
func (m *Metrics) RecordSessionCompleted(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.sessionsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchanged records a successful code-for-token exchange.
func (m *Metrics) RecordCodeExchanged(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.codesExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenRefreshed records a successful rotation.
func (m *Metrics) RecordTokenRefreshed(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.tokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenRevoked records a revocation.
func (m *Metrics) RecordTokenRevoked(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.tokensRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordClientRegistered records a dynamic registration.
func (m *Metrics) RecordClientRegistered(ctx context.Context, clientType string) {
	if m == nil {
		return
	}
	m.clientsRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordPKCEFailure records a failed verifier check.
func (m *Metrics) RecordPKCEFailure(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.pkceFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeReuse records a consumed-code replay.
func (m *Metrics) RecordCodeReuse(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.codeReuseDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenReuse records a rotated-token replay.
func (m *Metrics) RecordTokenReuse(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.tokenReuseDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordRateLimitExceeded records a rate-limited request.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}
