package server

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestApplySecureDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := applySecureDefaults(&Config{}, logger)

	if cfg.SessionTTL != 600 {
		t.Errorf("SessionTTL = %d, want 600", cfg.SessionTTL)
	}
	if cfg.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", cfg.AuthorizationCodeTTL)
	}
	if cfg.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7776000 {
		t.Errorf("RefreshTokenTTL = %d, want 7776000", cfg.RefreshTokenTTL)
	}
	if cfg.MaxClientsPerIP != 10 {
		t.Errorf("MaxClientsPerIP = %d, want 10", cfg.MaxClientsPerIP)
	}
	if cfg.MinStateLength != 8 {
		t.Errorf("MinStateLength = %d, want 8", cfg.MinStateLength)
	}
	if cfg.ClockSkewGracePeriod != 5 {
		t.Errorf("ClockSkewGracePeriod = %d, want 5", cfg.ClockSkewGracePeriod)
	}

	// Explicit values survive.
	cfg = applySecureDefaults(&Config{SessionTTL: 60, MaxClientsPerIP: 3}, logger)
	if cfg.SessionTTL != 60 {
		t.Errorf("explicit SessionTTL = %d, want 60", cfg.SessionTTL)
	}
	if cfg.MaxClientsPerIP != 3 {
		t.Errorf("explicit MaxClientsPerIP = %d, want 3", cfg.MaxClientsPerIP)
	}
}

func TestConfigLifetimes(t *testing.T) {
	cfg := &Config{
		SessionTTL:           600,
		AuthorizationCodeTTL: 300,
		AccessTokenTTL:       3600,
		RefreshTokenTTL:      86400,
	}

	if got := cfg.SessionLifetime(); got != 10*time.Minute {
		t.Errorf("SessionLifetime() = %v, want 10m", got)
	}
	if got := cfg.CodeLifetime(); got != 5*time.Minute {
		t.Errorf("CodeLifetime() = %v, want 5m", got)
	}
	if got := cfg.AccessTokenLifetime(); got != time.Hour {
		t.Errorf("AccessTokenLifetime() = %v, want 1h", got)
	}
	if got := cfg.RefreshTokenLifetime(); got != 24*time.Hour {
		t.Errorf("RefreshTokenLifetime() = %v, want 24h", got)
	}
}

func TestNewServerValidation(t *testing.T) {
	srv, store := newTestServer(t)
	logger := srv.Logger
	issuer := srv.Issuer()

	if _, err := New(nil, issuer, &Config{LoginURL: "x"}, logger); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(store, nil, &Config{LoginURL: "x"}, logger); err == nil {
		t.Error("expected error for nil issuer")
	}
	if _, err := New(store, issuer, &Config{Issuer: "https://auth.example.com"}, logger); err == nil {
		t.Error("expected error for missing login URL")
	}
	if _, err := New(store, issuer, &Config{Issuer: "http://auth.example.com", LoginURL: "x"}, logger); err == nil {
		t.Error("expected error for plain HTTP issuer outside localhost")
	}
}
