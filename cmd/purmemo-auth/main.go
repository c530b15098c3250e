// Command purmemo-auth runs the OAuth 2.1 authorization server. It serves
// the public protocol endpoints on one listener and the trusted login
// completion endpoint on a separate internal listener.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	oauth "github.com/coladapo/purmemo-auth"
	"github.com/coladapo/purmemo-auth/instrumentation"
	"github.com/coladapo/purmemo-auth/security"
	"github.com/coladapo/purmemo-auth/server"
	"github.com/coladapo/purmemo-auth/storage"
	"github.com/coladapo/purmemo-auth/storage/memory"
	"github.com/coladapo/purmemo-auth/storage/postgres"
	"github.com/coladapo/purmemo-auth/token"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	cfg := configFromEnv(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "purmemo-auth",
		ServiceVersion: version,
		Enabled:        envBool("OTEL_ENABLED", false),
	})
	if err != nil {
		return fmt.Errorf("init instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	store, cleanup, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	signer, err := loadSigner(logger)
	if err != nil {
		return err
	}

	issuer, err := token.NewIssuer(signer, cfg.Issuer, cfg.Flow.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("init token issuer: %w", err)
	}

	srv, err := server.New(store, issuer, cfg.ServerConfig(), logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	srv.SetAuditor(security.NewAuditor(logger, cfg.Security.EnableAuditLogging))
	srv.SetMetrics(inst.Metrics())

	if cfg.RateLimit.Rate > 0 {
		rl := security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.RateLimit.MaxEntries, logger)
		defer rl.Stop()
		srv.SetRateLimiter(rl)
	}

	handler := oauth.NewHandler(srv, inst, logger)

	publicAddr := envString("LISTEN_ADDR", ":8080")
	internalAddr := envString("INTERNAL_LISTEN_ADDR", "127.0.0.1:8081")

	public := &http.Server{
		Addr:              publicAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	internal := &http.Server{
		Addr:              internalAddr,
		Handler:           handler.InternalRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Public listener starting", "addr", publicAddr, "issuer", cfg.Issuer)
		if err := public.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public listener: %w", err)
		}
	}()
	go func() {
		logger.Info("Internal listener starting", "addr", internalAddr)
		if err := internal.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("internal listener: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := public.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Public listener shutdown failed", "error", err)
	}
	if err := internal.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Internal listener shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func configFromEnv(logger *slog.Logger) *oauth.Config {
	return &oauth.Config{
		Issuer:          envString("ISSUER", "http://localhost:8080"),
		LoginURL:        envString("LOGIN_URL", "http://localhost:3000/login"),
		SupportedScopes: splitNonEmpty(os.Getenv("SUPPORTED_SCOPES")),
		Flow: oauth.FlowConfig{
			SessionTTL:           envDuration("SESSION_TTL", 10*time.Minute),
			AuthorizationCodeTTL: envDuration("AUTHORIZATION_CODE_TTL", 10*time.Minute),
			AccessTokenTTL:       envDuration("ACCESS_TOKEN_TTL", time.Hour),
			RefreshTokenTTL:      envDuration("REFRESH_TOKEN_TTL", 90*24*time.Hour),
		},
		RateLimit: oauth.RateLimitConfig{
			Rate:  envInt("RATE_LIMIT_RPS", 10),
			Burst: envInt("RATE_LIMIT_BURST", 20),
		},
		Security: oauth.SecurityConfig{
			AllowPublicClientRegistration: envBool("ALLOW_PUBLIC_CLIENT_REGISTRATION", false),
			RegistrationAccessToken:       os.Getenv("REGISTRATION_ACCESS_TOKEN"),
			MaxClientsPerIP:               envInt("MAX_CLIENTS_PER_IP", 10),
			AllowInsecureHTTP:             envBool("ALLOW_INSECURE_HTTP", false),
			EnableAuditLogging:            envBool("ENABLE_AUDIT_LOGGING", true),
		},
		Logger: logger,
	}
}

// openStore selects the storage backend: postgres when DATABASE_URL is set,
// in-memory otherwise. The memory backend is for development only; protocol
// state must be shared across instances in production.
func openStore(ctx context.Context, logger *slog.Logger) (storage.Store, func(), error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := postgres.New(ctx, dsn, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("migrate postgres schema: %w", err)
		}
		logger.Info("Using postgres storage")
		return pg, pg.Close, nil
	}

	logger.Warn("Using in-memory storage",
		"impact", "Protocol state is process-local; do not run more than one instance")
	mem := memory.New()
	mem.SetLogger(logger)
	return mem, mem.Stop, nil
}

// loadSigner loads the ES256 signing key from SIGNING_KEY_PATH (PEM, EC
// private key). Without a path a fresh key is generated; tokens then become
// invalid on restart.
func loadSigner(logger *slog.Logger) (token.Signer, error) {
	path := os.Getenv("SIGNING_KEY_PATH")
	if path == "" {
		logger.Warn("SIGNING_KEY_PATH not set, generating an ephemeral signing key",
			"impact", "Issued access tokens will not survive a restart")
		signer, err := token.GenerateES256Signer()
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		return signer, nil
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("signing key file %s contains no PEM block", path)
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			key, ok = parsed.(*ecdsa.PrivateKey)
			if !ok {
				err = fmt.Errorf("not an ECDSA key")
			}
		}
	default:
		err = fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	signer, err := token.NewES256Signer(key)
	if err != nil {
		return nil, fmt.Errorf("init signer: %w", err)
	}
	return signer, nil
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
