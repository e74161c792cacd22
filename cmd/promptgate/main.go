package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/promptgate/internal/config"
	dbRedis "github.com/kailas-cloud/promptgate/internal/db/redis"
	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/account"
	"github.com/kailas-cloud/promptgate/internal/domain/plan"
	logpkg "github.com/kailas-cloud/promptgate/internal/logger"
	"github.com/kailas-cloud/promptgate/internal/metrics"
	ledgerrepo "github.com/kailas-cloud/promptgate/internal/repository/ledger"
	chiTransport "github.com/kailas-cloud/promptgate/internal/transport/chi"
	"github.com/kailas-cloud/promptgate/internal/transport/upstream"
	admissionuc "github.com/kailas-cloud/promptgate/internal/usecase/admission"
	healthuc "github.com/kailas-cloud/promptgate/internal/usecase/health"
	relayuc "github.com/kailas-cloud/promptgate/internal/usecase/relay"
	usageuc "github.com/kailas-cloud/promptgate/internal/usecase/usage"
	"github.com/kailas-cloud/promptgate/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting promptgate API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create ledger store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Ledger store not ready", zap.Error(err))
	}
	logger.Info("Connected to ledger store")

	// Register relay metrics explicitly (no init())
	metrics.RegisterRelayMetrics()

	// Quota rollover timezone; empty means process-local midnight.
	loc := time.Local
	if cfg.Quota.ResetTimezone != "" {
		loc, err = time.LoadLocation(cfg.Quota.ResetTimezone)
		if err != nil {
			logger.Fatal("Invalid quota.reset_timezone", zap.Error(err))
		}
	}

	catalog := plan.NewCatalog()
	ledger := ledgerrepo.New(store, cfg.Database.KeyPrefix)
	clock := domain.RealClock{}

	admissionSvc := admissionuc.New(ledger, catalog, clock, loc, cfg.Quota.UpgradeURL)
	relaySvc := relayuc.New(ledger, 2*time.Second, logger)
	usageSvc := usageuc.New(admissionSvc, catalog, clock, loc)
	healthSvc := healthuc.New(store)

	providers := buildProviders(cfg, logger)
	logger.Info("Providers configured", zap.Int("count", len(cfg.Providers)))

	server := chiTransport.NewServer(admissionSvc, relaySvc, usageSvc, healthSvc, providers, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.CORSMiddleware(cfg.CORS.AllowedOrigin))
	r.Use(chiTransport.BearerAuthMiddleware(newAuthenticator(cfg)))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		// No write timeout: responses are unbounded event streams.
		WriteTimeout: 0,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildProviders assembles the upstream adapter registry from config.
func buildProviders(cfg config.Config, logger *zap.Logger) upstream.Registry {
	var providers []upstream.Provider
	for name, pc := range cfg.Providers {
		timeout := time.Duration(pc.TimeoutSec) * time.Second
		switch name {
		case "openai":
			providers = append(providers, upstream.NewOpenAI(upstream.OpenAIConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Timeout: timeout,
				Logger:  logger,
			}))
		case "anthropic":
			providers = append(providers, upstream.NewAnthropic(upstream.AnthropicConfig{
				APIKey:     pc.APIKey,
				BaseURL:    pc.BaseURL,
				APIVersion: pc.APIVersion,
				Timeout:    timeout,
				Logger:     logger,
			}))
		default:
			logger.Fatal("Unknown provider in config", zap.String("provider", name))
		}
	}
	return upstream.NewRegistry(providers...)
}

// newAuthenticator builds the static token->account table from config.
func newAuthenticator(cfg config.Config) *chiTransport.StaticAuthenticator {
	credentials := make(map[string]account.Account, len(cfg.Auth.Credentials))
	for _, c := range cfg.Auth.Credentials {
		credentials[c.Token] = account.Account{ID: c.AccountID, Email: c.Email}
	}
	return chiTransport.NewStaticAuthenticator(credentials)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
