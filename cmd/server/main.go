// Server runs the session lifecycle HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"session-lifecycle/backend/internal/audit"
	audithandler "session-lifecycle/backend/internal/audit/handler"
	auditrepo "session-lifecycle/backend/internal/audit/repository"
	"session-lifecycle/backend/internal/cache"
	"session-lifecycle/backend/internal/config"
	"session-lifecycle/backend/internal/db"
	healthhandler "session-lifecycle/backend/internal/health/handler"
	identityhandler "session-lifecycle/backend/internal/identity/handler"
	identityrepo "session-lifecycle/backend/internal/identity/repository"
	identityservice "session-lifecycle/backend/internal/identity/service"
	"session-lifecycle/backend/internal/logging"
	"session-lifecycle/backend/internal/metrics"
	"session-lifecycle/backend/internal/security"
	"session-lifecycle/backend/internal/server"
	"session-lifecycle/backend/internal/server/middleware"
	"session-lifecycle/backend/internal/session/cleanup"
	sessionhandler "session-lifecycle/backend/internal/session/handler"
	sessionrepo "session-lifecycle/backend/internal/session/repository"
	sessionservice "session-lifecycle/backend/internal/session/service"
	"session-lifecycle/backend/internal/telemetry"
	telemetryotel "session-lifecycle/backend/internal/telemetry/otel"
	userrepo "session-lifecycle/backend/internal/user/repository"
)

const (
	serviceName     = "session-lifecycle"
	shutdownTimeout = 15 * time.Second
	healthInterval  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration+5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", "error", err)
		}
	}()
	m := metrics.New()

	var (
		users      identityservice.UserRepo
		identities identityservice.IdentityRepo
		sessRepo   sessionrepo.Repository
		auditLogs  auditrepo.Repository
		database   *sql.DB
	)
	if cfg.DatabaseURL != "" {
		database, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		users = userrepo.NewPostgresRepository(database)
		identities = identityrepo.NewPostgresRepository(database)
		sessRepo = sessionrepo.NewPostgresRepository(database)
		auditLogs = auditrepo.NewPostgresRepository(database)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		users = userrepo.NewMemoryRepository()
		identities = identityrepo.NewMemoryRepository()
		sessRepo = sessionrepo.NewMemoryRepository()
		auditLogs = auditrepo.NewMemoryRepository()
	}
	emitter := telemetry.Multi(
		telemetryotel.NewEventEmitter(providers.LoggerProvider),
		audit.NewLogger(auditLogs),
	)

	tiered := newCache(ctx, cfg, logger, m)

	sessions := sessionservice.NewService(sessRepo, tiered,
		sessionservice.WithCacheCeiling(cfg.SessionCacheCeiling()),
		sessionservice.WithStoreTimeout(cfg.SessionStoreTimeout()),
		sessionservice.WithMetrics(m),
		sessionservice.WithLogger(logger),
	)

	tokens, err := newTokenIssuer(cfg)
	if err != nil {
		return err
	}
	auth := identityservice.NewAuthService(users, identities, sessions,
		security.NewPasswordHasher(cfg.BcryptCost), tokens,
		identityservice.WithUserCache(tiered),
		identityservice.WithTracer(providers.Tracer("session-lifecycle/identity")),
		identityservice.WithEventEmitter(emitter),
		identityservice.WithMetrics(m),
		identityservice.WithLogger(logger),
	)

	var checker *healthhandler.Checker
	if database != nil {
		checker = healthhandler.NewChecker(database)
	} else {
		checker = healthhandler.NewChecker(nil)
	}

	router := server.NewRouter(server.Deps{
		Auth:     identityhandler.NewAuthHandler(auth, middleware.Cookies{Secure: cfg.IsProduction()}, logger),
		Sessions: sessionhandler.NewSessionHandler(sessions, logger),
		Audit:    audithandler.NewAuditHandler(auditLogs, logger),
		Verifier: auth,
		Health:   checker,
		Metrics:  m.Handler(),
		Logger:   logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	cleanup.NewWorker(sessions, tiered.Local(), cfg.CleanupEvery(), logger).Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	grpcSrv, hs := server.NewGRPCServer()
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return err
		}
		go healthhandler.Watch(ctx, hs, checker, healthInterval, logger)
		go func() {
			logger.Info("grpc health server listening", "addr", cfg.GRPCHealthAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("listener failed", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hs.Shutdown()
	grpcSrv.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	tiered.Clear()
	// Let in-flight security events reach the exporter before providers shut down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	return nil
}

func newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *cache.Tiered {
	return cache.Dial(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB, logger,
		cache.WithMetrics(m),
		cache.WithDefaultTTL(cfg.DefaultCacheTTL()),
		cache.WithRemoteTimeout(cfg.RemoteCacheTimeout()),
	)
}

func newTokenIssuer(cfg *config.Config) (*security.TokenIssuer, error) {
	accessKey, err := security.LoadSigningKey(cfg.JWTAccessSecret, cfg.JWTAccessPrivateKey, cfg.JWTAccessPublicKey)
	if err != nil {
		return nil, err
	}
	refreshKey, err := security.LoadSigningKey(cfg.JWTRefreshSecret, cfg.JWTRefreshPrivateKey, cfg.JWTRefreshPublicKey)
	if err != nil {
		return nil, err
	}
	return security.NewTokenIssuer(security.IssuerConfig{
		Issuer:     cfg.JWTIssuer,
		AccessKey:  accessKey,
		RefreshKey: refreshKey,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	})
}
