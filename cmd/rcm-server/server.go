package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/config"
	"github.com/rcm/rcm/internal/domain/access"
	"github.com/rcm/rcm/internal/platform/audit"
	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/authz"
	"github.com/rcm/rcm/internal/platform/db"
	"github.com/rcm/rcm/internal/platform/hipaa"
	"github.com/rcm/rcm/internal/platform/masking"
	"github.com/rcm/rcm/internal/platform/metrics"
	"github.com/rcm/rcm/internal/platform/middleware"
	"github.com/rcm/rcm/internal/platform/rbac"
)

const shutdownTimeout = 10 * time.Second

// repositories holds the storage backends. Without DATABASE_URL they are
// in-memory and pool is nil.
type repositories struct {
	pool  *pgxpool.Pool
	rbac  rbac.Repository
	audit audit.Repository
}

func openRepositories(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*repositories, error) {
	if !cfg.UsesDatabase() {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory repositories")
		return &repositories{
			rbac:  rbac.NewMemoryRepository(),
			audit: audit.NewMemoryRepository(),
		}, nil
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")
	return &repositories{
		pool:  pool,
		rbac:  rbac.NewRepository(pool),
		audit: audit.NewRepository(pool),
	}, nil
}

func (r *repositories) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func newKeyStore(cfg *config.Config, logger zerolog.Logger) (*hipaa.KeyStore, error) {
	var logical hipaa.VaultLogical
	if cfg.VaultAddr != "" {
		client, err := hipaa.NewVaultClient(cfg.VaultAddr, cfg.VaultToken)
		if err != nil {
			return nil, err
		}
		logical = client.Logical()
	}
	return hipaa.NewKeyStore(logical, cfg.EncryptionAlgorithm, logger), nil
}

func auditFileConfig(cfg *config.Config) audit.FileConfig {
	return audit.FileConfig{
		Path:       cfg.AuditLogFile,
		MaxSizeMB:  cfg.AuditLogMaxSizeMB,
		MaxBackups: cfg.AuditLogMaxBackups,
		MaxAgeDays: cfg.AuditLogMaxAgeDays,
		Compress:   true,
	}
}

// app is the fully wired HTTP server.
type app struct {
	echo   *echo.Echo
	rbac   *rbac.Manager
	repos  *repositories
	audit  *audit.Logger
	redis  *rbac.RedisInvalidator
	logger zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.repos, err = openRepositories(ctx, cfg, logger); err != nil {
		return nil, err
	}

	var inv rbac.Invalidator = rbac.NopInvalidator{}
	if cfg.RedisURL != "" {
		if a.redis, err = rbac.NewRedisInvalidator(ctx, cfg.RedisURL, logger); err != nil {
			return nil, err
		}
		inv = a.redis
		logger.Info().Msg("rbac cache invalidation over redis enabled")
	}

	a.rbac = rbac.NewManager(a.repos.rbac, inv, logger)
	if err = a.rbac.Initialize(ctx); err != nil {
		return nil, err
	}
	authzMgr := authz.NewManager(a.rbac, logger)

	masker := masking.NewEngine(masking.DefaultRuleSet())
	a.audit = audit.NewLogger(a.repos.audit, masker, auditFileConfig(cfg), logger)

	store, err := newKeyStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	ring, err := hipaa.OpenKeyRing(ctx, store, hipaa.KeyRingConfig{
		Source:         cfg.EncryptionKeySource,
		Version:        cfg.EncryptionKeyVer,
		AllowEphemeral: cfg.IsDev(),
	}, logger)
	if err != nil {
		return nil, err
	}
	compliance := hipaa.NewComplianceManager(hipaa.ComplianceDeps{
		Keys:      ring,
		Authz:     authzMgr,
		Audit:     a.audit,
		AuditRepo: a.repos.audit,
		Masker:    masker,
	}, logger)

	metrics.Register()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.ComplianceBodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.Audit(a.audit))

	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: unauthenticated requests run as administrator")
		e.Use(auth.DevAuthMiddleware(jwtCfg, a.rbac, logger))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg, a.rbac, logger))
	}

	var checks []db.Check
	if a.redis != nil {
		checks = append(checks, db.Check{Name: "redis", Ping: a.redis.Ping})
	}
	e.GET("/health", db.HealthHandler(a.repos.pool, checks...))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rl))
	if a.repos.pool != nil {
		apiV1.Use(db.Transaction(a.repos.pool, logger))
	}

	access.NewHandler(access.NewService(a.rbac, authzMgr, a.audit, logger), authzMgr).RegisterRoutes(apiV1)
	audit.NewHandler(a.repos.audit, a.audit, authzMgr).RegisterRoutes(apiV1)
	hipaa.NewHandler(compliance, authzMgr).RegisterRoutes(apiV1)

	a.echo = e
	return a, nil
}

// Watch applies remote RBAC invalidations until ctx is done.
func (a *app) Watch(ctx context.Context) {
	if err := a.rbac.Watch(ctx); err != nil {
		a.logger.Error().Err(err).Msg("rbac invalidation watcher stopped")
	}
}

func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Error().Err(err).Msg("failed to close audit file")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.repos != nil {
		a.repos.Close()
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer a.Close()
	go a.Watch(ctx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = a.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = a.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
