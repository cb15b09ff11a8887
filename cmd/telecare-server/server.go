package main

import (
	"context"
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

	"github.com/telecare/telecare/internal/config"
	"github.com/telecare/telecare/internal/domain/appointment"
	"github.com/telecare/telecare/internal/domain/profile"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/kv"
	"github.com/telecare/telecare/internal/platform/middleware"
	"github.com/telecare/telecare/internal/platform/telemetry"
)

const (
	serviceName = "telecare"
	version     = "0.1.0"

	// devSigningKey signs development-mode tokens when AUTH_SIGNING_KEY is unset.
	devSigningKey = "telecare-development-signing-key-0000"
)

// storeHandle is the opened record store plus what is needed to report on
// and close it.
type storeHandle struct {
	store   kv.Store
	backend string
	pool    *pgxpool.Pool
}

func (h *storeHandle) Close() {
	h.store.Close()
	if h.pool != nil {
		h.pool.Close()
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storeHandle, error) {
	backend := cfg.ResolvedStoreBackend()
	switch backend {
	case "memory":
		logger.Warn().Msg("using in-memory record store; data is lost on restart")
		return &storeHandle{store: kv.NewMemoryStore(), backend: backend}, nil

	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		return &storeHandle{store: kv.NewPostgresStore(pool), backend: backend, pool: pool}, nil

	case "redis":
		client, err := kv.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		st := kv.NewRedisStore(client, cfg.RedisNamespace)
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info().Str("namespace", cfg.RedisNamespace).Msg("connected to redis")
		return &storeHandle{store: st, backend: backend}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

func newRevocationList(st *storeHandle) *auth.RevocationList {
	return auth.NewRevocationList(st.store)
}

// app holds the wired services behind the HTTP server.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	st        *storeHandle
	metrics   *telemetry.Provider
	verifier  auth.Verifier
	accounts  profile.Accounts
	revoked   *auth.RevocationList
	profiles  *profile.Service
	bookings  *appointment.Service
	reconcile *appointment.Reconciler
}

func newApp(cfg *config.Config, logger zerolog.Logger, st *storeHandle) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		st:      st,
		metrics: telemetry.NewProvider(serviceName),
		revoked: newRevocationList(st),
	}

	if err := a.wireAuth(); err != nil {
		return nil, err
	}

	a.profiles = profile.NewService(profile.NewKVRepo(st.store, logger), logger, a.metrics)

	pricer, err := appointment.NewPricer(cfg.PricingPolicy, cfg.PricingMin, cfg.PricingMax)
	if err != nil {
		return nil, err
	}
	policy, err := appointment.PolicyFor(cfg.AppointmentStatusPolicy)
	if err != nil {
		return nil, err
	}
	a.bookings = appointment.NewService(
		appointment.NewKVRepo(st.store, logger), a.profiles, pricer, policy, logger, a.metrics)
	a.reconcile = appointment.NewReconciler(st.store, logger)
	return a, nil
}

// wireAuth picks the token verifier and account provider for the auth mode.
// Every verifier is wrapped so that logged-out tokens are refused.
func (a *app) wireAuth() error {
	cfg := a.cfg
	var verifier auth.Verifier

	switch mode := cfg.ResolvedAuthMode(); mode {
	case "development":
		key := cfg.AuthSigningKey
		if key == "" {
			key = devSigningKey
		}
		local := auth.NewLocalProvider(a.st.store, []byte(key), cfg.AuthTokenTTL)
		jv, err := auth.NewJWTVerifier(local.VerifierConfig())
		if err != nil {
			return err
		}
		a.accounts = local
		verifier = auth.ChainVerifier{jv, auth.DevVerifier{}}
		a.logger.Warn().Msg("development auth: any bearer token is accepted as a user id")

	case "standalone":
		local := auth.NewLocalProvider(a.st.store, []byte(cfg.AuthSigningKey), cfg.AuthTokenTTL)
		jv, err := auth.NewJWTVerifier(local.VerifierConfig())
		if err != nil {
			return err
		}
		a.accounts = local
		verifier = jv

	case "external":
		jv, err := auth.NewJWTVerifier(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
		if err != nil {
			return err
		}
		verifier = jv

	default:
		return fmt.Errorf("unknown auth mode %q", mode)
	}

	a.verifier = auth.RevokingVerifier{Next: verifier, List: a.revoked}
	return nil
}

func (a *app) newEcho() *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Operational endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/store", db.HealthHandler(a.st.store, a.st.backend, a.st.pool))
	e.GET("/metrics", a.metrics.PrometheusHandler())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimit := middleware.RateLimit(rateLimitCfg)

	api := e.Group(cfg.APIPrefix)
	public := api.Group("", rateLimit)
	protected := api.Group("", auth.RequireAuth(a.verifier), rateLimit, middleware.Audit(logger, a.auditMetrics()))

	profile.NewHandler(a.profiles, a.accounts, logger).RegisterRoutes(public, protected)
	appointment.NewHandler(a.bookings).RegisterRoutes(protected)
	protected.POST("/logout", auth.LogoutHandler(a.revoked))

	return e
}

// auditMetrics counts health record accesses by resource and action.
func (a *app) auditMetrics() middleware.AuditRecorder {
	return middleware.AuditRecorderFunc(func(e middleware.AuditEntry) error {
		a.metrics.DomainEvent("audit", e.Resource+"_"+e.Action)
		return nil
	})
}

// runMaintenance reconciles appointment indexes, purges expired revocations
// and publishes pool statistics until ctx is cancelled.
func (a *app) runMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.maintain(ctx)
		}
	}
}

func (a *app) maintain(ctx context.Context) {
	rep, err := a.reconcile.Run(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("appointment reconcile failed")
	} else if rep.OrphansRemoved+rep.StaleRemoved+rep.IndexesRestored > 0 {
		a.logger.Info().
			Int("orphans_removed", rep.OrphansRemoved).
			Int("stale_removed", rep.StaleRemoved).
			Int("indexes_restored", rep.IndexesRestored).
			Msg("appointment indexes repaired")
	}

	if n, err := a.revoked.Purge(ctx); err != nil {
		a.logger.Error().Err(err).Msg("revocation purge failed")
	} else if n > 0 {
		a.logger.Debug().Int("purged", n).Msg("expired revocations purged")
	}
}

func (a *app) publishPoolStats(ctx context.Context) {
	if a.st.pool == nil {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		stats := db.GetPoolStats(a.st.pool)
		a.metrics.SetPoolStats(stats.TotalConns, stats.IdleConns, stats.AcquiredConns)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runServer(autoMigrate bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open record store")
		return err
	}
	defer st.Close()

	if st.pool != nil && autoMigrate {
		n, err := db.NewMigrator(st.pool, migrationSource(cfg)).Up(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	a, err := newApp(cfg, logger, st)
	if err != nil {
		return err
	}
	e := a.newEcho()

	go a.publishPoolStats(ctx)
	if cfg.ReconcileInterval > 0 {
		go a.runMaintenance(ctx, cfg.ReconcileInterval)
		logger.Info().Dur("interval", cfg.ReconcileInterval).Msg("background maintenance enabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Graceful shutdown
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("store", st.backend).
			Str("auth", cfg.ResolvedAuthMode()).
			Str("prefix", cfg.APIPrefix).
			Msg("starting server")
		if err := e.StartServer(srv); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
