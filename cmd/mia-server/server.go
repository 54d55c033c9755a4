package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/config"
	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/domain/care"
	"github.com/mia/mia/internal/domain/children"
	"github.com/mia/mia/internal/domain/claims"
	"github.com/mia/mia/internal/domain/documents"
	"github.com/mia/mia/internal/domain/identity"
	"github.com/mia/mia/internal/domain/intake"
	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/platform/blobstore"
	"github.com/mia/mia/internal/platform/db"
	"github.com/mia/mia/internal/platform/events"
	"github.com/mia/mia/internal/platform/middleware"
	"github.com/mia/mia/internal/store"
)

const version = "0.1.0"

// deps carries everything newServer wires into the router.
type deps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *store.Store
	pinger   db.Pinger
	blobs    blobstore.BlobStore
	events   events.Publisher
	schema   *intake.Schema
	registry *intake.SessionRegistry
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "mia-server",
	}
}

// openStore returns the configured store. The pool is nil for the memory
// backend.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, *pgxpool.Pool, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, poolOptions(cfg))
		if err != nil {
			return nil, nil, err
		}
		return store.NewPGStore(pool, nil).Store(), pool, nil
	case config.BackendMemory, "":
		return store.NewMemoryStore(nil).Store(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func buildPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsKafka:
		return events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)), nil
	case config.EventsSQS:
		client, err := events.NewSQSClient(ctx)
		if err != nil {
			return nil, err
		}
		return events.NewSQSPublisher(ctx, client, cfg.SQSQueueName)
	case config.EventsLog, "":
		return events.NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
}

func buildBlobs(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BackendS3:
		client, err := blobstore.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return blobstore.NewS3BlobStore(client, cfg.S3Bucket), nil
	case config.BackendMemory, "":
		return blobstore.NewInMemoryBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func seedDemo(ctx context.Context, s *store.Store, logger zerolog.Logger) error {
	res, err := store.Seed(ctx, s, identity.HashPassword)
	if err != nil {
		return err
	}
	if res.Skipped {
		logger.Info().Msg("demo data already present")
		return nil
	}
	logger.Info().Str("child_id", res.ChildID).Str("claim_id", res.ClaimID).Msg("demo data seeded")
	return nil
}

func newServer(d deps) *echo.Echo {
	cfg := d.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(d.logger)

	issuer := auth.NewTokenIssuer([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, cfg.AuthTokenTTL)

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	if cfg.RateLimitBurst > 0 {
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(auth.JWTMiddleware(auth.JWTConfig{Issuer: issuer, Skipper: auth.AuthSkipper}))
	e.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	backend := cfg.StoreBackend
	if backend == "" {
		backend = config.BackendMemory
	}
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d.pinger, backend))

	guard := access.NewGuard(d.store)
	pipeline := intake.NewPipeline(d.store, d.schema, d.events, d.logger)

	api := e.Group("/api")
	identity.NewHandler(identity.NewService(d.store.Users, issuer, cfg.AllowRoleSwitch, d.logger)).RegisterRoutes(api)
	children.NewHandler(children.NewService(d.store.Children, guard, d.logger), guard).RegisterRoutes(api)
	intake.NewHandler(pipeline, d.registry, guard).RegisterRoutes(api)
	care.NewHandler(care.NewService(d.store, guard, d.logger), guard).RegisterRoutes(api)
	claims.NewHandler(claims.NewService(d.store, guard, d.events, d.logger), guard).RegisterRoutes(api)
	documents.NewHandler(documents.NewService(d.store, guard, d.blobs, d.events, d.logger), guard).RegisterRoutes(api)

	return e
}

// sweepSessions drops idle intake sessions until ctx is done.
func sweepSessions(ctx context.Context, registry *intake.SessionRegistry, ttl time.Duration, logger zerolog.Logger) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Sweep(ttl); n > 0 {
				logger.Info().Int("dropped", n).Msg("idle intake sessions swept")
			}
		}
	}
}
