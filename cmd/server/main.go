// Command server runs the Book Worm HTTP API.
//
// @title                      Book Worm API
// @version                    1.0
// @description                Summarize PDF documents and chat about them with a generative model.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the access token.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/bookworm-backend/internal/ai"
	"github.com/tbourn/bookworm-backend/internal/auth"
	"github.com/tbourn/bookworm-backend/internal/config"
	httpapi "github.com/tbourn/bookworm-backend/internal/http"
	"github.com/tbourn/bookworm-backend/internal/observability"
	"github.com/tbourn/bookworm-backend/internal/pdftext"
	"github.com/tbourn/bookworm-backend/internal/ratelimit"
	"github.com/tbourn/bookworm-backend/internal/repo"
	"github.com/tbourn/bookworm-backend/internal/storage"
	"github.com/tbourn/bookworm-backend/internal/sysutil"
)

const (
	shutdownTimeout = 15 * time.Second
	idemSweepEvery  = time.Hour
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), "dev"))
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if cfg.DB.Synchronize {
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
	}

	go repo.SweepIdempotency(ctx, db, idemSweepEvery)

	gemini, err := ai.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		log.Fatal().Err(err).Msg("gemini client")
	}
	defer gemini.Close()

	uploads, err := storage.NewLocalStore(cfg.Storage.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Storage.UploadDir).Msg("upload dir")
	}

	deps := httpapi.Deps{
		DB:        db,
		Model:     ai.Instrument(gemini),
		Extractor: pdftext.New(),
		Uploads:   uploads,
		Tokens:    auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Hasher:    auth.NewPasswordHasher(),
	}

	if cfg.Storage.MinioEndpoint != "" {
		arch, err := storage.NewMinioArchiver(ctx, cfg.Storage.MinioEndpoint, cfg.Storage.MinioAccessKey,
			cfg.Storage.MinioSecretKey, cfg.Storage.MinioBucket, cfg.Storage.MinioUseSSL)
		if err != nil {
			log.Fatal().Err(err).Str("endpoint", cfg.Storage.MinioEndpoint).Msg("minio archiver")
		}
		deps.Archiver = arch
	}

	if cfg.Redis.Addr != "" {
		lim, err := ratelimit.NewFixedWindowLimiter(cfg.Redis.Addr, cfg.Redis.Password, "bookworm:ai",
			cfg.Redis.AIRateLimit, cfg.Redis.AIRateWindow)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis limiter")
		}
		defer lim.Close()
		deps.AILimiter = lim
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown")
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
