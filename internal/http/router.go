// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Routes are private unless listed as public
//   - Deterministic router setup; all dependencies injected through Deps
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/bookworm-backend/docs"
	"github.com/tbourn/bookworm-backend/internal/ai"
	"github.com/tbourn/bookworm-backend/internal/auth"
	"github.com/tbourn/bookworm-backend/internal/config"
	"github.com/tbourn/bookworm-backend/internal/domain"
	"github.com/tbourn/bookworm-backend/internal/http/handlers"
	"github.com/tbourn/bookworm-backend/internal/http/middleware"
	"github.com/tbourn/bookworm-backend/internal/repo"
	"github.com/tbourn/bookworm-backend/internal/services"
)

// jsonBodyLimit caps every JSON request body.
const jsonBodyLimit = 1 << 20

// Deps are the collaborators the routes are built from.
type Deps struct {
	DB        *gorm.DB
	Model     ai.Model
	Extractor services.TextExtractor
	Uploads   handlers.Uploads
	Tokens    *auth.TokenIssuer
	Hasher    *auth.PasswordHasher

	// Archiver is optional. Leave it nil (not a typed nil) to keep uploads local.
	Archiver services.Archiver
	// AILimiter is optional. When set, /ai routes share a per-user window quota.
	AILimiter middleware.WindowLimiter
}

// userRepoShim adapts the repository free functions to services.UserRepo.
type userRepoShim struct{}

// CreateUser proxies repo.CreateUser.
func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, email, passwordHash string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, email, passwordHash)
}

// FindUserByEmail proxies repo.FindUserByEmail.
func (userRepoShim) FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.FindUserByEmail(ctx, db, email)
}

// chatStoreShim adapts the repository free functions to services.ChatStore.
// This keeps services decoupled from the concrete repo package while reusing
// existing functions.
type chatStoreShim struct{}

// CreateChatWithMessages proxies repo.CreateChatWithMessages.
func (chatStoreShim) CreateChatWithMessages(ctx context.Context, db *gorm.DB, chat *domain.Chat) error {
	return repo.CreateChatWithMessages(ctx, db, chat)
}

// ListChats proxies repo.ListChats.
func (chatStoreShim) ListChats(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Chat, error) {
	return repo.ListChats(ctx, db, userID)
}

// GetChat proxies repo.GetChat.
func (chatStoreShim) GetChat(ctx context.Context, db *gorm.DB, id, userID uint) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}

// ListChatMessages proxies repo.ListChatMessages.
func (chatStoreShim) ListChatMessages(ctx context.Context, db *gorm.DB, chatID, userID uint) ([]domain.Message, error) {
	return repo.ListChatMessages(ctx, db, chatID, userID)
}

// AppendTurn proxies repo.AppendTurn.
func (chatStoreShim) AppendTurn(ctx context.Context, db *gorm.DB, chatID uint, userMsg, modelMsg *domain.Message) error {
	return repo.AppendTurn(ctx, db, chatID, userMsg, modelMsg)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), CORS and security headers,
// authentication, idempotency and rate limiting, health, metrics and docs
// endpoints, and the /auth and /ai groups under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Gzip and metrics
//  6. CORS and security headers (preflights never reach auth)
//  7. Authenticate: buckets below are keyed per user
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. The shared model quota on /ai, then per-route body limits
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
		SkipPaths:   []string{"/health", "/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Compression and Prometheus metrics
	if cfg.EnableGzip {
		r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	}
	r.Use(middleware.Metrics())

	// 6) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers; tokens and chats are never cached unless a handler
	// opts into ETag revalidation
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		CacheControl:  "no-store",
		EnablePolicy:  true,
		ExposeHeaders: []string{"ETag", handlers.HeaderReplayed},
	}))

	// 7) Bearer authentication; everything else is private
	apiBase := cfg.APIBasePath // e.g. "/" or "/api"
	r.Use(middleware.Authenticate(deps.Tokens,
		routePath(apiBase, "/auth/signup"),
		routePath(apiBase, "/auth/login"),
		"/health",
		"/metrics",
		"/docs/*any",
	))

	// 8) Idempotency validation (before rate limiting)
	db := deps.DB
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, chatID uint, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, chatID, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return rec != nil, err
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health, metrics and docs
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/model
	authSvc := services.NewAuthService(db, userRepoShim{}, deps.Hasher, deps.Tokens)
	aiSvc := &services.AIService{
		DB:              db,
		Store:           chatStoreShim{},
		Model:           deps.Model,
		Extractor:       deps.Extractor,
		Archiver:        deps.Archiver,
		MaxOutputTokens: int32(cfg.Gemini.MaxOutputTokens),
		MaxTextRunes:    cfg.MaxMessageRunes,
	}

	h := handlers.New(authSvc, aiSvc, deps.Uploads)
	h.DB = db
	h.IdempotencyTTL = cfg.IdempotencyTTL
	h.MaxUploadBytes = cfg.Storage.MaxUploadBytes

	api := groupWithPrefix(r, apiBase)
	{
		// Auth
		authGroup := api.Group("/auth", limitBody(jsonBodyLimit))
		authGroup.POST("/signup", h.SignUp)
		authGroup.POST("/login", h.Login)

		// AI
		// Only the routes that call the model count against the window quota
		modelCall := func(hs ...gin.HandlerFunc) []gin.HandlerFunc {
			if deps.AILimiter == nil {
				return hs
			}
			quota := middleware.WindowLimit(deps.AILimiter, int(cfg.Redis.AIRateWindow.Seconds()), middleware.KeyByUserOrIP())
			return append([]gin.HandlerFunc{quota}, hs...)
		}
		aiGroup := api.Group("/ai")
		aiGroup.POST("/summarize-file", modelCall(limitBody(cfg.Storage.MaxUploadBytes+jsonBodyLimit), h.SummarizeFile)...)
		aiGroup.GET("/chats", h.GetChats)
		aiGroup.GET("/chats/:id", h.GetChat)
		aiGroup.POST("/chats/:id/send-message", modelCall(limitBody(jsonBodyLimit), h.SendMessage)...)
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// routePath is the full route pattern of p mounted under prefix, as gin
// reports it through FullPath.
func routePath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return prefix + p
}
