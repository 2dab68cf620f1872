// Package config loads the server settings from environment variables.
// Every variable has a default except JWT_SECRET.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "bookworm-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and parameterizes the relational store.
//
// Driver "sqlite" uses Path; driver "postgres" uses URL when set, otherwise a
// DSN assembled from Host/Port/User/Password/Name.
type DBConfig struct {
	Driver      string // DB_DRIVER: sqlite|postgres
	Path        string // DB_PATH (sqlite)
	URL         string // DATABASE_URL (postgres)
	Host        string // DB_HOST
	Port        int    // DB_PORT
	User        string // DB_USER
	Password    string // DB_PASS
	Name        string // DB_NAME
	Synchronize bool   // DB_SYNCHRONIZE: run schema migrations at startup
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret string        // JWT_SECRET (required)
	TokenTTL  time.Duration // JWT_TTL
}

// GeminiConfig configures the generative model client.
type GeminiConfig struct {
	APIKey          string // GEMINI_API_KEY
	Model           string // GEMINI_MODEL
	MaxOutputTokens int    // MAX_OUTPUT_TOKENS
}

// StorageConfig configures where uploaded files are kept.
type StorageConfig struct {
	UploadDir      string // UPLOAD_DIR
	MaxUploadBytes int64  // MAX_UPLOAD_BYTES

	// Optional MinIO/S3 archive of uploaded files. Disabled when MinioEndpoint is empty.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// RedisConfig configures the distributed limiter for the AI routes.
// Disabled when Addr is empty.
type RedisConfig struct {
	Addr         string        // REDIS_ADDR
	Password     string        // REDIS_PASSWORD
	AIRateLimit  int           // AI_RATE_LIMIT (requests per window per user)
	AIRateWindow time.Duration // AI_RATE_WINDOW
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // model calls can be slow
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	EnableGzip        bool

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB      DBConfig
	Auth    AuthConfig
	Gemini  GeminiConfig
	Storage StorageConfig
	Redis   RedisConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	MaxMessageRunes int // MAX_MESSAGE_RUNES, longest accepted send-message text

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load for main: an invalid environment is fatal.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and normalizes values. The
// error joins every malformed or invalid setting, not just the first.
func Load() (Config, error) {
	e := &env{}
	cfg := Config{
		Port:              e.str("PORT", "3000"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),
		EnableGzip:        e.bool("ENABLE_GZIP", true),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/")),

		DB: DBConfig{
			Driver:      strings.ToLower(e.str("DB_DRIVER", "sqlite")),
			Path:        e.str("DB_PATH", "bookworm.db"),
			URL:         e.str("DATABASE_URL", ""),
			Host:        e.str("DB_HOST", "localhost"),
			Port:        e.int("DB_PORT", 5432),
			User:        e.str("DB_USER", "postgres"),
			Password:    e.str("DB_PASS", ""),
			Name:        e.str("DB_NAME", "bookworm"),
			Synchronize: e.bool("DB_SYNCHRONIZE", true),
		},
		Auth: AuthConfig{
			JWTSecret: e.str("JWT_SECRET", ""),
			TokenTTL:  e.dur("JWT_TTL", time.Hour),
		},
		Gemini: GeminiConfig{
			APIKey:          e.str("GEMINI_API_KEY", ""),
			Model:           e.str("GEMINI_MODEL", "gemini-1.5-pro-latest"),
			MaxOutputTokens: e.int("MAX_OUTPUT_TOKENS", 1000),
		},
		Storage: StorageConfig{
			UploadDir:      e.str("UPLOAD_DIR", "uploads"),
			MaxUploadBytes: int64(e.int("MAX_UPLOAD_BYTES", 20<<20)),
			MinioEndpoint:  e.str("MINIO_ENDPOINT", ""),
			MinioAccessKey: e.str("MINIO_ACCESS_KEY", ""),
			MinioSecretKey: e.str("MINIO_SECRET_KEY", ""),
			MinioBucket:    e.str("MINIO_BUCKET", "bookworm-uploads"),
			MinioUseSSL:    e.bool("MINIO_USE_SSL", false),
		},
		Redis: RedisConfig{
			Addr:         e.str("REDIS_ADDR", ""),
			Password:     e.str("REDIS_PASSWORD", ""),
			AIRateLimit:  e.int("AI_RATE_LIMIT", 30),
			AIRateWindow: e.dur("AI_RATE_WINDOW", time.Minute),
		},

		RateRPS:   e.float("RATE_RPS", 5.0),
		RateBurst: e.int("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL:  e.dur("IDEMPOTENCY_TTL", 24*time.Hour),
		MaxMessageRunes: e.int("MAX_MESSAGE_RUNES", 4000),

		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "bookworm-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	cfg.normalize()
	return cfg, errors.Join(append(e.errs, cfg.problems()...)...)
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		c.GinMode = gin.ReleaseMode
	}
	switch c.DB.Driver {
	case "postgresql", "pg":
		c.DB.Driver = "postgres"
	}
}

// problems lists every semantic error in c.
func (c Config) problems() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		check(false, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	check(!blank(c.Port), "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(!blank(c.DB.Path), "DB_PATH must not be empty")
	case "postgres":
		check(c.DB.URL != "" || (!blank(c.DB.Host) && !blank(c.DB.Name)),
			"postgres requires DATABASE_URL or DB_HOST and DB_NAME")
		check(c.DB.Port > 0 && c.DB.Port <= 65535, "DB_PORT must be a valid port")
	default:
		check(false, "DB_DRIVER must be one of: sqlite, postgres")
	}

	check(!blank(c.Auth.JWTSecret), "JWT_SECRET must not be empty")
	check(c.Auth.TokenTTL > 0, "JWT_TTL must be > 0")
	check(!blank(c.Gemini.Model), "GEMINI_MODEL must not be empty")
	check(c.Gemini.MaxOutputTokens > 0, "MAX_OUTPUT_TOKENS must be > 0")
	check(!blank(c.Storage.UploadDir), "UPLOAD_DIR must not be empty")
	check(c.Storage.MaxUploadBytes > 0, "MAX_UPLOAD_BYTES must be > 0")
	check(c.Storage.MinioEndpoint == "" || !blank(c.Storage.MinioBucket),
		"MINIO_BUCKET must not be empty when MINIO_ENDPOINT is set")
	check(c.Redis.Addr == "" || (c.Redis.AIRateLimit > 0 && c.Redis.AIRateWindow > 0),
		"AI_RATE_LIMIT and AI_RATE_WINDOW must be > 0")
	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.MaxMessageRunes > 0, "MAX_MESSAGE_RUNES must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// env reads typed variables. Unset or empty variables take the default;
// malformed ones take it too and are recorded in errs.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	return v, ok && v != ""
}

func (e *env) bad(k, v, kind string) {
	e.errs = append(e.errs, fmt.Errorf("%s: %q is not a valid %s", k, v, kind))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) int(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.bad(k, v, "integer")
		return def
	}
	return i
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.bad(k, v, "number")
		return def
	}
	return f
}

func (e *env) bool(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.bad(k, v, "boolean")
	return def
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.bad(k, v, "duration")
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath returns p with a leading slash and no trailing one; the
// root stays "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
