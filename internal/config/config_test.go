package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

// withSecret sets the only variable without a usable default.
func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	withSecret(t)
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_PanicsWithoutJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic when JWT_SECRET is missing")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	withSecret(t)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Defaults(t *testing.T) {
	withSecret(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "3000" || cfg.APIBasePath != "/" || !cfg.EnableGzip {
		t.Fatalf("server defaults unexpected: %+v", cfg)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "bookworm.db" || !cfg.DB.Synchronize {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("token ttl default = %v, want 1h", cfg.Auth.TokenTTL)
	}
	if cfg.Gemini.Model != "gemini-1.5-pro-latest" || cfg.Gemini.MaxOutputTokens != 1000 {
		t.Fatalf("gemini defaults unexpected: %+v", cfg.Gemini)
	}
	if cfg.Storage.UploadDir != "uploads" || cfg.Storage.MaxUploadBytes != 20<<20 || cfg.Storage.MinioEndpoint != "" {
		t.Fatalf("storage defaults unexpected: %+v", cfg.Storage)
	}
	if cfg.Redis.Addr != "" || cfg.Redis.AIRateLimit != 30 || cfg.Redis.AIRateWindow != time.Minute {
		t.Fatalf("redis defaults unexpected: %+v", cfg.Redis)
	}
	if cfg.MaxMessageRunes != 4000 {
		t.Fatalf("max message runes default = %d", cfg.MaxMessageRunes)
	}
}

func TestLoad_Success_Overrides(t *testing.T) {
	withSecret(t)
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"
	t.Setenv("ENABLE_GZIP", "off")

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // -> "/api/v1"

	// DB
	t.Setenv("DB_DRIVER", "PostgreSQL")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_USER", "worm")
	t.Setenv("DB_PASS", "pw")
	t.Setenv("DB_NAME", "books")
	t.Setenv("DB_SYNCHRONIZE", "false")

	// Auth / model / storage
	t.Setenv("JWT_TTL", "2h")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("GEMINI_MODEL", "gemini-pro")
	t.Setenv("MAX_OUTPUT_TOKENS", "256")
	t.Setenv("UPLOAD_DIR", "/tmp/up")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_BUCKET", "pdfs")
	t.Setenv("MINIO_USE_SSL", "1")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("AI_RATE_LIMIT", "5")
	t.Setenv("AI_RATE_WINDOW", "10s")

	t.Setenv("RATE_RPS", "2.5")
	t.Setenv("RATE_BURST", " 4 ")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("IDEMPOTENCY_TTL", "48h")
	t.Setenv("MAX_MESSAGE_RUNES", "120")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" ||
		cfg.EnableGzip {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	wantDB := DBConfig{
		Driver: "postgres", Path: "bookworm.db", Host: "db", Port: 6543,
		User: "worm", Password: "pw", Name: "books", Synchronize: false,
	}
	if cfg.DB != wantDB {
		t.Fatalf("db unexpected: %+v", cfg.DB)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour || cfg.Gemini.APIKey != "k" || cfg.Gemini.Model != "gemini-pro" || cfg.Gemini.MaxOutputTokens != 256 {
		t.Fatalf("auth/gemini unexpected: %+v %+v", cfg.Auth, cfg.Gemini)
	}
	if cfg.Storage.UploadDir != "/tmp/up" || cfg.Storage.MaxUploadBytes != 1024 ||
		cfg.Storage.MinioEndpoint != "minio:9000" || cfg.Storage.MinioBucket != "pdfs" || !cfg.Storage.MinioUseSSL {
		t.Fatalf("storage unexpected: %+v", cfg.Storage)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.AIRateLimit != 5 || cfg.Redis.AIRateWindow != 10*time.Second {
		t.Fatalf("redis unexpected: %+v", cfg.Redis)
	}
	if cfg.RateRPS != 2.5 || cfg.RateBurst != 4 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}
	if cfg.MaxMessageRunes != 120 {
		t.Fatalf("max message runes = %d", cfg.MaxMessageRunes)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"postgres without host", map[string]string{"DB_DRIVER": "postgres", "DB_HOST": " "}, "DATABASE_URL"},
		{"postgres bad port", map[string]string{"DB_DRIVER": "postgres", "DB_PORT": "70000"}, "DB_PORT"},
		{"empty JWT_SECRET", map[string]string{"JWT_SECRET": " "}, "JWT_SECRET"},
		{"non-positive JWT_TTL", map[string]string{"JWT_TTL": "0s"}, "JWT_TTL"},
		{"non-positive MAX_OUTPUT_TOKENS", map[string]string{"MAX_OUTPUT_TOKENS": "0"}, "MAX_OUTPUT_TOKENS"},
		{"empty UPLOAD_DIR", map[string]string{"UPLOAD_DIR": " "}, "UPLOAD_DIR"},
		{"non-positive MAX_UPLOAD_BYTES", map[string]string{"MAX_UPLOAD_BYTES": "-1"}, "MAX_UPLOAD_BYTES"},
		{"minio without bucket", map[string]string{"MINIO_ENDPOINT": "m:9000", "MINIO_BUCKET": " "}, "MINIO_BUCKET"},
		{"redis bad limit", map[string]string{"REDIS_ADDR": "r:6379", "AI_RATE_LIMIT": "0"}, "AI_RATE_LIMIT"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl non-positive", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"max message runes non-positive", map[string]string{"MAX_MESSAGE_RUNES": "0"}, "MAX_MESSAGE_RUNES"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withSecret(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	withSecret(t)
	t.Setenv("RATE_RPS", "fast")
	t.Setenv("ENABLE_GZIP", "sometimes")
	t.Setenv("JWT_TTL", "an hour")
	t.Setenv("MAX_OUTPUT_TOKENS", "0")

	cfg, err := Load()
	for _, want := range []string{
		`RATE_RPS: "fast" is not a valid number`,
		`ENABLE_GZIP: "sometimes" is not a valid boolean`,
		`JWT_TTL: "an hour" is not a valid duration`,
		"MAX_OUTPUT_TOKENS must be > 0",
	} {
		if !containsErr(err, want) {
			t.Fatalf("error lacks %q: %v", want, err)
		}
	}
	// Malformed values still fall back to their defaults.
	if cfg.RateRPS != 5.0 || !cfg.EnableGzip || cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("defaults not applied: rps=%v gzip=%v ttl=%v", cfg.RateRPS, cfg.EnableGzip, cfg.Auth.TokenTTL)
	}
}

func TestEnv_Readers(t *testing.T) {
	t.Setenv("BW_EMPTY", "")
	t.Setenv("BW_STR", "val")
	t.Setenv("BW_INT", " 42 ")
	t.Setenv("BW_FLOAT", "0.25")
	t.Setenv("BW_DUR", "150ms")

	e := &env{}
	if e.str("BW_EMPTY", "d") != "d" || e.str("BW_STR", "d") != "val" || e.str("BW_UNSET", "d") != "d" {
		t.Fatalf("str readers unexpected")
	}
	if e.int("BW_INT", 0) != 42 || e.float("BW_FLOAT", 0) != 0.25 || e.dur("BW_DUR", 0) != 150*time.Millisecond {
		t.Fatalf("typed readers unexpected")
	}
	if len(e.errs) != 0 {
		t.Fatalf("unexpected errors: %v", e.errs)
	}

	t.Setenv("BW_INT", "x")
	t.Setenv("BW_DUR", "soon")
	if e.int("BW_INT", 7) != 7 || e.dur("BW_DUR", time.Second) != time.Second {
		t.Fatalf("malformed values must fall back to defaults")
	}
	if len(e.errs) != 2 {
		t.Fatalf("errs = %v, want 2", e.errs)
	}
}

func TestEnv_Bool(t *testing.T) {
	e := &env{}
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on"} {
		k := "BW_T_" + strconv.Itoa(i)
		t.Setenv(k, v)
		if !e.bool(k, false) {
			t.Fatalf("bool(%q) = false", v)
		}
	}
	for i, v := range []string{"0", "false", " no ", "N", "Off"} {
		k := "BW_F_" + strconv.Itoa(i)
		t.Setenv(k, v)
		if e.bool(k, true) {
			t.Fatalf("bool(%q) = true", v)
		}
	}
	t.Setenv("BW_B_EMPTY", "")
	if !e.bool("BW_B_EMPTY", true) || len(e.errs) != 0 {
		t.Fatalf("empty must take the default without error")
	}
	t.Setenv("BW_B_BAD", "maybe")
	if !e.bool("BW_B_BAD", true) || len(e.errs) != 1 {
		t.Fatalf("malformed bool: errs=%v", e.errs)
	}
}

func TestSplitCSVAndBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" https://a.com, ,http://b ,"); !reflect.DeepEqual(got, []string{"https://a.com", "http://b"}) {
		t.Fatalf("splitCSV mismatch: %#v", got)
	}
	for in, want := range map[string]string{"": "/", "api": "/api", "/api/v1/": "/api/v1", " / ": "/", "//v1//": "/v1"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("DB_DRIVER")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
