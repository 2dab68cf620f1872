package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// serveSecured runs one GET through SecurityHeaders. pre runs first, the
// way RequestID and CORS do in the router.
func serveSecured(t *testing.T, opt SecurityOptions, pre gin.HandlerFunc, req *http.Request, h gin.HandlerFunc) http.Header {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	if h == nil {
		h = func(c *gin.Context) { c.Status(http.StatusOK) }
	}
	r.GET("/ai/chats", h)
	if req == nil {
		req = httptest.NewRequest(http.MethodGet, "/ai/chats", nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecured(t, SecurityOptions{}, nil, nil, nil)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
	for _, k := range []string{"Permissions-Policy", "Cache-Control", "Strict-Transport-Security", hdrExpose} {
		if h.Get(k) != "" {
			t.Fatalf("%s must be unset by default, got %q", k, h.Get(k))
		}
	}
}

func TestSecurityHeaders_Options(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ai/chats", nil)
	req.TLS = &tls.ConnectionState{}

	h := serveSecured(t, SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		CacheControl: "no-store",
		EnablePolicy: true,
	}, nil, req, nil)

	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
	if h.Get("Cache-Control") != "no-store" {
		t.Fatalf("Cache-Control = %q", h.Get("Cache-Control"))
	}
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("policy headers missing: %v", h)
	}
}

func TestSecurityHeaders_HSTSDefaultsAndPlainHTTP(t *testing.T) {
	opt := SecurityOptions{EnableHSTS: true}

	if got := serveSecured(t, opt, nil, nil, nil).Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS sent over plain HTTP: %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/ai/chats", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	if got := serveSecured(t, opt, nil, req, nil).Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains; preload" {
		t.Fatalf("HSTS behind proxy = %q", got)
	}
}

func TestSecurityHeaders_HandlerOverridesCacheControl(t *testing.T) {
	h := serveSecured(t, SecurityOptions{CacheControl: "no-store"}, nil, nil, func(c *gin.Context) {
		c.Header("Cache-Control", "private, no-cache")
		c.Status(http.StatusOK)
	})
	if got := h.Get("Cache-Control"); got != "private, no-cache" {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestSecurityHeaders_ExposeHeaders(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		expose   []string
		want     string
	}{
		{"request id only", "", nil, "X-Request-ID"},
		{"appends to cors list", "Content-Length", []string{"ETag"}, "Content-Length, X-Request-ID, ETag"},
		{"no duplicates, any case", "x-request-id, etag", []string{"ETag", "Idempotency-Replayed"}, "x-request-id, etag, Idempotency-Replayed"},
		{"prefix is not a match", "X-ETag-Version", []string{"ETag"}, "X-ETag-Version, X-Request-ID, ETag"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pre := func(c *gin.Context) {
				c.Header(requestIDHeader, "rid-1")
				if tc.existing != "" {
					c.Header(hdrExpose, tc.existing)
				}
				c.Next()
			}
			h := serveSecured(t, SecurityOptions{ExposeHeaders: tc.expose}, pre, nil, nil)
			if got := h.Get(hdrExpose); got != tc.want {
				t.Fatalf("expose = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsHTTPS(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	direct := httptest.NewRequest(http.MethodGet, "/", nil)
	direct.TLS = &tls.ConnectionState{}
	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")

	if isHTTPS(plain) || !isHTTPS(direct) || !isHTTPS(proxied) {
		t.Fatalf("isHTTPS: plain=%v direct=%v proxied=%v", isHTTPS(plain), isHTTPS(direct), isHTTPS(proxied))
	}
}
