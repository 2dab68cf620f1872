package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultHSTSMaxAge = 180 * 24 * time.Hour
	hdrExpose         = "Access-Control-Expose-Headers"
)

// SecurityOptions selects the optional headers SecurityHeaders adds.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests only.
	// Leave it off unless the proxy-to-app hop is TLS as well.
	EnableHSTS bool
	HSTSMaxAge time.Duration // 180 days when <= 0

	// CacheControl, when set, is the default Cache-Control of every
	// response. Handlers may override it, e.g. for ETag-validated reads.
	CacheControl string

	// EnablePolicy adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool

	// ExposeHeaders are made readable to browsers, next to X-Request-ID.
	ExposeHeaders []string
}

// SecurityHeaders hardens JSON responses. nosniff, frame denial and
// no-referrer are always sent; the rest follows opt.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.CacheControl != "" {
			h.Set("Cache-Control", opt.CacheControl)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}
		for _, name := range opt.ExposeHeaders {
			exposeHeader(h, name)
		}
		c.Next()
	}
}

// isHTTPS trusts X-Forwarded-Proto; the server only listens behind a proxy.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// exposeHeader adds name to Access-Control-Expose-Headers unless an entry
// already names it (case-insensitive).
func exposeHeader(h http.Header, name string) {
	cur := h.Get(hdrExpose)
	if cur == "" {
		h.Set(hdrExpose, name)
		return
	}
	for _, v := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return
		}
	}
	h.Set(hdrExpose, cur+", "+name)
}
