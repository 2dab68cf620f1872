package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const redacted = "[REDACTED]"

// Order matters: the phone pattern would otherwise eat UUID segments.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

// scrub replaces emails, phone numbers and UUIDs in s.
func scrub(s string) string {
	for _, r := range redactions {
		if s == "" {
			break
		}
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

// RedactOptions extends what RedactingLogger hides or skips.
type RedactOptions struct {
	// MaskHeaders are replaced wholesale, on top of Authorization, Cookie
	// and Set-Cookie. Case-insensitive.
	MaskHeaders []string
	// SkipPaths are served without an access log line, e.g. probes.
	SkipPaths []string
}

// RedactingLogger installs the request-scoped logger (request_id, method,
// route, and trace_id when otelgin started a span) and writes one access line per request once it completes: info for
// 2xx/3xx, warn for 4xx, error for 5xx or when handlers attached errors.
// Bodies are never logged; the query and header values are scrubbed.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]bool{"authorization": true, "cookie": true, "set-cookie": true}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = true
		}
	}
	skip := make(map[string]bool, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := log.With().
			Str("request_id", c.Writer.Header().Get(requestIDHeader)).
			Str("method", c.Request.Method).
			Str("path", path)
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			fields = fields.Str("trace_id", sc.TraceID().String())
		}
		reqLog := fields.Logger()
		attachLogger(c, &reqLog)

		c.Next()

		status := c.Writer.Status()
		if skip[path] && status < 500 {
			return
		}

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if masked[strings.ToLower(k)] {
				headers[k] = redacted
				continue
			}
			headers[k] = scrub(strings.Join(vv, ", "))
		}

		// Authenticate may have swapped in a logger with user_id.
		lg := LoggerFrom(c)
		ev := lg.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		}
		ev.Str("query", truncate(scrub(c.Request.URL.RawQuery), maxQueryLogLength)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
