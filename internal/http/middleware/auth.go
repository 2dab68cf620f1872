// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. Routes are private by
// default; only the registered route patterns passed as public skip the
// check. Unmatched routes pass through so the router can answer 404.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookworm-backend/internal/auth"
)

const (
	principalKey = "principal"
	userIDKey    = "userID"
)

// TokenVerifier validates an access token and returns its identity.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Authenticate rejects requests without a valid "Authorization: Bearer"
// token, except for the route patterns listed in public (as reported by
// c.FullPath, e.g. "/docs/*any").
//
// On success the principal is stored in the Gin context (see PrincipalFrom),
// its id under "userID", and the request-scoped logger gains a user_id field.
func Authenticate(v TokenVerifier, public ...string) gin.HandlerFunc {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			c.Next()
			return
		}
		if _, ok := open[route]; ok {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		p, err := v.Verify(token)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(principalKey, p)
		c.Set(userIDKey, p.ID)

		lg := LoggerFrom(c).With().Uint("user_id", p.ID).Logger()
		attachLogger(c, &lg)

		c.Next()
	}
}

// PrincipalFrom returns the identity stored by Authenticate.
func PrincipalFrom(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok && p.ID != 0
}

func bearerToken(h string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="bookworm"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
