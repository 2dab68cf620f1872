package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookworm-backend/internal/utils"
)

// HeaderIdempotencyKey carries the client's retry key for send-message.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemKeyMaxLen = 200
)

var defaultIdemKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether the key has already produced a stored turn in
// this chat, so the handler should answer with it instead of asking the
// model again.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyOptions bounds what a client may send as a key. Zero values
// fall back to 200 characters of [A-Za-z0-9._~-:].
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether userID already has a live turn stored
// under key in chatID. Expiry is the lookup's job.
type IdempotencyLookup func(ctx context.Context, userID, chatID uint, key string, now time.Time) (bool, error)

// IdempotencyValidator accepts or rejects the Idempotency-Key header and,
// on send-message of an authenticated user, marks known keys as replays.
// Replays skip both rate limiters. A failing lookup is logged and the
// request proceeds as a fresh one.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemKeyMaxLen
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = defaultIdemKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if chatID, userID, ok := replayScope(c); ok {
				found, err := lookup(c.Request.Context(), userID, chatID, key, time.Now().UTC())
				switch {
				case err != nil:
					LoggerFrom(c).Warn().Err(err).Uint("chat_id", chatID).Msg("idempotency lookup failed")
				case found:
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}
		c.Next()
	}
}

// replayScope is the (chat, user) pair a key belongs to. Only send-message
// POSTs of a user on a positive numeric :id have one.
func replayScope(c *gin.Context) (chatID, userID uint, ok bool) {
	if c.Request.Method != http.MethodPost || !strings.HasSuffix(c.FullPath(), "/send-message") {
		return 0, 0, false
	}
	userID, ok = userIDFromCtx(c)
	if !ok {
		return 0, 0, false
	}
	chatID, err := utils.ParseID(c.Param("id"))
	if err != nil || chatID == 0 {
		return 0, 0, false
	}
	return chatID, userID, true
}

func userIDFromCtx(c *gin.Context) (uint, bool) {
	id, ok := c.Value(userIDKey).(uint)
	return id, ok && id != 0
}
