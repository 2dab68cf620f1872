// Package handlers implements the HTTP endpoints of the public API.
//
// Handlers are transport-thin: they validate and normalize input, resolve
// the authenticated user, call application services, and translate results
// into HTTP responses (including conditional and replayed responses).
package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/bookworm-backend/internal/domain"
	"github.com/tbourn/bookworm-backend/internal/http/middleware"
	"github.com/tbourn/bookworm-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// AuthService defines account operations consumed by the auth endpoints.
type AuthService interface {
	// SignUp registers a new account and returns an access token for it.
	SignUp(ctx context.Context, email, password string) (string, error)
	// Authenticate checks credentials and returns an access token.
	Authenticate(ctx context.Context, email, password string) (string, error)
}

// AIService defines the document and chat operations behind /ai.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AIService interface {
	SummarizeFile(ctx context.Context, userID uint, up services.Upload) (*domain.Chat, error)
	GetChats(ctx context.Context, userID uint) ([]domain.Chat, error)
	GetChat(ctx context.Context, userID, chatID uint) (*domain.Chat, error)
	SendMessage(ctx context.Context, userID, chatID uint, text string) (*domain.Message, error)
}

// Uploads spools multipart files to disk before they are processed.
type Uploads interface {
	Save(name string, r io.Reader) (string, error)
	Remove(path string) error
}

//
// Handler wiring
//

// Handlers groups the auth and AI endpoints.
type Handlers struct {
	authSvc AuthService
	aiSvc   AIService
	uploads Uploads

	// DB enables ETags and Idempotency-Key replays. Both are skipped when nil.
	DB *gorm.DB
	// IdempotencyTTL is how long a stored send-message reply can be replayed.
	IdempotencyTTL time.Duration
	// MaxUploadBytes rejects larger files with 413. Zero disables the check.
	MaxUploadBytes int64
}

// New constructs and returns a Handlers instance bound to the given services.
func New(authSvc AuthService, aiSvc AIService, uploads Uploads) *Handlers {
	return &Handlers{authSvc: authSvc, aiSvc: aiSvc, uploads: uploads, IdempotencyTTL: 24 * time.Hour}
}

// currentUser returns the id of the authenticated caller.
func currentUser(c *gin.Context) (uint, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return 0, false
	}
	return p.ID, true
}
