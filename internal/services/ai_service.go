// Package services – AIService
//
// This file implements AIService, the only component with domain logic in
// the chat flow. It turns an uploaded PDF into a summary chat, and continues
// a chat by rebuilding the model history from stored turns before every
// call, since the model provider keeps no state between calls.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include chat/user identifiers. Model calls are logged through the
// request-scoped logger found on the context.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/bookworm-backend/internal/ai"
	"github.com/tbourn/bookworm-backend/internal/domain"
	"github.com/tbourn/bookworm-backend/internal/repo"
)

// DefaultMaxOutputTokens bounds every model reply unless overridden.
const DefaultMaxOutputTokens = 1000

const summaryPromptPrefix = "I will send you the text content of a pdf file, I want that you generate a summary of it. " +
	"The summary must have a max of 2000 characteres:\n\nThe pdf text content is the following:\n\n"

// SummaryPrompt builds the prompt sent to the model for a document.
func SummaryPrompt(text string) string { return summaryPromptPrefix + text }

// ChatStore defines the repository contract required by AIService.
type ChatStore interface {
	// CreateChatWithMessages stores a chat and its messages in one transaction.
	CreateChatWithMessages(ctx context.Context, db *gorm.DB, chat *domain.Chat) error
	// ListChats returns the user's chats without messages.
	ListChats(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Chat, error)
	// GetChat returns an owned chat with its messages, or repo.ErrNotFound.
	GetChat(ctx context.Context, db *gorm.DB, id, userID uint) (*domain.Chat, error)
	// ListChatMessages returns an owned chat's messages with prompts loaded.
	ListChatMessages(ctx context.Context, db *gorm.DB, chatID, userID uint) ([]domain.Message, error)
	// AppendTurn stores a user/model message pair in order.
	AppendTurn(ctx context.Context, db *gorm.DB, chatID uint, userMsg, modelMsg *domain.Message) error
}

// TextExtractor returns the text content of a document on disk.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Archiver copies an uploaded file to durable storage and returns its URI.
type Archiver interface {
	Archive(ctx context.Context, localPath, contentType string) (string, error)
}

// Upload describes a file received by the upload layer.
type Upload struct {
	Path     string // where the upload was spooled
	Name     string // client-supplied file name
	MimeType string
}

// AIService coordinates document summaries and chat turns.
type AIService struct {
	DB        *gorm.DB
	Store     ChatStore
	Model     ai.Model
	Extractor TextExtractor

	// Archiver is optional. When set, File.URI points at the archived copy.
	Archiver Archiver

	MaxOutputTokens int32
	// MaxTextRunes caps the text of a sent message. Zero disables the check.
	MaxTextRunes int
}

func (s *AIService) maxTokens() int32 {
	if s.MaxOutputTokens > 0 {
		return s.MaxOutputTokens
	}
	return DefaultMaxOutputTokens
}

// SummarizeFile extracts the text of up, asks the model for a summary, and
// stores a new chat holding the user turn (with its File and Prompt) and the
// model turn. The stored chat is reloaded and returned.
func (s *AIService) SummarizeFile(ctx context.Context, userID uint, up Upload) (*domain.Chat, error) {
	ctx, span := otel.Tracer("services/AIService").Start(ctx, "SummarizeFile",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(userID)),
			attribute.String("file.name", up.Name),
		),
	)
	defer span.End()
	lg := loggerFrom(ctx)

	text, err := s.Extractor.Extract(ctx, up.Path)
	if err != nil {
		span.SetStatus(codes.Error, "extract")
		return nil, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	prompt := SummaryPrompt(text)
	start := time.Now()
	reply, err := s.Model.Chat(ctx, ai.Request{Message: prompt, MaxOutputTokens: s.maxTokens()})
	if err != nil {
		span.SetStatus(codes.Error, "model")
		lg.Error().Err(err).Uint("user_id", userID).Msg("summary model call failed")
		return nil, fmt.Errorf("model: %w", err)
	}
	lg.Info().
		Uint("user_id", userID).
		Int("text_len", len(text)).
		Int("reply_len", len(reply)).
		Dur("model_latency", time.Since(start)).
		Msg("document summarized")

	uri := up.Path
	if s.Archiver != nil {
		if u, err := s.Archiver.Archive(ctx, up.Path, up.MimeType); err != nil {
			lg.Warn().Err(err).Str("path", up.Path).Msg("archive upload failed; keeping local uri")
		} else {
			uri = u
		}
	}

	chat := &domain.Chat{
		UserID: userID,
		Messages: []domain.Message{
			{
				Role:   domain.RoleUser,
				Prompt: &domain.Prompt{Text: prompt},
				File: &domain.File{
					Name:     up.Name,
					MimeType: up.MimeType,
					URI:      uri,
					Content:  text,
				},
			},
			{Role: domain.RoleModel, Text: &reply},
		},
	}
	if err := s.Store.CreateChatWithMessages(ctx, s.DB, chat); err != nil {
		span.SetStatus(codes.Error, "persist")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("chat.id", int64(chat.ID)))

	return s.Store.GetChat(ctx, s.DB, chat.ID, userID)
}

// GetChats returns every chat owned by userID, without messages.
func (s *AIService) GetChats(ctx context.Context, userID uint) ([]domain.Chat, error) {
	ctx, span := otel.Tracer("services/AIService").Start(ctx, "GetChats",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()
	return s.Store.ListChats(ctx, s.DB, userID)
}

// GetChat returns an owned chat with its messages or ErrChatNotFound.
func (s *AIService) GetChat(ctx context.Context, userID, chatID uint) (*domain.Chat, error) {
	ctx, span := otel.Tracer("services/AIService").Start(ctx, "GetChat",
		trace.WithAttributes(
			attribute.Int64("chat.id", int64(chatID)),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()

	c, err := s.Store.GetChat(ctx, s.DB, chatID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	return c, err
}

// SendMessage continues an owned chat. The stored turns are replayed to the
// model as history, then text is sent. The user turn and the model reply are
// appended to the chat and the stored model message is returned.
//
// A chat with no visible messages for userID yields ErrChatNotFound and
// nothing is written.
func (s *AIService) SendMessage(ctx context.Context, userID, chatID uint, text string) (*domain.Message, error) {
	ctx, span := otel.Tracer("services/AIService").Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.Int64("chat.id", int64(chatID)),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()
	lg := loggerFrom(ctx)

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return nil, ErrTooLong
	}

	msgs, err := s.Store.ListChatMessages(ctx, s.DB, chatID, userID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrChatNotFound
	}
	history := BuildHistory(msgs)
	span.SetAttributes(attribute.Int("history.len", len(history)))

	start := time.Now()
	reply, err := s.Model.Chat(ctx, ai.Request{
		History:         history,
		Message:         text,
		MaxOutputTokens: s.maxTokens(),
	})
	if err != nil {
		span.SetStatus(codes.Error, "model")
		lg.Error().Err(err).Uint("chat_id", chatID).Msg("chat model call failed")
		return nil, fmt.Errorf("model: %w", err)
	}
	lg.Info().
		Uint("chat_id", chatID).
		Int("history_len", len(history)).
		Dur("model_latency", time.Since(start)).
		Msg("chat turn answered")

	userMsg := &domain.Message{Role: domain.RoleUser, Text: &text}
	modelMsg := &domain.Message{Role: domain.RoleModel, Text: &reply}
	if err := s.Store.AppendTurn(ctx, s.DB, chatID, userMsg, modelMsg); err != nil {
		span.SetStatus(codes.Error, "persist")
		return nil, err
	}
	return modelMsg, nil
}

// BuildHistory maps stored messages one-to-one onto model history turns.
// Each turn keeps the stored role; its parts are the message text and then
// the prompt text, each only when present.
func BuildHistory(msgs []domain.Message) []ai.Content {
	out := make([]ai.Content, 0, len(msgs))
	for _, m := range msgs {
		parts := make([]string, 0, 2)
		if m.Text != nil && *m.Text != "" {
			parts = append(parts, *m.Text)
		}
		if m.Prompt != nil {
			parts = append(parts, m.Prompt.Text)
		}
		out = append(out, ai.Content{Role: string(m.Role), Parts: parts})
	}
	return out
}

// loggerFrom returns the request-scoped logger on ctx, or the global one.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
