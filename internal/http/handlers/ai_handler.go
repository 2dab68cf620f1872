// AI HTTP handlers.
//
// This file exposes the authenticated document and chat endpoints:
//   - POST /ai/summarize-file              (upload a PDF, get a summary chat)
//   - GET  /ai/chats                       (list own chats, ETag support)
//   - GET  /ai/chats/{id}                  (one chat with its messages, ETag support)
//   - POST /ai/chats/{id}/send-message     (continue a chat, idempotent retries)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, chat, key), the handler returns that recorded
// model message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookworm-backend/internal/domain"
	"github.com/tbourn/bookworm-backend/internal/http/middleware"
	"github.com/tbourn/bookworm-backend/internal/repo"
	"github.com/tbourn/bookworm-backend/internal/services"
	"github.com/tbourn/bookworm-backend/internal/utils"
)

// HeaderReplayed marks a send-message response served from an earlier
// request with the same Idempotency-Key.
const HeaderReplayed = "Idempotency-Replayed"

const (
	pdfMIME         = "application/pdf"
	revalidateCache = "private, no-cache"
)

//
// DTOs
//

// ChatSummary is one entry of the chat list.
type ChatSummary struct {
	ID   uint      `json:"id" example:"12"`
	Date time.Time `json:"date"`
}

// SendMessageRequest is the JSON payload for continuing a chat.
type SendMessageRequest struct {
	// Text is the user message. It must contain visible characters.
	Text string `json:"text" binding:"required" example:"Who is the narrator?"`
}

// ChatRef identifies the chat a message belongs to.
type ChatRef struct {
	ID uint `json:"id" example:"12"`
}

// MessageResponse is the stored model message plus a reference to its chat.
type MessageResponse struct {
	*domain.Message
	Chat ChatRef `json:"chat"`
}

//
// Handlers
//

// SummarizeFile godoc
// @ID          summarizeFile
// @Summary     Summarize a PDF
// @Description Uploads a PDF, extracts its text, asks the model for a summary and
// @Description stores both turns in a new chat.
// @Tags        AI
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       file  formData  file  true  "PDF document"
// @Success     200   {object}  domain.Chat
// @Failure     400   {object}  handlers.ErrorResponse  "Missing file or not a PDF"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     413   {object}  handlers.ErrorResponse  "File too large"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ai/summarize-file [post]
func (h *Handlers) SummarizeFile(c *gin.Context) {
	uid, authed := currentUser(c)
	if !authed {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" is required")
		return
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, fmt.Sprintf("file too large: max %d bytes", h.MaxUploadBytes))
		return
	}

	// The declared type and the content must both say PDF.
	declared := fh.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(declared), "pdf") {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "only PDF files are accepted")
		return
	}
	f, err := fh.Open()
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeSummarizeFailed, "could not read upload")
		return
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil || !mt.Is(pdfMIME) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "only PDF files are accepted")
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeSummarizeFailed, "could not read upload")
		return
	}

	path, err := h.uploads.Save(fh.Filename, f)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeSummarizeFailed, "could not store upload")
		return
	}

	chat, err := h.aiSvc.SummarizeFile(c.Request.Context(), uid, services.Upload{
		Path:     path,
		Name:     fh.Filename,
		MimeType: declared,
	})
	if err != nil {
		if rmErr := h.uploads.Remove(path); rmErr != nil {
			middleware.LoggerFrom(c).Warn().Err(rmErr).Msg("remove upload after failed summary")
		}
		if errors.Is(err, services.ErrEmptyDocument) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "the PDF has no extractable text")
			return
		}
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeSummarizeFailed, "could not summarize file")
		return
	}

	ok(c, http.StatusOK, chat)
}

// GetChats godoc
// @ID          getChats
// @Summary     List chats
// @Description Returns the caller's chats (id and creation date), oldest first.
// @Tags        AI
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"chats:1:3:9\")
// @Success     200  {array}   handlers.ChatSummary
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ai/chats [get]
func (h *Handlers) GetChats(c *gin.Context) {
	ctx := c.Request.Context()
	uid, authed := currentUser(c)
	if !authed {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	// ETag pre-check (best effort).
	if h.DB != nil {
		if count, maxID, err := repo.ChatsStats(ctx, h.DB, uid); err == nil {
			if notModified(c, fmt.Sprintf(`W/"chats:%d:%d:%d"`, uid, count, maxID)) {
				return
			}
		}
	}

	chats, err := h.aiSvc.GetChats(ctx, uid)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list chats")
		return
	}

	out := make([]ChatSummary, 0, len(chats))
	for _, ch := range chats {
		out = append(out, ChatSummary{ID: ch.ID, Date: ch.CreatedAt})
	}
	ok(c, http.StatusOK, out)
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Description Returns one of the caller's chats with its messages in order.
// @Tags        AI
// @Produce     json
// @Security    BearerAuth
// @Param       id             path    int     true   "Chat ID"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  domain.Chat
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Non-numeric id"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ai/chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	ctx := c.Request.Context()
	uid, authed := currentUser(c)
	if !authed {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}
	chatID, err := utils.ParseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be an integer")
		return
	}

	// A chat always holds messages, so an empty count means absent and is
	// left for the service to report.
	if h.DB != nil {
		if count, maxID, err := repo.MessagesStats(ctx, h.DB, chatID, uid); err == nil && count > 0 {
			if notModified(c, fmt.Sprintf(`W/"chat:%d:%d:%d"`, chatID, count, maxID)) {
				return
			}
		}
	}

	chat, err := h.aiSvc.GetChat(ctx, uid, chatID)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
			return
		}
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load chat")
		return
	}

	ok(c, http.StatusOK, chat)
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Appends a user message to the chat and returns the model reply.
// @Description The whole chat history is sent to the model with every message.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        AI
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    int     true   "Chat ID"
// @Param       body             body    handlers.SendMessageRequest  true  "User message"
// @Success     200  {object}  handlers.MessageResponse  "Model reply"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ai/chats/{id}/send-message [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	uid, authed := currentUser(c)
	if !authed {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}
	chatID, err := utils.ParseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be an integer")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text is required")
		return
	}

	// Idempotency (replay path).
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey && middleware.IsReplay(c) && h.DB != nil {
		if rec, err := repo.GetIdempotency(ctx, h.DB, uid, chatID, idemKey, time.Now().UTC()); err == nil {
			if prev, err := repo.GetMessage(ctx, h.DB, rec.MessageID); err == nil {
				c.Header(HeaderReplayed, "true")
				ok(c, http.StatusOK, MessageResponse{Message: prev, Chat: ChatRef{ID: chatID}})
				return
			}
		}
	}

	m, err := h.aiSvc.SendMessage(ctx, uid, chatID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChatNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		case errors.Is(err, services.ErrEmptyText):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text is required")
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text too long")
		default:
			_ = c.Error(err)
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, "could not send message")
		}
		return
	}

	// Idempotency (store path), best effort.
	if hasKey && h.DB != nil {
		if _, err := repo.CreateIdempotency(ctx, h.DB, uid, chatID, idemKey, m.ID, http.StatusOK, h.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}

	ok(c, http.StatusOK, MessageResponse{Message: m, Chat: ChatRef{ID: chatID}})
}

//
// Helpers
//

// notModified sets the ETag and answers 304 when If-None-Match carries it.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	c.Header("Cache-Control", revalidateCache)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// isBodyTooLarge reports whether err comes from an http.MaxBytesReader cap.
func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
