// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat
// aggregate (a chat together with its messages, files and prompts).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// Every read is filtered by the owning user in SQL, so a chat that exists
// but belongs to someone else is reported exactly like a missing one.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/bookworm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateChatWithMessages inserts chat and then each of chat.Messages (with
// their File and Prompt) inside a single transaction. Either the whole
// aggregate is stored or nothing is. IDs are written back into chat.
func CreateChatWithMessages(ctx context.Context, db *gorm.DB, chat *domain.Chat) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgs := chat.Messages
		if err := tx.Omit(clause.Associations).Create(chat).Error; err != nil {
			return err
		}
		for i := range msgs {
			msgs[i].ChatID = chat.ID
			if err := tx.Create(&msgs[i]).Error; err != nil {
				return err
			}
		}
		chat.Messages = msgs
		return nil
	})
}

// ListChats returns all chats belonging to userID in storage order, without
// their messages. It returns an empty slice if the user has no chats.
func ListChats(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Chat, error) {
	out := []domain.Chat{}
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// GetChat fetches a chat by id and owner with its messages (oldest first)
// and their files. Returns ErrNotFound when absent or owned by another user.
func GetChat(ctx context.Context, db *gorm.DB, id, userID uint) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Preload("Messages", func(q *gorm.DB) *gorm.DB { return q.Order("id ASC") }).
		Preload("Messages.File").
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	return &c, nil
}
