// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/bookworm-backend/internal/domain"
)

// ListChatMessages returns the messages of chatID ordered by id, with Prompt
// and File loaded, but only when the chat is owned by userID. A foreign or
// missing chat yields an empty slice.
func ListChatMessages(ctx context.Context, db *gorm.DB, chatID, userID uint) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Select("messages.*").
		Joins("JOIN chats ON chats.id = messages.chat_id").
		Where("messages.chat_id = ? AND chats.user_id = ?", chatID, userID).
		Preload("Prompt").
		Preload("File").
		Order("messages.id ASC").
		Find(&out).Error
	return out, err
}

// AppendTurn stores userMsg and then modelMsg under chatID in one
// transaction. The writes are issued sequentially so ids follow turn order.
func AppendTurn(ctx context.Context, db *gorm.DB, chatID uint, userMsg, modelMsg *domain.Message) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userMsg.ChatID = chatID
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		modelMsg.ChatID = chatID
		return tx.Create(modelMsg).Error
	})
}

// GetMessage fetches a message by id with its file.
func GetMessage(ctx context.Context, db *gorm.DB, id uint) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Preload("File").First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
