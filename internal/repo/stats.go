// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for weak
// ETag generation in the HTTP layer.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/bookworm-backend/internal/domain"
)

type statsRow struct {
	Count int64
	MaxID uint
}

// ChatsStats returns the number of chats owned by userID and the highest
// chat id among them. Chats are immutable once created, so the pair changes
// exactly when the list does.
func ChatsStats(ctx context.Context, db *gorm.DB, userID uint) (count int64, maxID uint, err error) {
	var row statsRow
	err = db.WithContext(ctx).
		Model(&domain.Chat{}).
		Select("COUNT(*) AS count, COALESCE(MAX(id), 0) AS max_id").
		Where("user_id = ?", userID).
		Scan(&row).Error
	return row.Count, row.MaxID, err
}

// MessagesStats returns the number of messages in chatID and the highest
// message id, counting only chats owned by userID. Messages are append-only.
func MessagesStats(ctx context.Context, db *gorm.DB, chatID, userID uint) (count int64, maxID uint, err error) {
	var row statsRow
	err = db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("COUNT(*) AS count, COALESCE(MAX(messages.id), 0) AS max_id").
		Joins("JOIN chats ON chats.id = messages.chat_id").
		Where("messages.chat_id = ? AND chats.user_id = ?", chatID, userID).
		Scan(&row).Error
	return row.Count, row.MaxID, err
}
